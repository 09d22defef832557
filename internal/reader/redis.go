package reader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soltixdb/morgoth/internal/analytics"
	"github.com/soltixdb/morgoth/internal/utils"
)

// scoreSlack widens score queries; float64 scores cannot hold unix nanos exactly
const scoreSlack = int64(time.Millisecond)

// RedisReader reads samples from sorted sets <prefix>:<metric>. Each member
// is "<unixnano>:<value>" scored by its unix nanos.
type RedisReader struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisReader creates a reader on an existing client. A positive
// retention trims older samples on every write.
func NewRedisReader(client *redis.Client, prefix string, retention time.Duration) *RedisReader {
	if prefix == "" {
		prefix = "morgoth:samples"
	}
	return &RedisReader{client: client, prefix: prefix, retention: retention}
}

// DialRedisReader connects to url and checks the connection
func DialRedisReader(url, prefix string, retention time.Duration) (*RedisReader, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisReader(client, prefix, retention), nil
}

func (r *RedisReader) key(metric string) string {
	return r.prefix + ":" + metric
}

func member(at int64, value float64) string {
	return strconv.FormatInt(at, 10) + ":" + strconv.FormatFloat(value, 'g', -1, 64)
}

func parseMember(m string) (int64, float64, error) {
	ts, val, ok := strings.Cut(m, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed sample %q", m)
	}
	at, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed sample time %q: %w", m, err)
	}
	value, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed sample value %q: %w", m, err)
	}
	return at, value, nil
}

// GetSamples returns the values of metric in [start, end), oldest first
func (r *RedisReader) GetSamples(ctx context.Context, metric string, start, end time.Time) ([]float64, error) {
	if err := validRange(start, end); err != nil {
		return nil, err
	}
	from, to := start.UnixNano(), end.UnixNano()

	members, err := r.client.ZRangeByScore(ctx, r.key(metric), &redis.ZRangeBy{
		Min: strconv.FormatInt(from-scoreSlack, 10),
		Max: strconv.FormatInt(to+scoreSlack, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read samples for %s: %w", metric, err)
	}

	values := make([]float64, 0, len(members))
	for _, m := range members {
		at, value, err := parseMember(m)
		if err != nil {
			return nil, fmt.Errorf("failed to read samples for %s: %w", metric, err)
		}
		if at < from || at >= to {
			continue
		}
		values = append(values, value)
	}
	return values, nil
}

// Write adds points to the metric sorted set and trims expired samples
func (r *RedisReader) Write(ctx context.Context, metric string, points analytics.TimeSeriesData) error {
	members := make([]redis.Z, 0, len(points))
	for _, p := range points {
		if !utils.IsFinite(p.Value) {
			continue
		}
		at := p.Time.UnixNano()
		members = append(members, redis.Z{Score: float64(at), Member: member(at, p.Value)})
	}
	if len(members) == 0 {
		return nil
	}

	key := r.key(metric)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, members...)
	if r.retention > 0 {
		cutoff := time.Now().Add(-r.retention).UnixNano()
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write samples for %s: %w", metric, err)
	}
	return nil
}

// Delete removes the metric sorted set
func (r *RedisReader) Delete(ctx context.Context, metric string) error {
	if err := r.client.Del(ctx, r.key(metric)).Err(); err != nil {
		return fmt.Errorf("failed to delete samples for %s: %w", metric, err)
	}
	return nil
}

// Close closes the client
func (r *RedisReader) Close() error {
	return r.client.Close()
}
