package metric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/soltixdb/morgoth/internal/config"
	"github.com/soltixdb/morgoth/internal/logging"
)

// record is the value stored per metric
type record struct {
	Metric  string    `json:"metric"`
	AddedAt time.Time `json:"added_at"`
}

// EtcdRegistry persists the tracked set in etcd under a prefix and mirrors
// it into a Manager. Every detector instance sharing the prefix tracks the
// same metrics.
type EtcdRegistry struct {
	client  *clientv3.Client
	prefix  string
	manager *Manager
	logger  *logging.Logger
}

// NewEtcdRegistry connects to etcd
func NewEtcdRegistry(cfg config.EtcdConfig, prefix string, manager *Manager, logger *logging.Logger) (*EtcdRegistry, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return newEtcdRegistry(client, prefix, manager, logger), nil
}

func newEtcdRegistry(client *clientv3.Client, prefix string, manager *Manager, logger *logging.Logger) *EtcdRegistry {
	if prefix == "" {
		prefix = "/morgoth/metrics"
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &EtcdRegistry{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		manager: manager,
		logger:  logger.With("component", "etcd_registry"),
	}
}

func (r *EtcdRegistry) key(metric string) string {
	return path.Join(r.prefix, metric)
}

func (r *EtcdRegistry) metricFromKey(key string) string {
	return strings.TrimPrefix(key, r.prefix+"/")
}

// Track stores metric in etcd and adds it to the manager
func (r *EtcdRegistry) Track(ctx context.Context, metric string) error {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return fmt.Errorf("metric name is required")
	}

	data, err := json.Marshal(record{Metric: metric, AddedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal metric: %w", err)
	}

	if _, err := r.client.Put(ctx, r.key(metric), string(data)); err != nil {
		return fmt.Errorf("failed to store metric in etcd: %w", err)
	}

	_, err = r.manager.Add(metric)
	return err
}

// Untrack deletes metric from etcd and the manager
func (r *EtcdRegistry) Untrack(ctx context.Context, metric string) error {
	resp, err := r.client.Delete(ctx, r.key(metric))
	if err != nil {
		return fmt.Errorf("failed to delete metric from etcd: %w", err)
	}

	err = r.manager.Remove(metric)
	if resp.Deleted > 0 && errors.Is(err, ErrNotTracked) {
		return nil
	}
	return err
}

// List returns the tracked metrics
func (r *EtcdRegistry) List() []string {
	return r.manager.List()
}

// Load reads every stored metric into the manager and returns the revision
// the read was served at.
func (r *EtcdRegistry) Load(ctx context.Context) (int64, error) {
	resp, err := r.client.Get(ctx, r.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list metrics from etcd: %w", err)
	}

	for _, kv := range resp.Kvs {
		metric := r.metricFromKey(string(kv.Key))
		var rec record
		if err := json.Unmarshal(kv.Value, &rec); err == nil && rec.Metric != "" {
			metric = rec.Metric
		}
		if _, err := r.manager.Add(metric); err != nil {
			r.logger.Warn("Skipping invalid metric key", "key", string(kv.Key), "error", err)
		}
	}

	r.logger.Info("Loaded metrics from etcd", "count", len(resp.Kvs), "revision", resp.Header.Revision)
	return resp.Header.Revision, nil
}

// Run loads the stored metrics and then follows changes under the prefix
// until ctx is cancelled.
func (r *EtcdRegistry) Run(ctx context.Context) error {
	rev, err := r.Load(ctx)
	if err != nil {
		return err
	}
	return r.watch(ctx, rev+1)
}

func (r *EtcdRegistry) watch(ctx context.Context, fromRev int64) error {
	wch := r.client.Watch(ctx, r.prefix+"/", clientv3.WithPrefix(), clientv3.WithRev(fromRev))
	for resp := range wch {
		if err := resp.Err(); err != nil {
			return fmt.Errorf("etcd watch failed: %w", err)
		}
		for _, ev := range resp.Events {
			metric := r.metricFromKey(string(ev.Kv.Key))
			switch ev.Type {
			case clientv3.EventTypePut:
				if _, err := r.manager.Add(metric); err != nil {
					r.logger.Warn("Ignoring invalid metric", "key", string(ev.Kv.Key), "error", err)
				}
			case clientv3.EventTypeDelete:
				if err := r.manager.Remove(metric); err != nil && !errors.Is(err, ErrNotTracked) {
					r.logger.Warn("Failed to remove metric", "metric", metric, "error", err)
				}
			}
		}
	}
	return ctx.Err()
}

// Close closes the etcd client
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
