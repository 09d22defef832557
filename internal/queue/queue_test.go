package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricSubject(t *testing.T) {
	tests := []struct {
		prefix, metric, want string
	}{
		{"morgoth.verdicts", "cpu.user", "morgoth.verdicts.cpu.user"},
		{"morgoth.verdicts", "disk used /var", "morgoth.verdicts.disk_used__var"},
		{"morgoth.verdicts", ".leading.dot.", "morgoth.verdicts.leading.dot"},
		{"morgoth.verdicts", "", "morgoth.verdicts._"},
		{"", "mem-free", "mem-free"},
		{"p", "a*b>c", "p.a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			assert.Equal(t, tt.want, MetricSubject(tt.prefix, tt.metric))
		})
	}
}

func TestSubjectRoot(t *testing.T) {
	assert.Equal(t, "morgoth.verdicts", subjectRoot("morgoth.verdicts.cpu.user"))
	assert.Equal(t, "morgoth.samples", subjectRoot("morgoth.samples"))
	assert.Equal(t, "samples", subjectRoot("samples"))
	assert.Equal(t, "morgoth", subjectRoot("morgoth.>"))
	assert.Equal(t, "", subjectRoot("*"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "morgoth_verdicts_cpu-1", sanitizeName("morgoth.verdicts.cpu-1"))
	assert.Equal(t, "a___", sanitizeName("a.*>"))
}

func TestSubscriptions(t *testing.T) {
	s := newSubscriptions()

	ctx, err := s.add("a")
	require.NoError(t, err)
	assert.True(t, s.has("a"))

	_, err = s.add("a")
	assert.Error(t, err)

	require.NoError(t, s.remove("a"))
	assert.Error(t, ctx.Err())
	assert.False(t, s.has("a"))
	assert.Error(t, s.remove("a"))

	ctxB, _ := s.add("b")
	ctxC, _ := s.add("c")
	assert.ElementsMatch(t, []string{"b", "c"}, s.closeAll())
	assert.Error(t, ctxB.Err())
	assert.Error(t, ctxC.Err())
	assert.False(t, s.has("b"))
}
