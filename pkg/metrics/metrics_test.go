package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.EntityEmitted("table")
	c.EntityEmitted("table")
	c.EntityFiltered("schema")
	c.EntityFailed("view")
	c.DeletionEmitted()
	c.RunFinished("done")
	c.SchemaDuration(150 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.entities.WithLabelValues("table", OutcomeEmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.entities.WithLabelValues("schema", OutcomeFiltered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.entities.WithLabelValues("view", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deletions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("done")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "harvest_schema_duration_seconds")
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.EntityEmitted("table")
		c.DeletionEmitted()
		c.SchemaDuration(time.Second)
		c.RunFinished("failed")
	})
}

func TestCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
