package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectorCountersStartAtZeroAndIncrement(t *testing.T) {
	c := NewCollector(3)

	c.Puts.Inc()
	c.Puts.Inc()
	c.Gets.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	require.Contains(t, body, `eau2_kv_puts_total{node="3"} 2`)
	require.Contains(t, body, `eau2_kv_gets_total{node="3"} 1`)
	require.Contains(t, body, `eau2_kv_wait_and_gets_total{node="3"} 0`)
}

func TestCollectorPeersGauge(t *testing.T) {
	c := NewCollector(0)
	c.PeersUp.Set(2)
	c.PeersUp.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), `eau2_directory_peers_connected{node="0"} 3`)
}
