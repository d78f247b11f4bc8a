package kvstore

import (
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/r2kv/kvserver/pkg/metricsx"
)

// serverMetrics mirrors the lazily-initialized, struct-grouped counter
// pattern used for the teacher's HTTP API metrics, adapted to the
// command/connection surface this server exposes.
type serverMetrics struct {
	set  *metrics.Set
	once sync.Once

	commandsTotal     map[string]*metrics.Counter
	commandsMu        sync.Mutex
	connectionsOpened *metrics.Counter
	connectionsActive *metrics.Gauge
	protocolErrors    *metrics.Counter
	storeSize         *metrics.Gauge
	commandDuration   *metrics.Histogram
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{commandsTotal: map[string]*metrics.Counter{}}
}

func (m *serverMetrics) init() {
	m.once.Do(func() {
		m.set = metrics.NewSet()
		m.connectionsOpened = m.set.NewCounter(metricsx.Name("kv_connections_opened_total"))
		m.connectionsActive = m.set.NewGauge(metricsx.Name("kv_connections_active"), nil)
		m.protocolErrors = m.set.NewCounter(metricsx.Name("kv_protocol_errors_total"))
		m.commandDuration = m.set.NewHistogram(metricsx.Name("kv_command_duration_seconds"))
	})
}

func (m *serverMetrics) commandCounter(cmd, result string) *metrics.Counter {
	m.commandsMu.Lock()
	defer m.commandsMu.Unlock()
	name := metricsx.Name("kv_commands_total", "cmd", cmd, "result", result)
	c, ok := m.commandsTotal[name]
	if !ok {
		c = m.set.NewCounter(name)
		m.commandsTotal[name] = c
	}
	return c
}

func (m *serverMetrics) setStoreSizeFunc(f func() float64) {
	m.storeSize = m.set.NewGauge(metricsx.Name("kv_store_entries"), f)
}
