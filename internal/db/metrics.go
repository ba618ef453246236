package db

import (
	"github.com/prometheus/client_golang/prometheus"
)

var sessionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "db_sessions_total",
		Help: "Sessions released, by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(sessionsTotal)
}

// PoolCollector exports pool statistics of a Manager
type PoolCollector struct {
	m *Manager

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
	acquires *prometheus.Desc
	canceled *prometheus.Desc
	empty    *prometheus.Desc
	waitSecs *prometheus.Desc
}

func NewPoolCollector(m *Manager) *PoolCollector {
	return &PoolCollector{
		m:        m,
		acquired: prometheus.NewDesc("db_pool_acquired_conns", "Connections currently checked out", nil, nil),
		idle:     prometheus.NewDesc("db_pool_idle_conns", "Idle connections in the pool", nil, nil),
		total:    prometheus.NewDesc("db_pool_total_conns", "Open connections in the pool", nil, nil),
		max:      prometheus.NewDesc("db_pool_max_conns", "Maximum pool size", nil, nil),
		acquires: prometheus.NewDesc("db_pool_acquires_total", "Successful connection acquisitions", nil, nil),
		canceled: prometheus.NewDesc("db_pool_canceled_acquires_total", "Acquisitions canceled by context", nil, nil),
		empty:    prometheus.NewDesc("db_pool_empty_acquires_total", "Acquisitions that waited for a free connection", nil, nil),
		waitSecs: prometheus.NewDesc("db_pool_acquire_seconds_total", "Total time spent acquiring connections", nil, nil),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.acquires
	ch <- c.canceled
	ch <- c.empty
	ch <- c.waitSecs
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(s.CanceledAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.empty, prometheus.CounterValue, float64(s.EmptyAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.waitSecs, prometheus.CounterValue, s.AcquireDuration.Seconds())
}
