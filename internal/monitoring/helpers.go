package monitoring

import (
	"strconv"
	"time"
)

func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordExit(code int) {
	if m == nil {
		return
	}
	m.RunExitCodes.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.OutputChunks.Inc()
}

// RecordBoot observes a finished boot and updates the readiness gauge.
func (m *Metrics) RecordBoot(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.BootDuration.WithLabelValues(result).Observe(d.Seconds())
	if ok {
		m.SandboxReady.Set(1)
	} else {
		m.SandboxReady.Set(0)
	}
}

func (m *Metrics) WSConnected() {
	if m != nil {
		m.WSConnections.Inc()
	}
}

func (m *Metrics) WSDisconnected() {
	if m != nil {
		m.WSConnections.Dec()
	}
}
