package telemetry

import "expvar"

// Metrics counts a node's dispatch and synchronization activity.
// The counters are expvar-backed but stay unpublished until Publish is
// called, so multiple instances (one per rank in a test process) can coexist
type Metrics struct {
	// FramesSent counts messages handed to the transport
	FramesSent expvar.Int

	// FramesReceived counts messages delivered by the dispatch loop
	FramesReceived expvar.Int

	// Dispatches counts dispatch calls that resolved a registered channel
	Dispatches expvar.Int

	// Violations counts fatal protocol violations observed
	Violations expvar.Int

	// BarriersCompleted counts barrier calls that returned
	BarriersCompleted expvar.Int

	// Flushes counts transport flush operations
	Flushes expvar.Int
}

// NewMetrics creates an unpublished metrics set
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Publish exports the counters under the given prefix. Publishing the same
// prefix twice in one process panics (expvar semantics); publish once from
// the binary entry point.
func (m *Metrics) Publish(prefix string) {
	expvar.Publish(prefix+".frames_sent", &m.FramesSent)
	expvar.Publish(prefix+".frames_received", &m.FramesReceived)
	expvar.Publish(prefix+".dispatches", &m.Dispatches)
	expvar.Publish(prefix+".violations", &m.Violations)
	expvar.Publish(prefix+".barriers_completed", &m.BarriersCompleted)
	expvar.Publish(prefix+".flushes", &m.Flushes)
}
