package server

import "sync/atomic"

// Metrics holds the atomic counters for monitoring the daemon. The wire
// protocol has no surface for them, so they are reported through the log at
// connection close and shutdown.
type Metrics struct {
	TotalConnections atomic.Uint64 // Counts client connections ever accepted
	FramesDispatched atomic.Uint64 // Counts command frames handed to the dispatcher
	EventsRelayed    atomic.Uint64 // Counts buffered session events relayed to the client
}

// NewMetrics creates and returns a new Metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{}
}
