package dispatch

// State is the drain loop lifecycle position.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateDraining
	StateIdle
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateIdle:
		return "idle"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of one worker and its queue.
type Stats struct {
	Endpoint       string `json:"endpoint"`
	State          string `json:"state"`
	Queued         int    `json:"queued"`
	Capacity       int    `json:"capacity"`
	Accepted       uint64 `json:"accepted"`
	Dropped        uint64 `json:"dropped"`
	Dispatched     uint64 `json:"dispatched"`
	Delivered      uint64 `json:"delivered"`
	Failed         uint64 `json:"failed"`
	EncodeFailures uint64 `json:"encode_failures"`
	InFlight       int64  `json:"in_flight"`
}

// Stats returns counters for diagnostics.
// Params: none.
// Returns: snapshot; counters are read independently and may be mutually skewed.
func (w *Worker) Stats() Stats {
	return Stats{
		Endpoint:       w.cfg.Endpoint,
		State:          w.State().String(),
		Queued:         w.queue.Len(),
		Capacity:       w.queue.Cap(),
		Accepted:       w.queue.Accepted(),
		Dropped:        w.queue.Dropped(),
		Dispatched:     w.dispatched.Load(),
		Delivered:      w.delivered.Load(),
		Failed:         w.failed.Load(),
		EncodeFailures: w.encodeFailures.Load(),
		InFlight:       w.inFlight.Load(),
	}
}
