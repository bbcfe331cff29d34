package worker

// State is the worker's position in its connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Idle
	Building
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case Building:
		return "building"
	default:
		return "unknown"
	}
}

// Registered reports whether the relay currently knows about this worker.
func (s State) Registered() bool {
	return s == Idle || s == Building
}
