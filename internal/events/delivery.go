package events

// Signal is the kind of push delivered to an observer.
type Signal string

const (
	SignalNext      Signal = "next"
	SignalError     Signal = "error"
	SignalCompleted Signal = "completed"
)

// Delivery is emitted for every push that reaches an observer.
type Delivery struct {
	Kind   string
	Signal Signal
	Err    error
}

// DeliveryDropped is emitted when a push arrives after its handle was
// disposed.
type DeliveryDropped struct {
	Kind   string
	Signal Signal
}
