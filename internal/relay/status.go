package relay

// Status is a relay message's position in its delivery lifecycle. The
// legal transitions form a DAG: a message only ever moves forward,
// although PartiallyDelivered and Deferred can loop back into InProgress
// on the next retry round.
type Status string

const (
	// Queued means the message has been accepted and is waiting for its
	// first delivery attempt.
	Queued Status = "Queued"

	// InProgress means a delivery attempt is currently running for at
	// least one recipient.
	InProgress Status = "InProgress"

	// Delivered means every recipient accepted the message.
	Delivered Status = "Delivered"

	// Failed means every recipient permanently rejected the message.
	Failed Status = "Failed"

	// Deferred means the last attempt hit a transient failure and another
	// attempt is scheduled.
	Deferred Status = "Deferred"

	// Expired means MessageLifetime elapsed, or MaxAttempts delivery
	// rounds were made, before delivery completed to all recipients.
	Expired Status = "Expired"

	// Cancelled means an operator or policy cancelled the message before
	// delivery completed.
	Cancelled Status = "Cancelled"

	// PartiallyDelivered means some recipients accepted the message and
	// others are still pending or have permanently failed.
	PartiallyDelivered Status = "PartiallyDelivered"
)

// Terminal reports whether s is a terminal status: no further delivery
// attempts will be made once a message reaches it.
func (s Status) Terminal() bool {
	switch s {
	case Delivered, Failed, Expired, Cancelled:
		return true
	default:
		return false
	}
}
