package chat

import (
	"slices"
	"strings"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// ParseStatus maps a wire value to a Status, defaulting to DELIVERED for
// anything the server sends that is not a known state.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToUpper(s)); st {
	case StatusPending, StatusDelivered, StatusRead, StatusFailed:
		return st
	case "FAILED_MODERATION":
		return StatusFailed
	default:
		return StatusDelivered
	}
}

// validTransitions lists the forward moves a message can make.
// READ and FAILED are terminal. A pending message must be acknowledged
// before it can be read.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusDelivered, StatusFailed},
	StatusDelivered: {StatusRead},
}

// CanTransition reports whether a message in s may move to next.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(validTransitions[s], next)
}

// AcceptsAck reports whether a server acknowledgment moves s to DELIVERED.
// A late ack overrides a client-side FAILED because the server is authoritative.
func (s Status) AcceptsAck() bool {
	return s == StatusPending || s == StatusFailed
}
