package timeline

import (
	"strings"
	"time"
)

// EventType names an observable transition.
type EventType string

const (
	EventRegistered            EventType = "REGISTERED"
	EventUnregistered          EventType = "UNREGISTERED"
	EventRentRequested         EventType = "RENT_REQUESTED"
	EventRentStarted           EventType = "RENT_STARTED"
	EventRentDenied            EventType = "RENT_DENIED"
	EventRentEnded             EventType = "RENT_ENDED"
	EventViolationRaised       EventType = "VIOLATION_RAISED"
	EventDisputeResolved       EventType = "DISPUTE_RESOLVED"
	EventServiceFeeRatioSet    EventType = "SERVICE_FEE_RATIO_SET"
	EventOwnerPenaltyPaid      EventType = "OWNER_PENALTY_PAID"
	EventOwnerBalanceWithdrawn EventType = "OWNER_BALANCE_WITHDRAWN"
	EventServiceFeeWithdrawn   EventType = "SERVICE_FEE_WITHDRAWN"
)

// Topic is the outbox topic an event type is published under.
func (t EventType) Topic() string {
	return "position." + strings.ToLower(string(t))
}

// Event captures an immutable business event. PositionID is zero for
// account-level events such as withdrawals.
type Event struct {
	ID         string
	PositionID uint64
	Type       EventType
	Actor      string
	Payload    map[string]any
	OccurredAt time.Time
}
