package models

import (
	"fmt"
	"time"
)

type EventKind string

const (
	// EventAccepted: the provider took the request and will report the result later.
	EventAccepted EventKind = "accepted"
	// EventAwaitingInput: first leg of a two-step flow succeeded; the payer must supply more input.
	EventAwaitingInput EventKind = "awaiting_input"
	// EventRejected: the provider declined this call; the attempt stays open for a retry.
	EventRejected  EventKind = "rejected"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
)

// Event is the input of Transition.
type Event struct {
	Kind             EventKind
	GatewayReference string
	TrackingID       string
	Message          string
}

// Transition computes the record that results from applying ev to rec. rec
// itself is left untouched. Terminal records reject every event with
// ErrTerminalState.
func Transition(rec PaymentRecord, ev Event, now time.Time) (PaymentRecord, error) {
	if rec.Status.Terminal() {
		return rec, fmt.Errorf("%w: %s is %s", ErrTerminalState, rec.Reference, rec.Status)
	}

	next := rec
	switch ev.Kind {
	case EventAccepted:
		next.Status = PaymentStatusProcessing
	case EventAwaitingInput, EventRejected:
		// status unchanged
	case EventSucceeded:
		next.Status = PaymentStatusSuccess
	case EventFailed:
		next.Status = PaymentStatusFailed
	default:
		return rec, fmt.Errorf("unknown payment event %q", ev.Kind)
	}

	if next.GatewayReference == "" && ev.GatewayReference != "" {
		next.GatewayReference = ev.GatewayReference
	}
	if next.TrackingID == "" && ev.TrackingID != "" {
		next.TrackingID = ev.TrackingID
	}
	if ev.Message != "" {
		next.ProviderFinalMessage = ev.Message
	}
	next.Version = rec.Version + 1
	next.UpdatedAt = now

	return next, nil
}
