package live

import (
	"encoding/json"
	"time"

	"github.com/mamamind47/sfa-queue/internal/models"
)

type EventType string

const (
	TypeHello  EventType = "HELLO"
	TypeNext   EventType = "NEXT"
	TypeRecall EventType = "RECALL"
	TypeSkip   EventType = "SKIP"
	TypeServed EventType = "SERVED"
	TypeState  EventType = "STATE"
)

// Event is one frame on a service's live channel. Which fields go on the
// wire depends on Type; see MarshalJSON.
type Event struct {
	Type    EventType          `json:"type"`
	TS      int64              `json:"ts,omitempty"`
	Current *models.TicketView `json:"current"`
	Next    *models.TicketView `json:"next"`
	Served  *models.TicketView `json:"served"`
	Waiting *int               `json:"waiting"`
}

func Hello(now time.Time) Event {
	return Event{Type: TypeHello, TS: now.UnixMilli()}
}

func Next(current, next *models.TicketView) Event {
	return Event{Type: TypeNext, Current: current, Next: next}
}

func Recall(current *models.TicketView) Event {
	return Event{Type: TypeRecall, Current: current}
}

func Skip(current *models.TicketView) Event {
	return Event{Type: TypeSkip, Current: current}
}

func Served(served, next *models.TicketView) Event {
	return Event{Type: TypeServed, Served: served, Next: next}
}

func State(snapshot models.Snapshot) Event {
	waiting := snapshot.Waiting
	return Event{Type: TypeState, Current: snapshot.Current, Next: snapshot.Next, Waiting: &waiting}
}

// WithWaiting returns a copy of a delta event carrying the waiting count.
func (e Event) WithWaiting(waiting int) Event {
	e.Waiting = &waiting
	return e
}

// IsDelta reports whether the event describes a single transition.
func (e Event) IsDelta() bool {
	switch e.Type {
	case TypeNext, TypeRecall, TypeSkip, TypeServed:
		return true
	}
	return false
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeHello:
		return json.Marshal(struct {
			Type EventType `json:"type"`
			TS   int64     `json:"ts"`
		}{e.Type, e.TS})
	case TypeNext:
		return json.Marshal(struct {
			Type    EventType          `json:"type"`
			Current *models.TicketView `json:"current"`
			Next    *models.TicketView `json:"next"`
			Waiting *int               `json:"waiting,omitempty"`
		}{e.Type, e.Current, e.Next, e.Waiting})
	case TypeRecall, TypeSkip:
		return json.Marshal(struct {
			Type    EventType          `json:"type"`
			Current *models.TicketView `json:"current"`
			Waiting *int               `json:"waiting,omitempty"`
		}{e.Type, e.Current, e.Waiting})
	case TypeServed:
		return json.Marshal(struct {
			Type    EventType          `json:"type"`
			Served  *models.TicketView `json:"served"`
			Next    *models.TicketView `json:"next"`
			Waiting *int               `json:"waiting,omitempty"`
		}{e.Type, e.Served, e.Next, e.Waiting})
	default:
		waiting := 0
		if e.Waiting != nil {
			waiting = *e.Waiting
		}
		return json.Marshal(struct {
			Type    EventType          `json:"type"`
			Current *models.TicketView `json:"current"`
			Next    *models.TicketView `json:"next"`
			Waiting int                `json:"waiting"`
		}{e.Type, e.Current, e.Next, waiting})
	}
}
