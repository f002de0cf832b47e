package queue

import (
	"fmt"

	"github.com/mamamind47/sfa-queue/internal/models"
)

type Event string

const (
	EventCall   Event = "call"
	EventServe  Event = "serve"
	EventSkip   Event = "skip"
	EventRecall Event = "recall"
	EventCancel Event = "cancel"
)

// CurrentEffect is what a transition does to the service's current ticket pointer.
type CurrentEffect int

const (
	CurrentKeep CurrentEffect = iota
	CurrentSet
	CurrentClear
)

type transition struct {
	from []string
	to   string
}

var transitionMap = map[Event]transition{
	EventCall:   {from: []string{models.StatusWaiting}, to: models.StatusCalled},
	EventServe:  {from: []string{models.StatusCalled}, to: models.StatusServed},
	EventSkip:   {from: []string{models.StatusCalled}, to: models.StatusSkipped},
	EventRecall: {from: []string{models.StatusCalled}, to: models.StatusCalled},
	EventCancel: {from: []string{models.StatusWaiting, models.StatusCalled}, to: models.StatusCanceled},
}

type Decision struct {
	From    string
	To      string
	Current CurrentEffect
}

// Changed reports whether the ticket status moves.
func (d Decision) Changed() bool {
	return d.From != d.To
}

func ValidTransition(event Event, from string) bool {
	t, ok := transitionMap[event]
	if !ok {
		return false
	}
	for _, status := range t.from {
		if status == from {
			return true
		}
	}
	return false
}

// Decide applies event to a ticket in status from. isCurrent tells whether
// the ticket is its service's current ticket. Illegal pairs return a
// conflict naming from.
func Decide(event Event, from string, isCurrent bool) (Decision, error) {
	if !ValidTransition(event, from) {
		return Decision{}, NewConflictError(from, fmt.Sprintf("cannot %s ticket in status %s", event, from))
	}
	d := Decision{From: from, To: transitionMap[event].to}
	switch event {
	case EventCall:
		d.Current = CurrentSet
	case EventServe, EventSkip:
		d.Current = CurrentClear
	case EventCancel:
		if isCurrent {
			d.Current = CurrentClear
		}
	}
	return d, nil
}
