package store

import (
	"context"
	"errors"

	"github.com/mamamind47/sfa-queue/internal/models"
)

// LoadSnapshot reads the current ticket, the oldest waiting ticket and the
// waiting count of a service within tx.
func LoadSnapshot(ctx context.Context, tx Tx, serviceID int64) (models.Snapshot, error) {
	svc, err := tx.GetService(ctx, serviceID)
	if err != nil {
		return models.Snapshot{}, err
	}
	snapshot := models.Snapshot{Service: svc}

	if svc.CurrentTicketID != nil {
		current, err := tx.GetTicket(ctx, *svc.CurrentTicketID)
		if err != nil && !errors.Is(err, ErrTicketNotFound) {
			return models.Snapshot{}, err
		}
		if err == nil {
			snapshot.Current = current.View()
		}
	}

	next, err := PeekWaiting(ctx, tx, serviceID)
	if err != nil {
		return models.Snapshot{}, err
	}
	snapshot.Next = models.ViewOf(next)

	waiting, err := tx.CountWaiting(ctx, serviceID)
	if err != nil {
		return models.Snapshot{}, err
	}
	snapshot.Waiting = waiting
	return snapshot, nil
}

// PeekWaiting is OldestWaiting with "none" reported as a nil ticket.
func PeekWaiting(ctx context.Context, tx Tx, serviceID int64) (*models.Ticket, error) {
	ticket, err := tx.OldestWaiting(ctx, serviceID)
	if err != nil {
		if errors.Is(err, ErrNoTicket) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}
