package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"
)

func seedService(t *testing.T, st *Store, code string) models.Service {
	t.Helper()
	var svc models.Service
	err := st.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		svc, err = tx.UpsertService(context.Background(), code, "Service "+code)
		return err
	})
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	return svc
}

func createTicket(t *testing.T, st *Store, serviceID int64, number int, createdAt time.Time) models.Ticket {
	t.Helper()
	var ticket models.Ticket
	err := st.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		ticket, err = tx.CreateTicket(context.Background(), store.CreateTicketInput{
			ServiceID:  serviceID,
			Number:     number,
			ServiceDay: createdAt,
			DisplayNo:  models.DisplayNo("A", number),
			Token:      models.DisplayNo("tok", number),
			CreatedAt:  createdAt,
		})
		return err
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestRollbackDiscardsWrites(t *testing.T) {
	st := NewStore()
	svc := seedService(t, st, "A")
	boom := errors.New("boom")

	err := st.InTx(context.Background(), func(tx store.Tx) error {
		if _, err := tx.SetServiceOpen(context.Background(), svc.ID, false); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = st.InTx(context.Background(), func(tx store.Tx) error {
		got, err := tx.GetService(context.Background(), svc.ID)
		if err != nil {
			t.Fatalf("get service: %v", err)
		}
		if !got.IsOpen {
			t.Fatalf("expected rolled back service to stay open")
		}
		return nil
	})
}

func TestOldestWaitingOrdersByCreatedAtThenID(t *testing.T) {
	st := NewStore()
	svc := seedService(t, st, "A")
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	later := createTicket(t, st, svc.ID, 1, base.Add(time.Minute))
	first := createTicket(t, st, svc.ID, 2, base)
	tie := createTicket(t, st, svc.ID, 3, base)

	_ = st.InTx(context.Background(), func(tx store.Tx) error {
		got, err := tx.OldestWaiting(context.Background(), svc.ID)
		if err != nil {
			t.Fatalf("oldest waiting: %v", err)
		}
		if got.ID != first.ID {
			t.Fatalf("expected ticket %d, got %d", first.ID, got.ID)
		}
		ahead, err := tx.CountAhead(context.Background(), later)
		if err != nil {
			t.Fatalf("count ahead: %v", err)
		}
		if ahead != 2 {
			t.Fatalf("expected 2 tickets ahead, got %d", ahead)
		}
		ahead, err = tx.CountAhead(context.Background(), tie)
		if err != nil {
			t.Fatalf("count ahead: %v", err)
		}
		if ahead != 1 {
			t.Fatalf("expected 1 ticket ahead of tie, got %d", ahead)
		}
		return nil
	})
}

func TestUpdateTicketStatusCompareAndSet(t *testing.T) {
	st := NewStore()
	svc := seedService(t, st, "A")
	ticket := createTicket(t, st, svc.ID, 1, time.Now())

	err := st.InTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.UpdateTicketStatus(context.Background(), ticket.ID, models.StatusCalled, models.StatusServed, time.Now())
		return err
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	err = st.InTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.UpdateTicketStatus(context.Background(), 999, models.StatusWaiting, models.StatusCalled, time.Now())
		return err
	})
	if !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestCreateTicketRejectsDuplicateNumber(t *testing.T) {
	st := NewStore()
	svc := seedService(t, st, "A")
	day := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	createTicket(t, st, svc.ID, 1, day)

	err := st.InTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.CreateTicket(context.Background(), store.CreateTicketInput{
			ServiceID:  svc.ID,
			Number:     1,
			ServiceDay: day,
			DisplayNo:  "A001",
			Token:      "another",
			CreatedAt:  day,
		})
		return err
	})
	if !errors.Is(err, store.ErrDuplicateTicket) {
		t.Fatalf("expected ErrDuplicateTicket, got %v", err)
	}
}

func TestCreatedBetweenIsHalfOpen(t *testing.T) {
	st := NewStore()
	svc := seedService(t, st, "A")
	ict := time.FixedZone("ICT", 7*3600)
	start, end := models.DayRange(time.Date(2025, 1, 6, 12, 0, 0, 0, ict), ict)

	createTicket(t, st, svc.ID, 1, start)
	createTicket(t, st, svc.ID, 2, end.Add(-time.Nanosecond))
	createTicket(t, st, svc.ID, 3, end)

	err := st.InTx(context.Background(), func(tx store.Tx) error {
		count, err := tx.CountCreatedBetween(context.Background(), svc.ID, start, end)
		if err != nil {
			return err
		}
		if count != 2 {
			t.Fatalf("expected 2 tickets in the day, got %d", count)
		}
		tickets, err := tx.ListTicketsCreatedBetween(context.Background(), svc.ID, start, end)
		if err != nil {
			return err
		}
		if len(tickets) != 2 || tickets[1].Number != 2 {
			t.Fatalf("unexpected tickets: %+v", tickets)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}
