package queue

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"
)

// TicketStatus is what a visitor sees when looking up their own ticket.
type TicketStatus struct {
	Ticket struct {
		ID        int64   `json:"id"`
		DisplayNo string  `json:"displayNo"`
		Status    string  `json:"status"`
		ServiceID int64   `json:"serviceId"`
		Name      *string `json:"name"`
	} `json:"ticket"`
	WaitingAhead    int    `json:"waitingAhead"`
	CurrentTicketID *int64 `json:"currentTicketId"`
}

type TicketAudit struct {
	TicketID int64               `json:"ticketId"`
	Verified bool                `json:"verified"`
	Events   []store.TicketEvent `json:"events"`
}

// GetServiceSnapshot returns the current ticket, the next waiting ticket
// and the waiting count of a service.
func (e *Engine) GetServiceSnapshot(ctx context.Context, serviceID int64) (models.Snapshot, error) {
	ctx, span := e.startSpan(ctx, "queue.GetServiceSnapshot", attribute.Int64("service.id", serviceID))
	defer span.End()

	var snapshot models.Snapshot
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		snapshot, err = store.LoadSnapshot(ctx, tx, serviceID)
		return err
	})
	if err != nil {
		return models.Snapshot{}, e.fail(span, "service snapshot", err)
	}
	return snapshot, nil
}

func (e *Engine) GetTicketByToken(ctx context.Context, token string) (TicketStatus, error) {
	ctx, span := e.startSpan(ctx, "queue.GetTicketByToken")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return TicketStatus{}, e.fail(span, "ticket by token", NewValidationError("token is required"))
	}

	var status TicketStatus
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		ticket, err := tx.GetTicketByToken(ctx, token)
		if err != nil {
			return err
		}
		ahead, err := tx.CountAhead(ctx, ticket)
		if err != nil {
			return err
		}
		svc, err := tx.GetService(ctx, ticket.ServiceID)
		if err != nil {
			return err
		}
		status.Ticket.ID = ticket.ID
		status.Ticket.DisplayNo = ticket.DisplayNo
		status.Ticket.Status = ticket.Status
		status.Ticket.ServiceID = ticket.ServiceID
		status.Ticket.Name = ticket.Name
		status.WaitingAhead = ahead
		status.CurrentTicketID = svc.CurrentTicketID
		return nil
	})
	if err != nil {
		return TicketStatus{}, e.fail(span, "ticket by token", err)
	}
	return status, nil
}

// ListServicesWithWaitingCounts lists every service ordered by id.
func (e *Engine) ListServicesWithWaitingCounts(ctx context.Context) ([]models.ServiceSummary, error) {
	ctx, span := e.startSpan(ctx, "queue.ListServices")
	defer span.End()

	var summaries []models.ServiceSummary
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		services, err := tx.ListServices(ctx)
		if err != nil {
			return err
		}
		counts, err := tx.CountWaitingByService(ctx)
		if err != nil {
			return err
		}
		summaries = make([]models.ServiceSummary, 0, len(services))
		for _, svc := range services {
			summaries = append(summaries, svc.Summary(counts[svc.ID]))
		}
		return nil
	})
	if err != nil {
		return nil, e.fail(span, "list services", err)
	}
	return summaries, nil
}

func (e *Engine) GetServiceByCode(ctx context.Context, code string) (models.Service, error) {
	ctx, span := e.startSpan(ctx, "queue.GetServiceByCode", attribute.String("service.code", code))
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		return models.Service{}, e.fail(span, "service by code", NewValidationError("code is required"))
	}
	var svc models.Service
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		svc, err = tx.GetServiceByCode(ctx, code)
		return err
	})
	if err != nil {
		return models.Service{}, e.fail(span, "service by code", err)
	}
	return svc, nil
}

// SetServiceOpen opens or closes a service for new tickets. Tickets already
// issued keep moving either way.
func (e *Engine) SetServiceOpen(ctx context.Context, serviceID int64, open bool) (models.Service, error) {
	ctx, span := e.startSpan(ctx, "queue.SetServiceOpen",
		attribute.Int64("service.id", serviceID),
		attribute.Bool("service.open", open),
	)
	defer span.End()

	var svc models.Service
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockService(ctx, serviceID); err != nil {
			return err
		}
		var err error
		svc, err = tx.SetServiceOpen(ctx, serviceID, open)
		return err
	})
	if err != nil {
		return models.Service{}, e.fail(span, "set service open", err)
	}
	e.log.Info("service availability changed", "service", svc.Code, "open", open)
	return svc, nil
}

// TicketEvents returns the audit log of a ticket and whether its hash chain
// verifies.
func (e *Engine) TicketEvents(ctx context.Context, ticketID int64) (TicketAudit, error) {
	ctx, span := e.startSpan(ctx, "queue.TicketEvents", attribute.Int64("ticket.id", ticketID))
	defer span.End()

	audit := TicketAudit{TicketID: ticketID}
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTicket(ctx, ticketID); err != nil {
			return err
		}
		var err error
		audit.Events, err = tx.ListTicketEvents(ctx, ticketID)
		return err
	})
	if err != nil {
		return TicketAudit{}, e.fail(span, "ticket events", err)
	}
	if err := store.VerifyTicketEvents(audit.Events); err != nil {
		if !errors.Is(err, store.ErrBrokenChain) {
			return TicketAudit{}, e.fail(span, "ticket events", err)
		}
		e.log.Warn("ticket audit chain broken", "ticket_id", ticketID, "error", err)
		return audit, nil
	}
	audit.Verified = true
	return audit, nil
}

// EnsureService creates a service or renames an existing one. Seeding only.
func (e *Engine) EnsureService(ctx context.Context, code, name string) (models.Service, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return models.Service{}, NewValidationError("code and name are required")
	}
	var svc models.Service
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		svc, err = tx.UpsertService(ctx, code, name)
		return err
	})
	if err != nil {
		return models.Service{}, classify(err)
	}
	return svc, nil
}
