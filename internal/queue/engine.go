package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mamamind47/sfa-queue/internal/announce"
	"github.com/mamamind47/sfa-queue/internal/identity"
	"github.com/mamamind47/sfa-queue/internal/live"
	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"
	"github.com/mamamind47/sfa-queue/internal/validation"
)

// Notifier publishes committed changes of one service to its live
// subscribers. With no deltas only a fresh snapshot goes out.
type Notifier interface {
	Notify(ctx context.Context, serviceID int64, deltas ...live.Event)
}

type Announcer interface {
	Announce(a announce.Announcement)
}

type Options struct {
	Location      *time.Location
	Now           func() time.Time
	Logger        *slog.Logger
	NotifyTimeout time.Duration
}

// Engine runs every queue operation as one store transaction and notifies
// subscribers after it commits.
type Engine struct {
	store         store.Store
	directory     identity.Directory
	notifier      Notifier
	announcer     Announcer
	loc           *time.Location
	now           func() time.Time
	log           *slog.Logger
	tracer        trace.Tracer
	notifyTimeout time.Duration
}

func NewEngine(st store.Store, directory identity.Directory, notifier Notifier, announcer Announcer, opts Options) *Engine {
	e := &Engine{
		store:         st,
		directory:     directory,
		notifier:      notifier,
		announcer:     announcer,
		loc:           opts.Location,
		now:           opts.Now,
		log:           opts.Logger,
		tracer:        otel.Tracer("github.com/mamamind47/sfa-queue/internal/queue"),
		notifyTimeout: opts.NotifyTimeout,
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 5 * time.Second
	}
	return e
}

type CallResult struct {
	Current *models.TicketView `json:"current"`
	Next    *models.TicketView `json:"next"`
}

type RecallResult struct {
	Current *models.TicketView `json:"current"`
}

type ServeResult struct {
	Served *models.TicketView `json:"served"`
	Next   *models.TicketView `json:"next"`
}

type SkipResult struct {
	Skipped *models.TicketView `json:"skipped"`
	Next    *models.TicketView `json:"next"`
}

// AdvanceResult is the outcome of serve-and-next or skip-and-next. Current
// is nil when nobody was waiting.
type AdvanceResult struct {
	Served  *models.TicketView `json:"served,omitempty"`
	Skipped *models.TicketView `json:"skipped,omitempty"`
	Current *models.TicketView `json:"current"`
	Next    *models.TicketView `json:"next"`
}

type CancelResult struct {
	Canceled *models.TicketView `json:"canceled"`
}

type EnqueueInput struct {
	ServiceCode string `json:"serviceCode" validate:"required,max=16"`
	Mode        string `json:"mode" validate:"required,oneof=guest student"`
	StudentID   string `json:"studentId" validate:"required_if=Mode student,max=32"`
}

type EnqueueResult struct {
	ID        int64  `json:"id"`
	Token     string `json:"token"`
	DisplayNo string `json:"displayNo"`
}

// CallNext calls the oldest waiting ticket. It fails with a conflict while
// another ticket of the service is still CALLED.
func (e *Engine) CallNext(ctx context.Context, serviceID int64) (CallResult, error) {
	ctx, span := e.startSpan(ctx, "queue.CallNext", attribute.Int64("service.id", serviceID))
	defer span.End()

	var (
		result CallResult
		svc    models.Service
	)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		svc, err = tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		if svc.CurrentTicketID != nil {
			current, err := tx.GetTicket(ctx, *svc.CurrentTicketID)
			if err != nil && !errors.Is(err, store.ErrTicketNotFound) {
				return err
			}
			if err == nil && current.Status == models.StatusCalled {
				return NewConflictError(current.Status, fmt.Sprintf("ticket %s is still called", current.DisplayNo))
			}
		}
		called, err := e.callOldest(ctx, tx, svc)
		if err != nil {
			return err
		}
		if called == nil {
			return NewNotFoundError("no waiting ticket")
		}
		next, err := store.PeekWaiting(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		result = CallResult{Current: called.View(), Next: models.ViewOf(next)}
		return nil
	})
	if err != nil {
		return CallResult{}, e.fail(span, "call next", err)
	}

	e.notify(ctx, serviceID, live.Next(result.Current, result.Next))
	e.announce(announce.KindCall, svc, result.Current)
	return result, nil
}

// Recall re-announces the current ticket without changing it.
func (e *Engine) Recall(ctx context.Context, serviceID int64) (RecallResult, error) {
	ctx, span := e.startSpan(ctx, "queue.Recall", attribute.Int64("service.id", serviceID))
	defer span.End()

	var (
		result RecallResult
		svc    models.Service
	)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		svc, err = tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		current, err := currentTicket(ctx, tx, svc)
		if err != nil {
			return err
		}
		recalled, err := e.apply(ctx, tx, svc, current, EventRecall)
		if err != nil {
			return err
		}
		result.Current = recalled.View()
		return nil
	})
	if err != nil {
		return RecallResult{}, e.fail(span, "recall", err)
	}

	e.notify(ctx, serviceID, live.Recall(result.Current))
	e.announce(announce.KindRecall, svc, result.Current)
	return result, nil
}

func (e *Engine) Serve(ctx context.Context, serviceID int64) (ServeResult, error) {
	ctx, span := e.startSpan(ctx, "queue.Serve", attribute.Int64("service.id", serviceID))
	defer span.End()

	var result ServeResult
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		svc, err := tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		current, err := currentTicket(ctx, tx, svc)
		if err != nil {
			return err
		}
		served, err := e.apply(ctx, tx, svc, current, EventServe)
		if err != nil {
			return err
		}
		next, err := store.PeekWaiting(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		result = ServeResult{Served: served.View(), Next: models.ViewOf(next)}
		return nil
	})
	if err != nil {
		return ServeResult{}, e.fail(span, "serve", err)
	}

	e.notify(ctx, serviceID, live.Served(result.Served, result.Next))
	return result, nil
}

func (e *Engine) Skip(ctx context.Context, serviceID int64) (SkipResult, error) {
	ctx, span := e.startSpan(ctx, "queue.Skip", attribute.Int64("service.id", serviceID))
	defer span.End()

	var result SkipResult
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		svc, err := tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		current, err := currentTicket(ctx, tx, svc)
		if err != nil {
			return err
		}
		skipped, err := e.apply(ctx, tx, svc, current, EventSkip)
		if err != nil {
			return err
		}
		next, err := store.PeekWaiting(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		result = SkipResult{Skipped: skipped.View(), Next: models.ViewOf(next)}
		return nil
	})
	if err != nil {
		return SkipResult{}, e.fail(span, "skip", err)
	}

	e.notify(ctx, serviceID, live.Skip(result.Skipped))
	return result, nil
}

// ServeAndNext serves the current ticket and calls the next one in the same
// transaction. Observers never see the service between the two steps.
func (e *Engine) ServeAndNext(ctx context.Context, serviceID int64) (AdvanceResult, error) {
	return e.advance(ctx, serviceID, EventServe)
}

func (e *Engine) SkipAndNext(ctx context.Context, serviceID int64) (AdvanceResult, error) {
	return e.advance(ctx, serviceID, EventSkip)
}

func (e *Engine) advance(ctx context.Context, serviceID int64, event Event) (AdvanceResult, error) {
	ctx, span := e.startSpan(ctx, "queue.advance",
		attribute.Int64("service.id", serviceID),
		attribute.String("queue.event", string(event)),
	)
	defer span.End()

	var (
		finished *models.TicketView
		result   AdvanceResult
		svc      models.Service
	)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		svc, err = tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		current, err := currentTicket(ctx, tx, svc)
		if err != nil {
			return err
		}
		done, err := e.apply(ctx, tx, svc, current, event)
		if err != nil {
			return err
		}
		finished = done.View()
		svc.CurrentTicketID = nil

		called, err := e.callOldest(ctx, tx, svc)
		if err != nil {
			return err
		}
		next, err := store.PeekWaiting(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		result = AdvanceResult{Current: models.ViewOf(called), Next: models.ViewOf(next)}
		return nil
	})
	if err != nil {
		return AdvanceResult{}, e.fail(span, string(event)+" and next", err)
	}

	deltas := make([]live.Event, 0, 2)
	if event == EventServe {
		result.Served = finished
		deltas = append(deltas, live.Served(finished, result.Next))
	} else {
		result.Skipped = finished
		deltas = append(deltas, live.Skip(finished))
	}
	if result.Current != nil {
		deltas = append(deltas, live.Next(result.Current, result.Next))
	}
	e.notify(ctx, serviceID, deltas...)
	if result.Current != nil {
		e.announce(announce.KindCall, svc, result.Current)
	}
	return result, nil
}

// Cancel is the staff cancel of a WAITING or CALLED ticket. Canceling the
// current ticket clears it and is broadcast as a SKIP.
func (e *Engine) Cancel(ctx context.Context, ticketID int64) (CancelResult, error) {
	ctx, span := e.startSpan(ctx, "queue.Cancel", attribute.Int64("ticket.id", ticketID))
	defer span.End()

	var (
		result    CancelResult
		serviceID int64
		wasCalled bool
	)
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		ticket, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		svc, err := tx.LockService(ctx, ticket.ServiceID)
		if err != nil {
			return err
		}
		// reread under the service lock
		ticket, err = tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		wasCalled = ticket.Status == models.StatusCalled
		canceled, err := e.apply(ctx, tx, svc, ticket, EventCancel)
		if err != nil {
			return err
		}
		serviceID = svc.ID
		result.Canceled = canceled.View()
		return nil
	})
	if err != nil {
		return CancelResult{}, e.fail(span, "cancel", err)
	}

	if wasCalled {
		e.notify(ctx, serviceID, live.Skip(result.Canceled))
	} else {
		e.notify(ctx, serviceID)
	}
	return result, nil
}

// CancelByToken is the visitor's own cancel. Unknown and already canceled
// tickets succeed without a change; the returned view is nil then.
func (e *Engine) CancelByToken(ctx context.Context, token string) (*models.TicketView, error) {
	ctx, span := e.startSpan(ctx, "queue.CancelByToken")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, e.fail(span, "cancel by token", NewValidationError("token is required"))
	}

	var canceled *models.TicketView
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		ticket, err := tx.GetTicketByToken(ctx, token)
		if errors.Is(err, store.ErrTicketNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		svc, err := tx.LockService(ctx, ticket.ServiceID)
		if err != nil {
			return err
		}
		ticket, err = tx.GetTicket(ctx, ticket.ID)
		if err != nil {
			return err
		}
		if ticket.Status == models.StatusCanceled {
			return nil
		}
		updated, err := e.apply(ctx, tx, svc, ticket, EventCancel)
		if err != nil {
			return err
		}
		canceled = updated.View()
		return nil
	})
	if err != nil {
		return nil, e.fail(span, "cancel by token", err)
	}

	if canceled != nil {
		e.notify(ctx, canceled.ServiceID)
	}
	return canceled, nil
}

// Enqueue issues a ticket. Student mode resolves the visitor through the
// identity directory before anything is written, so a failed lookup leaves
// the queue untouched.
func (e *Engine) Enqueue(ctx context.Context, input EnqueueInput) (EnqueueResult, error) {
	input.ServiceCode = strings.TrimSpace(input.ServiceCode)
	input.Mode = strings.ToLower(strings.TrimSpace(input.Mode))
	input.StudentID = strings.TrimSpace(input.StudentID)

	ctx, span := e.startSpan(ctx, "queue.Enqueue",
		attribute.String("service.code", input.ServiceCode),
		attribute.String("queue.mode", input.Mode),
	)
	defer span.End()

	if msg := validation.Struct(input); msg != "" {
		return EnqueueResult{}, e.fail(span, "enqueue", NewValidationError(msg))
	}

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		svc, err := tx.GetServiceByCode(ctx, input.ServiceCode)
		if err != nil {
			return err
		}
		return ensureOpen(svc)
	})
	if err != nil {
		return EnqueueResult{}, e.fail(span, "enqueue", err)
	}

	var name, studentID string
	if input.Mode == "student" {
		if e.directory == nil {
			return EnqueueResult{}, e.fail(span, "enqueue", NewUpstreamError(identity.ErrNotConfigured))
		}
		profile, err := e.directory.Lookup(ctx, input.StudentID)
		if err != nil {
			return EnqueueResult{}, e.fail(span, "enqueue", NewUpstreamError(err))
		}
		name, studentID = profile.DisplayName, profile.ID
	}

	var (
		result    EnqueueResult
		serviceID int64
	)
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		svc, err := tx.LockServiceByCode(ctx, input.ServiceCode)
		if err != nil {
			return err
		}
		if err := ensureOpen(svc); err != nil {
			return err
		}
		now := e.now()
		start, end := models.DayRange(now, e.loc)
		count, err := tx.CountCreatedBetween(ctx, svc.ID, start, end)
		if err != nil {
			return err
		}
		number := count + 1
		ticket, err := tx.CreateTicket(ctx, store.CreateTicketInput{
			ServiceID:  svc.ID,
			Number:     number,
			ServiceDay: start,
			DisplayNo:  models.DisplayNo(svc.Code, number),
			Token:      uuid.NewString(),
			Name:       name,
			StudentID:  studentID,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if err := e.audit(ctx, tx, ticket, store.EventTicketCreated, now); err != nil {
			return err
		}
		serviceID = svc.ID
		result = EnqueueResult{ID: ticket.ID, Token: ticket.Token, DisplayNo: ticket.DisplayNo}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, e.fail(span, "enqueue", err)
	}

	span.SetAttributes(attribute.String("ticket.display_no", result.DisplayNo))
	e.notify(ctx, serviceID)
	return result, nil
}

func ensureOpen(svc models.Service) error {
	if !svc.IsOpen {
		return NewForbiddenError("service closed")
	}
	return nil
}

// currentTicket loads the service's current ticket or fails with not found.
func currentTicket(ctx context.Context, tx store.Tx, svc models.Service) (models.Ticket, error) {
	if svc.CurrentTicketID == nil {
		return models.Ticket{}, NewNotFoundError("no current ticket")
	}
	ticket, err := tx.GetTicket(ctx, *svc.CurrentTicketID)
	if errors.Is(err, store.ErrTicketNotFound) {
		return models.Ticket{}, NewNotFoundError("no current ticket")
	}
	return ticket, err
}

// callOldest moves the oldest waiting ticket to CALLED. It returns nil when
// nobody is waiting.
func (e *Engine) callOldest(ctx context.Context, tx store.Tx, svc models.Service) (*models.Ticket, error) {
	oldest, err := store.PeekWaiting(ctx, tx, svc.ID)
	if err != nil || oldest == nil {
		return nil, err
	}
	called, err := e.apply(ctx, tx, svc, *oldest, EventCall)
	if err != nil {
		return nil, err
	}
	return &called, nil
}

var auditEventTypes = map[Event]string{
	EventCall:   store.EventTicketCalled,
	EventServe:  store.EventTicketServed,
	EventSkip:   store.EventTicketSkipped,
	EventRecall: store.EventTicketRecalled,
	EventCancel: store.EventTicketCanceled,
}

// apply runs one state machine step against the store: the guarded status
// update, the current pointer change and the audit entry.
func (e *Engine) apply(ctx context.Context, tx store.Tx, svc models.Service, ticket models.Ticket, event Event) (models.Ticket, error) {
	decision, err := Decide(event, ticket.Status, svc.IsCurrent(ticket.ID))
	if err != nil {
		return models.Ticket{}, err
	}
	now := e.now()
	updated := ticket
	if decision.Changed() {
		updated, err = tx.UpdateTicketStatus(ctx, ticket.ID, decision.From, decision.To, now)
		if err != nil {
			return models.Ticket{}, err
		}
	}
	switch decision.Current {
	case CurrentSet:
		id := ticket.ID
		err = tx.SetCurrentTicket(ctx, svc.ID, &id)
	case CurrentClear:
		err = tx.SetCurrentTicket(ctx, svc.ID, nil)
	}
	if err != nil {
		return models.Ticket{}, err
	}
	if err := e.audit(ctx, tx, updated, auditEventTypes[event], now); err != nil {
		return models.Ticket{}, err
	}
	return updated, nil
}

func (e *Engine) audit(ctx context.Context, tx store.Tx, ticket models.Ticket, eventType string, at time.Time) error {
	payload, err := json.Marshal(map[string]any{
		"serviceId": ticket.ServiceID,
		"displayNo": ticket.DisplayNo,
		"status":    ticket.Status,
	})
	if err != nil {
		return err
	}
	return tx.AppendTicketEvent(ctx, ticket.ID, eventType, payload, at)
}

// notify runs after commit on a context detached from the request, so a
// client hanging up does not cut the broadcast short.
func (e *Engine) notify(ctx context.Context, serviceID int64, deltas ...live.Event) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	e.notifier.Notify(ctx, serviceID, deltas...)
}

func (e *Engine) announce(kind announce.Kind, svc models.Service, ticket *models.TicketView) {
	if e.announcer == nil || ticket == nil {
		return
	}
	a := announce.Announcement{
		Kind:        kind,
		ServiceID:   svc.ID,
		ServiceCode: svc.Code,
		ServiceName: svc.Name,
		DisplayNo:   ticket.DisplayNo,
	}
	if ticket.Name != nil {
		a.Name = *ticket.Name
	}
	e.announcer.Announce(a)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// fail classifies err, records it on the span and logs store failures.
func (e *Engine) fail(span trace.Span, op string, err error) error {
	qe := classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(qe.Kind))
	if qe.Kind == KindTransient {
		e.log.Error("queue operation failed", "op", op, "error", err)
	}
	return qe
}

func classify(err error) *Error {
	var qe *Error
	if errors.As(err, &qe) {
		return qe
	}
	switch {
	case errors.Is(err, store.ErrServiceNotFound):
		return NewNotFoundError("service not found")
	case errors.Is(err, store.ErrTicketNotFound):
		return NewNotFoundError("ticket not found")
	case errors.Is(err, store.ErrNoTicket):
		return NewNotFoundError("no waiting ticket")
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrDuplicateTicket):
		return &Error{Kind: KindConflict, Message: err.Error(), Err: err}
	}
	return NewTransientError(err)
}
