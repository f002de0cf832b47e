package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"
)

// Store keeps services and tickets in process memory. Transactions are
// serialized by a single mutex and work on a copy of the data that replaces
// the live copy only on success.
type Store struct {
	mu    sync.Mutex
	state *state
}

type dayKey struct {
	serviceID int64
	day       string
	number    int
}

type state struct {
	services    map[int64]models.Service
	tickets     map[int64]models.Ticket
	tokens      map[string]int64
	numbers     map[dayKey]int64
	events      map[int64][]store.TicketEvent
	lastService int64
	lastTicket  int64
}

func NewStore() *Store {
	return &Store{state: &state{
		services: make(map[int64]models.Service),
		tickets:  make(map[int64]models.Ticket),
		tokens:   make(map[string]int64),
		numbers:  make(map[dayKey]int64),
		events:   make(map[int64][]store.TicketEvent),
	}}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *state) clone() *state {
	c := &state{
		services:    make(map[int64]models.Service, len(st.services)),
		tickets:     make(map[int64]models.Ticket, len(st.tickets)),
		tokens:      make(map[string]int64, len(st.tokens)),
		numbers:     make(map[dayKey]int64, len(st.numbers)),
		events:      make(map[int64][]store.TicketEvent, len(st.events)),
		lastService: st.lastService,
		lastTicket:  st.lastTicket,
	}
	for id, svc := range st.services {
		c.services[id] = svc
	}
	for id, t := range st.tickets {
		c.tickets[id] = t
	}
	for token, id := range st.tokens {
		c.tokens[token] = id
	}
	for key, id := range st.numbers {
		c.numbers[key] = id
	}
	for id, events := range st.events {
		c.events[id] = append([]store.TicketEvent(nil), events...)
	}
	return c
}

type memTx struct {
	st *state
}

func (tx *memTx) GetService(ctx context.Context, serviceID int64) (models.Service, error) {
	svc, ok := tx.st.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return copyService(svc), nil
}

func (tx *memTx) GetServiceByCode(ctx context.Context, code string) (models.Service, error) {
	for _, svc := range tx.st.services {
		if svc.Code == code {
			return copyService(svc), nil
		}
	}
	return models.Service{}, store.ErrServiceNotFound
}

func (tx *memTx) LockService(ctx context.Context, serviceID int64) (models.Service, error) {
	return tx.GetService(ctx, serviceID)
}

func (tx *memTx) LockServiceByCode(ctx context.Context, code string) (models.Service, error) {
	return tx.GetServiceByCode(ctx, code)
}

func (tx *memTx) ListServices(ctx context.Context) ([]models.Service, error) {
	services := make([]models.Service, 0, len(tx.st.services))
	for _, svc := range tx.st.services {
		services = append(services, copyService(svc))
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services, nil
}

func (tx *memTx) UpsertService(ctx context.Context, code, name string) (models.Service, error) {
	code = strings.TrimSpace(code)
	for id, svc := range tx.st.services {
		if svc.Code == code {
			svc.Name = name
			tx.st.services[id] = svc
			return copyService(svc), nil
		}
	}
	tx.st.lastService++
	svc := models.Service{ID: tx.st.lastService, Code: code, Name: name, IsOpen: true}
	tx.st.services[svc.ID] = svc
	return svc, nil
}

func (tx *memTx) SetServiceOpen(ctx context.Context, serviceID int64, open bool) (models.Service, error) {
	svc, ok := tx.st.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	svc.IsOpen = open
	tx.st.services[serviceID] = svc
	return copyService(svc), nil
}

func (tx *memTx) SetCurrentTicket(ctx context.Context, serviceID int64, ticketID *int64) error {
	svc, ok := tx.st.services[serviceID]
	if !ok {
		return store.ErrServiceNotFound
	}
	if ticketID == nil {
		svc.CurrentTicketID = nil
	} else {
		if _, ok := tx.st.tickets[*ticketID]; !ok {
			return store.ErrTicketNotFound
		}
		id := *ticketID
		svc.CurrentTicketID = &id
	}
	tx.st.services[serviceID] = svc
	return nil
}

func (tx *memTx) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	t, ok := tx.st.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return t, nil
}

func (tx *memTx) GetTicketByToken(ctx context.Context, token string) (models.Ticket, error) {
	id, ok := tx.st.tokens[token]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return tx.GetTicket(ctx, id)
}

func (tx *memTx) OldestWaiting(ctx context.Context, serviceID int64) (models.Ticket, error) {
	var oldest *models.Ticket
	for _, t := range tx.st.tickets {
		if t.ServiceID != serviceID || t.Status != models.StatusWaiting {
			continue
		}
		if oldest == nil || queuedBefore(t, *oldest) {
			candidate := t
			oldest = &candidate
		}
	}
	if oldest == nil {
		return models.Ticket{}, store.ErrNoTicket
	}
	return *oldest, nil
}

func (tx *memTx) CountWaiting(ctx context.Context, serviceID int64) (int, error) {
	count := 0
	for _, t := range tx.st.tickets {
		if t.ServiceID == serviceID && t.Status == models.StatusWaiting {
			count++
		}
	}
	return count, nil
}

func (tx *memTx) CountWaitingByService(ctx context.Context) (map[int64]int, error) {
	counts := make(map[int64]int)
	for _, t := range tx.st.tickets {
		if t.Status == models.StatusWaiting {
			counts[t.ServiceID]++
		}
	}
	return counts, nil
}

func (tx *memTx) CountAhead(ctx context.Context, ticket models.Ticket) (int, error) {
	count := 0
	for _, t := range tx.st.tickets {
		if t.ServiceID != ticket.ServiceID || t.ID == ticket.ID {
			continue
		}
		if t.Status != models.StatusWaiting && t.Status != models.StatusCalled {
			continue
		}
		if queuedBefore(t, ticket) {
			count++
		}
	}
	return count, nil
}

func (tx *memTx) CountCreatedBetween(ctx context.Context, serviceID int64, from, to time.Time) (int, error) {
	var count int
	for _, t := range tx.st.tickets {
		if t.ServiceID == serviceID && !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (tx *memTx) ListTicketsCreatedBetween(ctx context.Context, serviceID int64, from, to time.Time) ([]models.Ticket, error) {
	var tickets []models.Ticket
	for _, t := range tx.st.tickets {
		if t.ServiceID != serviceID {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return queuedBefore(tickets[i], tickets[j]) })
	return tickets, nil
}

func (tx *memTx) UpdateTicketStatus(ctx context.Context, ticketID int64, from, to string, at time.Time) (models.Ticket, error) {
	t, ok := tx.st.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if t.Status != from {
		return models.Ticket{}, store.ErrInvalidState
	}
	stamp := at
	t.Status = to
	switch to {
	case models.StatusCalled:
		t.CalledAt = &stamp
	case models.StatusServed:
		t.ServedAt = &stamp
	case models.StatusSkipped:
		t.SkippedAt = &stamp
	case models.StatusCanceled:
		t.CanceledAt = &stamp
	}
	tx.st.tickets[ticketID] = t
	return t, nil
}

func (tx *memTx) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if _, ok := tx.st.services[input.ServiceID]; !ok {
		return models.Ticket{}, store.ErrServiceNotFound
	}
	key := dayKey{serviceID: input.ServiceID, day: input.ServiceDay.Format(time.DateOnly), number: input.Number}
	if _, taken := tx.st.numbers[key]; taken {
		return models.Ticket{}, store.ErrDuplicateTicket
	}
	if _, taken := tx.st.tokens[input.Token]; taken {
		return models.Ticket{}, store.ErrDuplicateTicket
	}

	tx.st.lastTicket++
	t := models.Ticket{
		ID:        tx.st.lastTicket,
		ServiceID: input.ServiceID,
		Number:    input.Number,
		DisplayNo: input.DisplayNo,
		Token:     input.Token,
		Name:      optional(input.Name),
		StudentID: optional(input.StudentID),
		Status:    models.StatusWaiting,
		CreatedAt: input.CreatedAt,
	}
	tx.st.tickets[t.ID] = t
	tx.st.tokens[t.Token] = t.ID
	tx.st.numbers[key] = t.ID
	return t, nil
}

func (tx *memTx) AppendTicketEvent(ctx context.Context, ticketID int64, eventType string, payload []byte, at time.Time) error {
	if _, ok := tx.st.tickets[ticketID]; !ok {
		return store.ErrTicketNotFound
	}
	events := tx.st.events[ticketID]
	var last *store.TicketEvent
	if len(events) > 0 {
		last = &events[len(events)-1]
	}
	tx.st.events[ticketID] = append(events, store.ChainTicketEvent(last, ticketID, eventType, payload, at))
	return nil
}

func (tx *memTx) ListTicketEvents(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	if _, ok := tx.st.tickets[ticketID]; !ok {
		return nil, store.ErrTicketNotFound
	}
	return append([]store.TicketEvent(nil), tx.st.events[ticketID]...), nil
}

// queuedBefore orders tickets by creation time, then by id.
func queuedBefore(a, b models.Ticket) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func copyService(svc models.Service) models.Service {
	if svc.CurrentTicketID != nil {
		id := *svc.CurrentTicketID
		svc.CurrentTicketID = &id
	}
	return svc
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
