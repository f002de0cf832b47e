package store

import (
	"context"
	"time"

	"github.com/mamamind47/sfa-queue/internal/models"
)

type CreateTicketInput struct {
	ServiceID  int64
	Number     int
	ServiceDay time.Time
	DisplayNo  string
	Token      string
	Name       string
	StudentID  string
	CreatedAt  time.Time
}

// Store runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise; nothing fn wrote is visible to other
// transactions before the commit.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction.
type Tx interface {
	GetService(ctx context.Context, serviceID int64) (models.Service, error)
	GetServiceByCode(ctx context.Context, code string) (models.Service, error)
	// LockService reads the service and holds a write lock on it until the
	// transaction ends. Mutating operations call it first.
	LockService(ctx context.Context, serviceID int64) (models.Service, error)
	LockServiceByCode(ctx context.Context, code string) (models.Service, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	UpsertService(ctx context.Context, code, name string) (models.Service, error)
	SetServiceOpen(ctx context.Context, serviceID int64, open bool) (models.Service, error)
	SetCurrentTicket(ctx context.Context, serviceID int64, ticketID *int64) error

	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	GetTicketByToken(ctx context.Context, token string) (models.Ticket, error)
	// OldestWaiting returns ErrNoTicket when the service has no WAITING ticket.
	OldestWaiting(ctx context.Context, serviceID int64) (models.Ticket, error)
	CountWaiting(ctx context.Context, serviceID int64) (int, error)
	CountWaitingByService(ctx context.Context) (map[int64]int, error)
	// CountAhead counts WAITING and CALLED tickets queued before the given ticket.
	CountAhead(ctx context.Context, ticket models.Ticket) (int, error)
	// CountCreatedBetween counts tickets created in [from, to).
	CountCreatedBetween(ctx context.Context, serviceID int64, from, to time.Time) (int, error)
	// ListTicketsCreatedBetween lists tickets created in [from, to), oldest first.
	ListTicketsCreatedBetween(ctx context.Context, serviceID int64, from, to time.Time) ([]models.Ticket, error)
	// UpdateTicketStatus moves the ticket from -> to and stamps the timestamp
	// belonging to the target status. It returns ErrTicketNotFound when the
	// ticket does not exist and ErrInvalidState when its status is not from.
	UpdateTicketStatus(ctx context.Context, ticketID int64, from, to string, at time.Time) (models.Ticket, error)
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)

	AppendTicketEvent(ctx context.Context, ticketID int64, eventType string, payload []byte, at time.Time) error
	ListTicketEvents(ctx context.Context, ticketID int64) ([]TicketEvent, error)
}
