package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mamamind47/sfa-queue/internal/models"
	"github.com/mamamind47/sfa-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const ticketColumns = `id, service_id, number, display_no, token, name, student_id, status, created_at, called_at, served_at, skipped_at, canceled_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Callers that mutate a
// service take its row lock first, which serializes them per service.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetService(ctx context.Context, serviceID int64) (models.Service, error) {
	return scanService(t.tx.QueryRow(ctx, `
		SELECT id, code, name, is_open, current_ticket_id
		FROM services
		WHERE id = $1
	`, serviceID))
}

func (t *pgTx) GetServiceByCode(ctx context.Context, code string) (models.Service, error) {
	return scanService(t.tx.QueryRow(ctx, `
		SELECT id, code, name, is_open, current_ticket_id
		FROM services
		WHERE code = $1
	`, code))
}

func (t *pgTx) LockService(ctx context.Context, serviceID int64) (models.Service, error) {
	return scanService(t.tx.QueryRow(ctx, `
		SELECT id, code, name, is_open, current_ticket_id
		FROM services
		WHERE id = $1
		FOR UPDATE
	`, serviceID))
}

func (t *pgTx) LockServiceByCode(ctx context.Context, code string) (models.Service, error) {
	return scanService(t.tx.QueryRow(ctx, `
		SELECT id, code, name, is_open, current_ticket_id
		FROM services
		WHERE code = $1
		FOR UPDATE
	`, code))
}

func (t *pgTx) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, code, name, is_open, current_ticket_id
		FROM services
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (t *pgTx) UpsertService(ctx context.Context, code, name string) (models.Service, error) {
	return scanService(t.tx.QueryRow(ctx, `
		INSERT INTO services (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, code, name, is_open, current_ticket_id
	`, code, name))
}

func (t *pgTx) SetServiceOpen(ctx context.Context, serviceID int64, open bool) (models.Service, error) {
	return scanService(t.tx.QueryRow(ctx, `
		UPDATE services
		SET is_open = $2
		WHERE id = $1
		RETURNING id, code, name, is_open, current_ticket_id
	`, serviceID, open))
}

func (t *pgTx) SetCurrentTicket(ctx context.Context, serviceID int64, ticketID *int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE services
		SET current_ticket_id = $2
		WHERE id = $1
	`, serviceID, ticketID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrServiceNotFound
	}
	return nil
}

func (t *pgTx) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	return scanTicket(t.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID))
}

func (t *pgTx) GetTicketByToken(ctx context.Context, token string) (models.Ticket, error) {
	return scanTicket(t.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE token = $1`, token))
}

func (t *pgTx) OldestWaiting(ctx context.Context, serviceID int64) (models.Ticket, error) {
	ticket, err := scanTicket(t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE service_id = $1 AND status = 'WAITING'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, serviceID))
	if errors.Is(err, store.ErrTicketNotFound) {
		return models.Ticket{}, store.ErrNoTicket
	}
	return ticket, err
}

func (t *pgTx) CountWaiting(ctx context.Context, serviceID int64) (int, error) {
	var count int
	row := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets WHERE service_id = $1 AND status = 'WAITING'
	`, serviceID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *pgTx) CountWaitingByService(ctx context.Context) (map[int64]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT service_id, COUNT(*)
		FROM tickets
		WHERE status = 'WAITING'
		GROUP BY service_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var serviceID int64
		var count int
		if err := rows.Scan(&serviceID, &count); err != nil {
			return nil, err
		}
		counts[serviceID] = count
	}
	return counts, rows.Err()
}

func (t *pgTx) CountAhead(ctx context.Context, ticket models.Ticket) (int, error) {
	var count int
	row := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE service_id = $1
		  AND status IN ('WAITING', 'CALLED')
		  AND (created_at < $2 OR (created_at = $2 AND id < $3))
	`, ticket.ServiceID, ticket.CreatedAt, ticket.ID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *pgTx) CountCreatedBetween(ctx context.Context, serviceID int64, from, to time.Time) (int, error) {
	var count int
	row := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE service_id = $1 AND created_at >= $2 AND created_at < $3
	`, serviceID, from, to)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *pgTx) ListTicketsCreatedBetween(ctx context.Context, serviceID int64, from, to time.Time) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE service_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, id ASC
	`, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (t *pgTx) UpdateTicketStatus(ctx context.Context, ticketID int64, from, to string, at time.Time) (models.Ticket, error) {
	column, err := timestampColumn(to)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket, err := scanTicket(t.tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE tickets
		SET status = $1, %s = $2
		WHERE id = $3 AND status = $4
		RETURNING `+ticketColumns, column), to, at, ticketID, from))
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, store.ErrTicketNotFound) {
		return models.Ticket{}, err
	}

	status, exists, err := loadTicketState(ctx, t.tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !exists {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return models.Ticket{}, fmt.Errorf("%w: ticket is %s", store.ErrInvalidState, status)
}

func (t *pgTx) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	ticket, err := scanTicket(t.tx.QueryRow(ctx, `
		INSERT INTO tickets (service_id, number, service_day, display_no, token, name, student_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'WAITING', $8)
		RETURNING `+ticketColumns,
		input.ServiceID,
		input.Number,
		dateOnly(input.ServiceDay),
		input.DisplayNo,
		input.Token,
		nullIfEmpty(input.Name),
		nullIfEmpty(input.StudentID),
		input.CreatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.Ticket{}, store.ErrDuplicateTicket
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (t *pgTx) AppendTicketEvent(ctx context.Context, ticketID int64, eventType string, payload []byte, at time.Time) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ticketID); err != nil {
		return err
	}

	var last *store.TicketEvent
	var prev store.TicketEvent
	row := t.tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticketID)
	if err := row.Scan(&prev.Seq, &prev.Hash); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	} else {
		last = &prev
	}

	event := store.ChainTicketEvent(last, ticketID, eventType, payload, at)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TicketID, event.Seq, event.Type, []byte(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func (t *pgTx) ListTicketEvents(ctx context.Context, ticketID int64) ([]store.TicketEvent, error) {
	if _, exists, err := loadTicketState(ctx, t.tx, ticketID); err != nil {
		return nil, err
	} else if !exists {
		return nil, store.ErrTicketNotFound
	}

	rows, err := t.tx.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TicketEvent
	for rows.Next() {
		var event store.TicketEvent
		var payload []byte
		if err := rows.Scan(&event.TicketID, &event.Seq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = payload
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

func timestampColumn(status string) (string, error) {
	switch status {
	case models.StatusCalled:
		return "called_at", nil
	case models.StatusServed:
		return "served_at", nil
	case models.StatusSkipped:
		return "skipped_at", nil
	case models.StatusCanceled:
		return "canceled_at", nil
	default:
		return "", fmt.Errorf("%w: no transition into %s", store.ErrInvalidState, status)
	}
}

func loadTicketState(ctx context.Context, tx pgx.Tx, ticketID int64) (string, bool, error) {
	var status string
	row := tx.QueryRow(ctx, `SELECT status FROM tickets WHERE id = $1`, ticketID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func scanService(row pgx.Row) (models.Service, error) {
	var svc models.Service
	var current sql.NullInt64
	if err := row.Scan(&svc.ID, &svc.Code, &svc.Name, &svc.IsOpen, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	if current.Valid {
		id := current.Int64
		svc.CurrentTicketID = &id
	}
	return svc, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var name, studentID sql.NullString
	var calledAt, servedAt, skippedAt, canceledAt sql.NullTime
	err := row.Scan(
		&ticket.ID,
		&ticket.ServiceID,
		&ticket.Number,
		&ticket.DisplayNo,
		&ticket.Token,
		&name,
		&studentID,
		&ticket.Status,
		&ticket.CreatedAt,
		&calledAt,
		&servedAt,
		&skippedAt,
		&canceledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	ticket.Name = nullStringPtr(name)
	ticket.StudentID = nullStringPtr(studentID)
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.ServedAt = nullTimePtr(servedAt)
	ticket.SkippedAt = nullTimePtr(skippedAt)
	ticket.CanceledAt = nullTimePtr(canceledAt)
	return ticket, nil
}

func dateOnly(value time.Time) time.Time {
	y, m, d := value.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
