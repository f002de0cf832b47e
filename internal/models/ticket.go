package models

import (
	"fmt"
	"time"
)

const (
	StatusWaiting  = "WAITING"
	StatusCalled   = "CALLED"
	StatusServed   = "SERVED"
	StatusSkipped  = "SKIPPED"
	StatusCanceled = "CANCELED"
)

const ticketNumberPad = 3

type Ticket struct {
	ID         int64      `json:"id"`
	ServiceID  int64      `json:"serviceId"`
	Number     int        `json:"number"`
	DisplayNo  string     `json:"displayNo"`
	Token      string     `json:"token,omitempty"`
	Name       *string    `json:"name"`
	StudentID  *string    `json:"studentId,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	CalledAt   *time.Time `json:"calledAt,omitempty"`
	ServedAt   *time.Time `json:"servedAt,omitempty"`
	SkippedAt  *time.Time `json:"skippedAt,omitempty"`
	CanceledAt *time.Time `json:"canceledAt,omitempty"`
}

// TicketView is the projection shown on displays and pushed on the live channel.
// It never carries the visitor token.
type TicketView struct {
	ID        int64      `json:"id"`
	DisplayNo string     `json:"displayNo"`
	Name      *string    `json:"name"`
	ServiceID int64      `json:"serviceId"`
	Status    string     `json:"status"`
	CalledAt  *time.Time `json:"calledAt"`
	ServedAt  *time.Time `json:"servedAt"`
	SkippedAt *time.Time `json:"skippedAt"`
}

func (t Ticket) View() *TicketView {
	return &TicketView{
		ID:        t.ID,
		DisplayNo: t.DisplayNo,
		Name:      t.Name,
		ServiceID: t.ServiceID,
		Status:    t.Status,
		CalledAt:  t.CalledAt,
		ServedAt:  t.ServedAt,
		SkippedAt: t.SkippedAt,
	}
}

// ViewOf returns nil for a nil ticket.
func ViewOf(t *Ticket) *TicketView {
	if t == nil {
		return nil
	}
	return t.View()
}

func IsTerminal(status string) bool {
	switch status {
	case StatusServed, StatusSkipped, StatusCanceled:
		return true
	}
	return false
}

func ValidStatus(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusServed, StatusSkipped, StatusCanceled:
		return true
	}
	return false
}

// DisplayNo formats a ticket label such as A001.
func DisplayNo(code string, number int) string {
	return fmt.Sprintf("%s%0*d", code, ticketNumberPad, number)
}

// DayRange returns the local business day containing now as the half-open
// range [midnight, next midnight).
func DayRange(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
