package models

type Service struct {
	ID              int64  `json:"id"`
	Code            string `json:"code"`
	Name            string `json:"name"`
	IsOpen          bool   `json:"isOpen"`
	CurrentTicketID *int64 `json:"currentTicketId,omitempty"`
}

type ServiceSummary struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	IsOpen  bool   `json:"isOpen"`
	Waiting int    `json:"waiting"`
}

// Snapshot is the full live state of one service.
type Snapshot struct {
	Service Service     `json:"service"`
	Current *TicketView `json:"current"`
	Next    *TicketView `json:"next"`
	Waiting int         `json:"waiting"`
}

func (s Service) Summary(waiting int) ServiceSummary {
	return ServiceSummary{
		ID:      s.ID,
		Code:    s.Code,
		Name:    s.Name,
		IsOpen:  s.IsOpen,
		Waiting: waiting,
	}
}

// IsCurrent reports whether ticketID is the service's current ticket.
func (s Service) IsCurrent(ticketID int64) bool {
	return s.CurrentTicketID != nil && *s.CurrentTicketID == ticketID
}
