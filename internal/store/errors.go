package store

import "errors"

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrNoTicket        = errors.New("no ticket available")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrDuplicateTicket = errors.New("duplicate ticket number")
	ErrBrokenChain     = errors.New("ticket event chain broken")
)
