package store

import (
	"time"

	"circulationd/pkg/domain"
)

// Store is the circulation ledger: durable records for books, readers,
// tickets, reservations, and fines. Relationships are id-valued foreign
// keys resolved through lookups, never embedded object graphs.
type Store interface {
	// books
	GetBook(id string) (domain.Book, bool, error)
	SaveBook(b domain.Book) error

	// readers
	GetReader(id string) (domain.Reader, bool, error)
	SaveReader(r domain.Reader) error

	// borrow tickets
	GetBorrowTicket(id string) (domain.BorrowTicket, bool, error)
	SaveBorrowTicket(t domain.BorrowTicket) error
	CountActiveTickets(readerID string) (int, error)
	CountActiveTicketsForBook(bookID string) (int, error)
	ListTicketsByReader(readerID string) ([]domain.BorrowTicket, error)
	ListOverdueTickets(now time.Time) ([]domain.BorrowTicket, error)

	// return/renewal audit rows
	SaveReturnTicket(t domain.ReturnTicket) error
	GetReturnTicketFor(borrowTicketID string) (domain.ReturnTicket, bool, error)
	SaveRenewalTicket(t domain.RenewalTicket) error

	// reservations
	GetReservation(id string) (domain.Reservation, bool, error)
	SaveReservation(r domain.Reservation) error
	// ListOpenReservations returns Pending/Notified reservations for the
	// book ordered by ascending queue position.
	ListOpenReservations(bookID string) ([]domain.Reservation, error)
	FindOpenReservation(readerID, bookID string) (domain.Reservation, bool, error)
	CountOpenReservations(bookID string) (int, error)
	ListBooksWithOpenReservations() ([]string, error)

	// fines
	GetFine(id string) (domain.Fine, bool, error)
	SaveFine(f domain.Fine) error
	ListFinesByReader(readerID string) ([]domain.Fine, error)
	OutstandingFineTotal(readerID string) (int64, error)

	// invariant-violation capture
	SaveViolationReport(v ViolationReport) error

	// Transact runs fn against a transactional view of the store. Every
	// write fn performs either lands atomically or not at all.
	Transact(fn func(Store) error) error
}

// ViolationReport captures engine state at the moment an internal invariant
// broke, for offline investigation. Reports are written outside the failing
// transaction so they survive its rollback.
type ViolationReport struct {
	ID        string
	Component string
	Message   string
	Snapshot  map[string]any
	CreatedAt time.Time
}
