package circulation

import (
	"fmt"

	"circulationd/internal/store"
	"circulationd/internal/util"
	"circulationd/pkg/clock"
	"circulationd/pkg/domain"
)

// Renewals extends due dates subject to the reader's renewal cap and to
// reservation pressure on the book.
type Renewals struct {
	clock clock.Clock
}

// NewRenewals creates the renewal policy engine.
func NewRenewals(c clock.Clock) *Renewals {
	return &Renewals{clock: c}
}

// Renew extends the ticket's due date by the reader's renewalDays, increments
// the renewal count, and appends an audit row. A renewal is refused while
// another reader holds an open, unexpired reservation for the book: extending
// the loan would push the copy past that reader's turn.
func (r *Renewals) Renew(ledger store.Store, ticket domain.BorrowTicket, reader domain.Reader, processedBy string) (domain.RenewalTicket, error) {
	if ticket.Status != domain.TicketActive {
		return domain.RenewalTicket{}, &ConflictError{
			Message: fmt.Sprintf("ticket %s is %s, only active loans renew", ticket.ID, ticket.Status),
		}
	}
	if ticket.RenewalCount >= reader.MaxRenewals {
		return domain.RenewalTicket{}, &PolicyError{
			Code:    CodeRenewalLimitExceeded,
			Message: fmt.Sprintf("ticket %s already renewed %d times (limit %d)", ticket.ID, ticket.RenewalCount, reader.MaxRenewals),
		}
	}

	now := r.clock.Now()
	open, err := ledger.ListOpenReservations(ticket.BookID)
	if err != nil {
		return domain.RenewalTicket{}, fmt.Errorf("list reservations: %w", err)
	}
	for _, res := range open {
		if res.ReaderID != ticket.ReaderID && res.ExpiryDate.After(now) {
			return domain.RenewalTicket{}, &PolicyError{
				Code:    CodeBookReserved,
				Message: fmt.Sprintf("book %s has a pending reservation", ticket.BookID),
			}
		}
	}

	oldDue := ticket.DueDate
	ticket.DueDate = oldDue.AddDate(0, 0, reader.RenewalDays)
	ticket.RenewalCount++
	if err := ledger.SaveBorrowTicket(ticket); err != nil {
		return domain.RenewalTicket{}, fmt.Errorf("save borrow ticket: %w", err)
	}
	row := domain.RenewalTicket{
		ID:             util.NewID(),
		BorrowTicketID: ticket.ID,
		OldDueDate:     oldDue,
		NewDueDate:     ticket.DueDate,
		RenewalNumber:  ticket.RenewalCount,
		RenewedAt:      now,
		ProcessedBy:    processedBy,
	}
	if err := ledger.SaveRenewalTicket(row); err != nil {
		return domain.RenewalTicket{}, fmt.Errorf("save renewal ticket: %w", err)
	}
	return row, nil
}
