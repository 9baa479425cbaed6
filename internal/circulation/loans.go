package circulation

import (
	"fmt"

	"circulationd/internal/store"
	"circulationd/internal/util"
	"circulationd/pkg/clock"
	"circulationd/pkg/domain"
)

// Loans drives the borrow-ticket lifecycle: Active -> Returned | Lost.
// Overdue is derived from the due date at read time, never stored, so there
// is no background transition to race against.
type Loans struct {
	clock clock.Clock
}

// NewLoans creates the loan state machine.
func NewLoans(c clock.Clock) *Loans {
	return &Loans{clock: c}
}

// CheckBorrow verifies the reader-side borrow preconditions. The copy-side
// precondition (an available copy) is the availability tracker's job.
func (l *Loans) CheckBorrow(ledger store.Store, reader domain.Reader, maxOutstandingFine int64) error {
	if reader.Status != domain.ReaderActive {
		return &PolicyError{
			Code:    CodeReaderSuspended,
			Message: fmt.Sprintf("reader %s is %s", reader.ID, reader.Status),
		}
	}
	active, err := ledger.CountActiveTickets(reader.ID)
	if err != nil {
		return fmt.Errorf("count active tickets: %w", err)
	}
	if active >= reader.MaxBooksAllowed {
		return &PolicyError{
			Code:    CodeBorrowLimitExceeded,
			Message: fmt.Sprintf("reader %s already has %d active loans (limit %d)", reader.ID, active, reader.MaxBooksAllowed),
		}
	}
	outstanding, err := ledger.OutstandingFineTotal(reader.ID)
	if err != nil {
		return fmt.Errorf("sum outstanding fines: %w", err)
	}
	if outstanding > maxOutstandingFine {
		return &PolicyError{
			Code:    CodeOutstandingFinesExceeded,
			Message: fmt.Sprintf("reader %s owes %d (limit %d)", reader.ID, outstanding, maxOutstandingFine),
		}
	}
	return nil
}

// Create opens an Active ticket due maxBorrowDays from now.
func (l *Loans) Create(ledger store.Store, reader domain.Reader, bookID, processedBy, note string) (domain.BorrowTicket, error) {
	now := l.clock.Now()
	ticket := domain.BorrowTicket{
		ID:          util.NewID(),
		ReaderID:    reader.ID,
		BookID:      bookID,
		BorrowDate:  now,
		DueDate:     now.AddDate(0, 0, reader.MaxBorrowDays),
		Status:      domain.TicketActive,
		Note:        note,
		ProcessedBy: processedBy,
	}
	if err := ledger.SaveBorrowTicket(ticket); err != nil {
		return domain.BorrowTicket{}, fmt.Errorf("save borrow ticket: %w", err)
	}
	return ticket, nil
}

// Close transitions an Active ticket to Returned or Lost and appends the
// return audit row. Closing an already-closed ticket is a no-op success that
// returns the original return row, so a retried Return never double-releases
// a copy.
func (l *Loans) Close(ledger store.Store, ticket domain.BorrowTicket, condition domain.ReturnCondition, processedBy, note string) (domain.ReturnTicket, bool, error) {
	if ticket.Status != domain.TicketActive {
		existing, found, err := ledger.GetReturnTicketFor(ticket.ID)
		if err != nil {
			return domain.ReturnTicket{}, false, fmt.Errorf("load return ticket: %w", err)
		}
		if !found {
			return domain.ReturnTicket{}, false, &InvariantError{
				Component: "loans",
				Message:   "closed ticket has no return row",
				Snapshot:  map[string]any{"ticketId": ticket.ID, "status": ticket.Status},
			}
		}
		return existing, true, nil
	}

	now := l.clock.Now()
	status := domain.TicketReturned
	if condition == domain.ConditionLost {
		status = domain.TicketLost
	}
	returnRow := domain.ReturnTicket{
		ID:              util.NewID(),
		BorrowTicketID:  ticket.ID,
		ReaderID:        ticket.ReaderID,
		BookID:          ticket.BookID,
		ReturnDate:      now,
		OriginalDueDate: ticket.DueDate,
		Condition:       condition,
		Note:            note,
		ProcessedBy:     processedBy,
	}
	ticket.Status = status
	ticket.ReturnDate = &now
	if err := ledger.SaveBorrowTicket(ticket); err != nil {
		return domain.ReturnTicket{}, false, fmt.Errorf("save borrow ticket: %w", err)
	}
	if err := ledger.SaveReturnTicket(returnRow); err != nil {
		return domain.ReturnTicket{}, false, fmt.Errorf("save return ticket: %w", err)
	}
	return returnRow, false, nil
}
