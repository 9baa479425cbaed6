package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"circulationd/internal/locking"
	"circulationd/internal/store"
	"circulationd/internal/util"
	"circulationd/pkg/clock"
	"circulationd/pkg/domain"
)

// Coordinator is the single entry point for circulation operations. Each
// public call takes the target book's lock, runs every component side effect
// inside one ledger transaction, and either commits all of them or none.
// Operations on different books proceed independently; no call ever touches
// more than one book.
type Coordinator struct {
	ledger store.Store
	locks  locking.KeyLock
	clock  clock.Clock
	logger *slog.Logger

	avail    *Availability
	loans    *Loans
	renewals *Renewals
	queue    *Reservations
	fines    *Fines
	policy   FinePolicy
}

// Config wires the coordinator's dependencies. Ledger is required; the rest
// default to in-process implementations.
type Config struct {
	Ledger store.Store
	Locks  locking.KeyLock
	Clock  clock.Clock
	Logger *slog.Logger

	Fines               FinePolicy
	ReservationHoldDays int
	PickupDays          int
}

// New constructs the coordinator and its component engines.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("coordinator requires a ledger store")
	}
	if cfg.Locks == nil {
		cfg.Locks = locking.NewKeyMutex()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReservationHoldDays <= 0 {
		cfg.ReservationHoldDays = 7
	}
	if cfg.PickupDays <= 0 {
		cfg.PickupDays = 3
	}
	return &Coordinator{
		ledger:   cfg.Ledger,
		locks:    cfg.Locks,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		avail:    NewAvailability(cfg.Clock),
		loans:    NewLoans(cfg.Clock),
		renewals: NewRenewals(cfg.Clock),
		queue:    NewReservations(cfg.Clock, cfg.ReservationHoldDays, cfg.PickupDays),
		fines:    NewFines(cfg.Clock, cfg.Fines),
		policy:   cfg.Fines,
	}, nil
}

// Borrow checks the reader's borrow preconditions, claims a copy, and opens
// an Active ticket. A reader holding a notified reservation for the book
// consumes the copy already held for them instead of claiming a new one.
func (c *Coordinator) Borrow(ctx context.Context, actor domain.Actor, readerID, bookID string) (domain.BorrowTicket, error) {
	if err := actorForReader(actor, readerID); err != nil {
		return domain.BorrowTicket{}, err
	}
	if readerID == "" || bookID == "" {
		return domain.BorrowTicket{}, &ValidationError{Message: "readerId and bookId are required"}
	}
	var ticket domain.BorrowTicket
	err := c.withBook(ctx, "borrow", bookID, func(ledger store.Store) error {
		reader, found, err := ledger.GetReader(readerID)
		if err != nil {
			return fmt.Errorf("load reader: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "reader", ID: readerID}
		}
		if err := c.loans.CheckBorrow(ledger, reader, c.policy.MaxOutstandingFine); err != nil {
			return err
		}

		hold, holding, err := ledger.FindOpenReservation(readerID, bookID)
		if err != nil {
			return fmt.Errorf("find open reservation: %w", err)
		}
		if holding && hold.Status == domain.ReservationNotified {
			// Copy was already set aside at notification time.
			if _, err := c.queue.ConsumeHold(ledger, hold); err != nil {
				return err
			}
		} else {
			ok, _, err := c.avail.TryReserve(ledger, bookID)
			if err != nil {
				return err
			}
			if !ok {
				return &ConflictError{Message: fmt.Sprintf("no copy of book %s available", bookID)}
			}
		}

		ticket, err = c.loans.Create(ledger, reader, bookID, actor.ID, "")
		return err
	})
	if err != nil {
		return domain.BorrowTicket{}, err
	}
	return ticket, nil
}

// Return closes a loan, assesses fines, puts the copy back into circulation,
// and fulfills the wait-list. A lost copy leaves the collection instead of
// returning to the pool. Returning an already-closed ticket is a no-op
// success that yields the original return row.
func (c *Coordinator) Return(ctx context.Context, actor domain.Actor, ticketID string, condition domain.ReturnCondition, note string) (domain.ReturnTicket, error) {
	if !actor.IsStaff() {
		return domain.ReturnTicket{}, &ForbiddenError{Message: "returns are processed by librarians"}
	}
	switch condition {
	case domain.ConditionGood, domain.ConditionDamaged, domain.ConditionLost:
	default:
		return domain.ReturnTicket{}, &ValidationError{Message: fmt.Sprintf("unknown return condition %q", condition)}
	}
	ticket, found, err := c.ledger.GetBorrowTicket(ticketID)
	if err != nil {
		return domain.ReturnTicket{}, fmt.Errorf("load ticket: %w", err)
	}
	if !found {
		return domain.ReturnTicket{}, &NotFoundError{Resource: "borrow ticket", ID: ticketID}
	}

	var returnRow domain.ReturnTicket
	err = c.withBook(ctx, "return", ticket.BookID, func(ledger store.Store) error {
		// Re-read under the lock; the optimistic copy may be stale.
		current, found, err := ledger.GetBorrowTicket(ticketID)
		if err != nil {
			return fmt.Errorf("load ticket: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "borrow ticket", ID: ticketID}
		}
		row, alreadyClosed, err := c.loans.Close(ledger, current, condition, actor.ID, note)
		if err != nil {
			return err
		}
		returnRow = row
		if alreadyClosed {
			return nil
		}
		if _, err := c.fines.OnReturn(ledger, row); err != nil {
			return err
		}
		if condition == domain.ConditionLost {
			return c.removeLostCopy(ledger, current.BookID)
		}
		if err := c.avail.Release(ledger, current.BookID); err != nil {
			return err
		}
		_, err = c.queue.Fulfill(ledger, c.avail, current.BookID)
		return err
	})
	if err != nil {
		return domain.ReturnTicket{}, err
	}
	return returnRow, nil
}

// removeLostCopy shrinks the collection by the copy that will not come back,
// keeping available + active loans == total.
func (c *Coordinator) removeLostCopy(ledger store.Store, bookID string) error {
	book, found, err := ledger.GetBook(bookID)
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	if !found {
		return &NotFoundError{Resource: "book", ID: bookID}
	}
	if book.TotalCopies <= 0 {
		return &InvariantError{
			Component: "coordinator",
			Message:   "lost copy reported for a book with no copies",
			Snapshot:  map[string]any{"bookId": bookID, "totalCopies": book.TotalCopies},
		}
	}
	book.TotalCopies--
	book.UpdatedAt = c.clock.Now()
	if err := ledger.SaveBook(book); err != nil {
		return fmt.Errorf("save book: %w", err)
	}
	return nil
}

// Renew extends a loan subject to the renewal cap and reservation pressure.
func (c *Coordinator) Renew(ctx context.Context, actor domain.Actor, ticketID string) (domain.RenewalTicket, error) {
	ticket, found, err := c.ledger.GetBorrowTicket(ticketID)
	if err != nil {
		return domain.RenewalTicket{}, fmt.Errorf("load ticket: %w", err)
	}
	if !found {
		return domain.RenewalTicket{}, &NotFoundError{Resource: "borrow ticket", ID: ticketID}
	}
	if err := actorForReader(actor, ticket.ReaderID); err != nil {
		return domain.RenewalTicket{}, err
	}

	var row domain.RenewalTicket
	err = c.withBook(ctx, "renew", ticket.BookID, func(ledger store.Store) error {
		current, found, err := ledger.GetBorrowTicket(ticketID)
		if err != nil {
			return fmt.Errorf("load ticket: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "borrow ticket", ID: ticketID}
		}
		reader, found, err := ledger.GetReader(current.ReaderID)
		if err != nil {
			return fmt.Errorf("load reader: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "reader", ID: current.ReaderID}
		}
		row, err = c.renewals.Renew(ledger, current, reader, actor.ID)
		return err
	})
	if err != nil {
		return domain.RenewalTicket{}, err
	}
	return row, nil
}

// Reserve queues the reader on a fully-checked-out book's wait-list.
func (c *Coordinator) Reserve(ctx context.Context, actor domain.Actor, readerID, bookID string) (domain.Reservation, error) {
	if err := actorForReader(actor, readerID); err != nil {
		return domain.Reservation{}, err
	}
	if readerID == "" || bookID == "" {
		return domain.Reservation{}, &ValidationError{Message: "readerId and bookId are required"}
	}
	var res domain.Reservation
	err := c.withBook(ctx, "reserve", bookID, func(ledger store.Store) error {
		if _, found, err := ledger.GetReader(readerID); err != nil {
			return fmt.Errorf("load reader: %w", err)
		} else if !found {
			return &NotFoundError{Resource: "reader", ID: readerID}
		}
		var err error
		res, err = c.queue.Request(ledger, readerID, bookID, "")
		return err
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// Approve clears a pending reservation for fulfillment and immediately
// fulfills the queue in case copies are already free.
func (c *Coordinator) Approve(ctx context.Context, actor domain.Actor, reservationID, note string) (domain.Reservation, error) {
	if !actor.IsStaff() {
		return domain.Reservation{}, &ForbiddenError{Message: "reservation approval is a librarian operation"}
	}
	return c.reservationOp(ctx, "approve", reservationID, func(ledger store.Store, res domain.Reservation) (domain.Reservation, error) {
		approved, err := c.queue.Approve(ledger, res, actor.ID, note)
		if err != nil {
			return domain.Reservation{}, err
		}
		if _, err := c.queue.Fulfill(ledger, c.avail, res.BookID); err != nil {
			return domain.Reservation{}, err
		}
		// Fulfillment may have notified the entry just approved.
		current, _, err := ledger.GetReservation(approved.ID)
		if err != nil {
			return domain.Reservation{}, fmt.Errorf("load reservation: %w", err)
		}
		return current, nil
	})
}

// Reject declines a pending reservation.
func (c *Coordinator) Reject(ctx context.Context, actor domain.Actor, reservationID, reason string) (domain.Reservation, error) {
	if !actor.IsStaff() {
		return domain.Reservation{}, &ForbiddenError{Message: "reservation rejection is a librarian operation"}
	}
	return c.reservationOp(ctx, "reject", reservationID, func(ledger store.Store, res domain.Reservation) (domain.Reservation, error) {
		return c.queue.Reject(ledger, res, actor.ID, reason)
	})
}

// Cancel closes a reservation at the reader's request. Cancelling a notified
// reservation puts its held copy back into circulation and fulfills the next
// entrant.
func (c *Coordinator) Cancel(ctx context.Context, actor domain.Actor, reservationID string) error {
	res, found, err := c.ledger.GetReservation(reservationID)
	if err != nil {
		return fmt.Errorf("load reservation: %w", err)
	}
	if !found {
		return &NotFoundError{Resource: "reservation", ID: reservationID}
	}
	if err := actorForReader(actor, res.ReaderID); err != nil {
		return err
	}
	_, err = c.reservationOp(ctx, "cancel", reservationID, func(ledger store.Store, current domain.Reservation) (domain.Reservation, error) {
		cancelled, heldCopy, err := c.queue.Cancel(ledger, current)
		if err != nil {
			return domain.Reservation{}, err
		}
		if heldCopy {
			if err := c.avail.Release(ledger, current.BookID); err != nil {
				return domain.Reservation{}, err
			}
			if _, err := c.queue.Fulfill(ledger, c.avail, current.BookID); err != nil {
				return domain.Reservation{}, err
			}
		}
		return cancelled, nil
	})
	return err
}

// PayFine settles a fine. Retrying a paid fine is a no-op success.
func (c *Coordinator) PayFine(ctx context.Context, actor domain.Actor, fineID string) (domain.Fine, error) {
	fine, found, err := c.ledger.GetFine(fineID)
	if err != nil {
		return domain.Fine{}, fmt.Errorf("load fine: %w", err)
	}
	if !found {
		return domain.Fine{}, &NotFoundError{Resource: "fine", ID: fineID}
	}
	if err := actorForReader(actor, fine.ReaderID); err != nil {
		return domain.Fine{}, err
	}
	var paid domain.Fine
	err = c.transact(ctx, "pay_fine", func(ledger store.Store) error {
		current, found, err := ledger.GetFine(fineID)
		if err != nil {
			return fmt.Errorf("load fine: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "fine", ID: fineID}
		}
		paid, err = c.fines.Pay(ledger, current)
		return err
	})
	if err != nil {
		return domain.Fine{}, err
	}
	return paid, nil
}

// WaiveFine forgives a fine; staff only.
func (c *Coordinator) WaiveFine(ctx context.Context, actor domain.Actor, fineID string) (domain.Fine, error) {
	if !actor.IsStaff() {
		return domain.Fine{}, &ForbiddenError{Message: "waiving fines is a librarian operation"}
	}
	var waived domain.Fine
	err := c.transact(ctx, "waive_fine", func(ledger store.Store) error {
		current, found, err := ledger.GetFine(fineID)
		if err != nil {
			return fmt.Errorf("load fine: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "fine", ID: fineID}
		}
		waived, err = c.fines.Waive(ledger, current, actor.ID)
		return err
	})
	if err != nil {
		return domain.Fine{}, err
	}
	return waived, nil
}

// GetBookAvailability returns the book's circulation snapshot.
func (c *Coordinator) GetBookAvailability(ctx context.Context, bookID string) (domain.Availability, error) {
	var snapshot domain.Availability
	err := c.withBook(ctx, "availability", bookID, func(ledger store.Store) error {
		book, found, err := ledger.GetBook(bookID)
		if err != nil {
			return fmt.Errorf("load book: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "book", ID: bookID}
		}
		queueLen, err := ledger.CountOpenReservations(bookID)
		if err != nil {
			return fmt.Errorf("count reservations: %w", err)
		}
		snapshot = domain.Availability{
			BookID:      bookID,
			Total:       book.TotalCopies,
			Available:   book.AvailableCopies,
			QueueLength: queueLen,
		}
		return nil
	})
	if err != nil {
		return domain.Availability{}, err
	}
	return snapshot, nil
}

// ListBookQueue returns a book's open reservations in queue order.
func (c *Coordinator) ListBookQueue(ctx context.Context, bookID string) ([]domain.Reservation, error) {
	return c.ledger.ListOpenReservations(bookID)
}

// ListReaderLoans returns a reader's tickets; readers see only their own.
func (c *Coordinator) ListReaderLoans(ctx context.Context, actor domain.Actor, readerID string) ([]domain.BorrowTicket, error) {
	if err := actorForReader(actor, readerID); err != nil {
		return nil, err
	}
	return c.ledger.ListTicketsByReader(readerID)
}

// ListReaderFines returns a reader's fines; readers see only their own.
func (c *Coordinator) ListReaderFines(ctx context.Context, actor domain.Actor, readerID string) ([]domain.Fine, error) {
	if err := actorForReader(actor, readerID); err != nil {
		return nil, err
	}
	return c.ledger.ListFinesByReader(readerID)
}

// ListOverdueTickets derives the currently overdue loans; staff only.
func (c *Coordinator) ListOverdueTickets(ctx context.Context, actor domain.Actor) ([]domain.BorrowTicket, error) {
	if !actor.IsStaff() {
		return nil, &ForbiddenError{Message: "overdue reports are a librarian operation"}
	}
	return c.ledger.ListOverdueTickets(c.clock.Now())
}

// ExpireReservations sweeps every open queue, expiring elapsed entries and
// handing any copies they held to the next eligible entrants.
func (c *Coordinator) ExpireReservations(ctx context.Context) error {
	books, err := c.ledger.ListBooksWithOpenReservations()
	if err != nil {
		return fmt.Errorf("list open queues: %w", err)
	}
	for _, bookID := range books {
		err := c.withBook(ctx, "expire_reservations", bookID, func(ledger store.Store) error {
			released, err := c.queue.ExpireElapsed(ledger, c.avail, bookID)
			if err != nil {
				return err
			}
			if released > 0 {
				if _, err := c.queue.Fulfill(ledger, c.avail, bookID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// withBook serializes the operation on the book's lock, then applies it in
// one ledger transaction.
func (c *Coordinator) withBook(ctx context.Context, op, bookID string, fn func(store.Store) error) error {
	release, err := c.locks.Acquire(ctx, bookID)
	if err != nil {
		return fmt.Errorf("acquire book lock: %w", err)
	}
	defer release()
	return c.transact(ctx, op, fn)
}

// transact runs fn atomically. An invariant violation aborts the transaction
// (rolling back every side effect, including a claimed copy) and is reported
// with its state snapshot before the error propagates.
func (c *Coordinator) transact(ctx context.Context, op string, fn func(store.Store) error) error {
	err := c.ledger.Transact(fn)
	var inv *InvariantError
	if errors.As(err, &inv) {
		c.reportViolation(ctx, op, inv)
	}
	return err
}

func (c *Coordinator) reportViolation(ctx context.Context, op string, inv *InvariantError) {
	util.LoggerFromContext(ctx).Error("invariant_violation",
		"op", op,
		"component", inv.Component,
		"message", inv.Message,
		"snapshot", inv.Snapshot,
	)
	report := store.ViolationReport{
		ID:        util.NewID(),
		Component: inv.Component,
		Message:   fmt.Sprintf("%s during %s", inv.Message, op),
		Snapshot:  inv.Snapshot,
		CreatedAt: c.clock.Now(),
	}
	if err := c.ledger.SaveViolationReport(report); err != nil {
		c.logger.Error("save violation report", "error", err)
	}
}

// reservationOp loads the reservation, locks its book, and applies fn to the
// re-read entry inside a transaction.
func (c *Coordinator) reservationOp(ctx context.Context, op, reservationID string, fn func(store.Store, domain.Reservation) (domain.Reservation, error)) (domain.Reservation, error) {
	res, found, err := c.ledger.GetReservation(reservationID)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("load reservation: %w", err)
	}
	if !found {
		return domain.Reservation{}, &NotFoundError{Resource: "reservation", ID: reservationID}
	}
	var result domain.Reservation
	err = c.withBook(ctx, op, res.BookID, func(ledger store.Store) error {
		current, found, err := ledger.GetReservation(reservationID)
		if err != nil {
			return fmt.Errorf("load reservation: %w", err)
		}
		if !found {
			return &NotFoundError{Resource: "reservation", ID: reservationID}
		}
		result, err = fn(ledger, current)
		return err
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return result, nil
}

// actorForReader allows staff, or the reader acting on their own records.
func actorForReader(actor domain.Actor, readerID string) error {
	if actor.IsStaff() {
		return nil
	}
	if actor.Role == domain.RoleReader && actor.ID == readerID {
		return nil
	}
	return &ForbiddenError{Message: "operation targets another reader's records"}
}
