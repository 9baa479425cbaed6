package circulation

import (
	"fmt"

	"circulationd/internal/store"
	"circulationd/internal/util"
	"circulationd/pkg/clock"
	"circulationd/pkg/domain"
)

// Reservations manages the per-book FIFO wait-list: request, librarian
// approval, fulfillment on release, cancellation, and lazy expiry. All
// methods expect to run under the book's lock inside a ledger transaction.
type Reservations struct {
	clock      clock.Clock
	holdDays   int
	pickupDays int
}

// NewReservations creates the queue manager. holdDays bounds how long an
// unfulfilled reservation stays eligible; pickupDays bounds how long a
// notified reader keeps the held copy.
func NewReservations(c clock.Clock, holdDays, pickupDays int) *Reservations {
	return &Reservations{clock: c, holdDays: holdDays, pickupDays: pickupDays}
}

// Request queues the reader for the book. Reservations exist for books with
// zero available copies; otherwise the reader should simply borrow.
func (q *Reservations) Request(ledger store.Store, readerID, bookID, note string) (domain.Reservation, error) {
	book, found, err := ledger.GetBook(bookID)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return domain.Reservation{}, &NotFoundError{Resource: "book", ID: bookID}
	}
	if book.AvailableCopies > 0 {
		return domain.Reservation{}, &PolicyError{
			Code:    CodeUseDirectBorrow,
			Message: fmt.Sprintf("book %s has %d available copies", bookID, book.AvailableCopies),
		}
	}
	if _, exists, err := ledger.FindOpenReservation(readerID, bookID); err != nil {
		return domain.Reservation{}, fmt.Errorf("find open reservation: %w", err)
	} else if exists {
		return domain.Reservation{}, &ConflictError{
			Message: fmt.Sprintf("reader %s already has an open reservation for book %s", readerID, bookID),
		}
	}

	open, err := ledger.ListOpenReservations(bookID)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("list reservations: %w", err)
	}
	position := 1
	if n := len(open); n > 0 {
		position = open[n-1].QueuePosition + 1
	}
	now := q.clock.Now()
	res := domain.Reservation{
		ID:            util.NewID(),
		ReaderID:      readerID,
		BookID:        bookID,
		QueuePosition: position,
		Status:        domain.ReservationPending,
		ReservedAt:    now,
		ExpiryDate:    now.AddDate(0, 0, q.holdDays),
		Note:          note,
	}
	if err := ledger.SaveReservation(res); err != nil {
		return domain.Reservation{}, fmt.Errorf("save reservation: %w", err)
	}
	return res, nil
}

// Approve marks a pending reservation as cleared for fulfillment.
func (q *Reservations) Approve(ledger store.Store, res domain.Reservation, approver, note string) (domain.Reservation, error) {
	if res.Status != domain.ReservationPending {
		return domain.Reservation{}, &ConflictError{
			Message: fmt.Sprintf("reservation %s is %s, only pending reservations can be approved", res.ID, res.Status),
		}
	}
	now := q.clock.Now()
	if !res.ExpiryDate.After(now) {
		if _, err := q.expire(ledger, res); err != nil {
			return domain.Reservation{}, err
		}
		return domain.Reservation{}, &ConflictError{
			Message: fmt.Sprintf("reservation %s expired on %s", res.ID, res.ExpiryDate.Format("2006-01-02")),
		}
	}
	res.ApprovedAt = &now
	res.ApprovedBy = approver
	if note != "" {
		res.Note = note
	}
	if err := ledger.SaveReservation(res); err != nil {
		return domain.Reservation{}, fmt.Errorf("save reservation: %w", err)
	}
	return res, nil
}

// Reject declines a pending reservation and closes its queue slot.
func (q *Reservations) Reject(ledger store.Store, res domain.Reservation, approver, reason string) (domain.Reservation, error) {
	if res.Status != domain.ReservationPending {
		return domain.Reservation{}, &ConflictError{
			Message: fmt.Sprintf("reservation %s is %s, only pending reservations can be rejected", res.ID, res.Status),
		}
	}
	res.Status = domain.ReservationRejected
	res.ApprovedBy = approver
	res.Note = reason
	if err := ledger.SaveReservation(res); err != nil {
		return domain.Reservation{}, fmt.Errorf("save reservation: %w", err)
	}
	if err := q.compact(ledger, res.BookID); err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// Cancel closes a reservation at the reader's request. heldCopy reports
// whether the reservation was already holding a reserved copy (Notified); the
// caller must put that copy back into circulation.
func (q *Reservations) Cancel(ledger store.Store, res domain.Reservation) (cancelled domain.Reservation, heldCopy bool, err error) {
	if !res.Open() {
		return domain.Reservation{}, false, &ConflictError{
			Message: fmt.Sprintf("reservation %s is %s and cannot be cancelled", res.ID, res.Status),
		}
	}
	heldCopy = res.Status == domain.ReservationNotified
	res.Status = domain.ReservationCancelled
	if err := ledger.SaveReservation(res); err != nil {
		return domain.Reservation{}, false, fmt.Errorf("save reservation: %w", err)
	}
	if err := q.compact(ledger, res.BookID); err != nil {
		return domain.Reservation{}, false, err
	}
	return res, heldCopy, nil
}

// Fulfill hands freed copies to the wait-list after a release. Entrants are
// considered strictly in queue order; an entrant is eligible once approved,
// while unexpired and still pending. Elapsed entries are lazily marked
// Expired and skipped, never fulfilled. The loop stops as soon as TryReserve
// cannot claim a copy, so a later entrant can never obtain one while an
// earlier eligible entrant waits.
func (q *Reservations) Fulfill(ledger store.Store, avail *Availability, bookID string) ([]domain.Reservation, error) {
	if _, err := q.ExpireElapsed(ledger, avail, bookID); err != nil {
		return nil, err
	}
	now := q.clock.Now()
	var notified []domain.Reservation
	for {
		open, err := ledger.ListOpenReservations(bookID)
		if err != nil {
			return nil, fmt.Errorf("list reservations: %w", err)
		}
		var next *domain.Reservation
		for i := range open {
			res := open[i]
			if res.Status == domain.ReservationPending && res.ApprovedAt != nil && res.ExpiryDate.After(now) {
				next = &res
				break
			}
		}
		if next == nil {
			break
		}
		ok, _, err := avail.TryReserve(ledger, bookID)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		pickup := now.AddDate(0, 0, q.pickupDays)
		next.Status = domain.ReservationNotified
		next.NotifiedAt = &now
		next.PickupBy = &pickup
		if err := ledger.SaveReservation(*next); err != nil {
			return nil, fmt.Errorf("save reservation: %w", err)
		}
		notified = append(notified, *next)
	}
	return notified, nil
}

// ConsumeHold converts a notified reservation into a fulfilled one when the
// reader picks the copy up. The held copy transfers to the reader's loan
// without touching the availability counter.
func (q *Reservations) ConsumeHold(ledger store.Store, res domain.Reservation) (domain.Reservation, error) {
	if res.Status != domain.ReservationNotified {
		return domain.Reservation{}, &ConflictError{
			Message: fmt.Sprintf("reservation %s is %s, not awaiting pickup", res.ID, res.Status),
		}
	}
	res.Status = domain.ReservationFulfilled
	if err := ledger.SaveReservation(res); err != nil {
		return domain.Reservation{}, fmt.Errorf("save reservation: %w", err)
	}
	if err := q.compact(ledger, res.BookID); err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// ExpireElapsed lazily expires elapsed queue entries: pending entries past
// their expiry date, and notified entries whose pickup window closed. The
// latter release their held copy back to the pool. Returns how many copies
// were released.
func (q *Reservations) ExpireElapsed(ledger store.Store, avail *Availability, bookID string) (released int, err error) {
	now := q.clock.Now()
	open, err := ledger.ListOpenReservations(bookID)
	if err != nil {
		return 0, fmt.Errorf("list reservations: %w", err)
	}
	changed := false
	for _, res := range open {
		switch {
		case res.Status == domain.ReservationPending && !res.ExpiryDate.After(now):
			if _, err := q.expire(ledger, res); err != nil {
				return released, err
			}
			changed = true
		case res.Status == domain.ReservationNotified && res.PickupBy != nil && !res.PickupBy.After(now):
			if _, err := q.expire(ledger, res); err != nil {
				return released, err
			}
			if err := avail.Release(ledger, bookID); err != nil {
				return released, err
			}
			released++
			changed = true
		}
	}
	if changed {
		if err := q.compact(ledger, bookID); err != nil {
			return released, err
		}
	}
	return released, nil
}

func (q *Reservations) expire(ledger store.Store, res domain.Reservation) (domain.Reservation, error) {
	res.Status = domain.ReservationExpired
	if err := ledger.SaveReservation(res); err != nil {
		return domain.Reservation{}, fmt.Errorf("save reservation: %w", err)
	}
	return res, nil
}

// compact renumbers open reservations 1..n in their existing order, keeping
// queue positions unique and gap-free after an entry leaves the queue.
func (q *Reservations) compact(ledger store.Store, bookID string) error {
	open, err := ledger.ListOpenReservations(bookID)
	if err != nil {
		return fmt.Errorf("list reservations: %w", err)
	}
	for i, res := range open {
		if res.QueuePosition != i+1 {
			res.QueuePosition = i + 1
			if err := ledger.SaveReservation(res); err != nil {
				return fmt.Errorf("save reservation: %w", err)
			}
		}
	}
	return nil
}
