package circulation

import (
	"fmt"

	"circulationd/internal/store"
	"circulationd/pkg/clock"
)

// Availability tracks the per-book available-copy counter. Callers must hold
// the book's lock and run inside a ledger transaction; under that discipline
// the read-modify-write below is linearizable per book and two concurrent
// borrowers can never both claim the last copy.
type Availability struct {
	clock clock.Clock
}

// NewAvailability creates the tracker.
func NewAvailability(c clock.Clock) *Availability {
	return &Availability{clock: c}
}

// TryReserve claims one available copy of the book. It reports ok=false,
// without error, when no copy is free.
func (a *Availability) TryReserve(ledger store.Store, bookID string) (ok bool, remaining int, err error) {
	book, found, err := ledger.GetBook(bookID)
	if err != nil {
		return false, 0, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return false, 0, &NotFoundError{Resource: "book", ID: bookID}
	}
	if book.AvailableCopies <= 0 {
		return false, 0, nil
	}
	book.AvailableCopies--
	book.UpdatedAt = a.clock.Now()
	if err := ledger.SaveBook(book); err != nil {
		return false, 0, fmt.Errorf("save book: %w", err)
	}
	return true, book.AvailableCopies, nil
}

// Release returns one copy to the pool. A release that would push the
// counter past totalCopies means some caller released a copy it never held
// (a double-return bug upstream); that is an invariant violation, surfaced
// loudly rather than silently capped.
func (a *Availability) Release(ledger store.Store, bookID string) error {
	book, found, err := ledger.GetBook(bookID)
	if err != nil {
		return fmt.Errorf("load book: %w", err)
	}
	if !found {
		return &NotFoundError{Resource: "book", ID: bookID}
	}
	if book.AvailableCopies >= book.TotalCopies {
		return &InvariantError{
			Component: "availability",
			Message:   "release would exceed total copies",
			Snapshot: map[string]any{
				"bookId":          book.ID,
				"totalCopies":     book.TotalCopies,
				"availableCopies": book.AvailableCopies,
			},
		}
	}
	book.AvailableCopies++
	book.UpdatedAt = a.clock.Now()
	if err := ledger.SaveBook(book); err != nil {
		return fmt.Errorf("save book: %w", err)
	}
	return nil
}
