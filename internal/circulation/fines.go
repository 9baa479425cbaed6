package circulation

import (
	"fmt"
	"time"

	"circulationd/internal/store"
	"circulationd/internal/util"
	"circulationd/pkg/clock"
	"circulationd/pkg/domain"
)

// FinePolicy holds the configured fine amounts, in minor currency units.
type FinePolicy struct {
	PerDayRate         int64
	DamagedBookFine    int64
	LostBookFine       int64
	MaxOutstandingFine int64
}

// Fines computes overdue, damage, and loss fines and tracks their payment.
type Fines struct {
	clock  clock.Clock
	policy FinePolicy
}

// NewFines creates the fine calculator.
func NewFines(c clock.Clock, policy FinePolicy) *Fines {
	return &Fines{clock: c, policy: policy}
}

// OnReturn assesses fines for a closed loan. A late return fines perDayRate
// per overdue day. A damaged copy adds a flat damage fine on top. A lost
// copy is charged the flat replacement fine alone, per-day charges do not
// stack onto it.
func (f *Fines) OnReturn(ledger store.Store, returnRow domain.ReturnTicket) ([]domain.Fine, error) {
	var fines []domain.Fine
	if returnRow.Condition == domain.ConditionLost {
		fines = append(fines, f.newFine(returnRow, f.policy.LostBookFine, domain.FineLost))
	} else {
		if late := daysLate(returnRow.OriginalDueDate, returnRow.ReturnDate); late > 0 {
			fines = append(fines, f.newFine(returnRow, int64(late)*f.policy.PerDayRate, domain.FineOverdue))
		}
		if returnRow.Condition == domain.ConditionDamaged {
			fines = append(fines, f.newFine(returnRow, f.policy.DamagedBookFine, domain.FineDamage))
		}
	}
	for _, fine := range fines {
		if err := ledger.SaveFine(fine); err != nil {
			return nil, fmt.Errorf("save fine: %w", err)
		}
	}
	return fines, nil
}

func (f *Fines) newFine(returnRow domain.ReturnTicket, amount int64, reason domain.FineReason) domain.Fine {
	return domain.Fine{
		ID:             util.NewID(),
		ReaderID:       returnRow.ReaderID,
		BorrowTicketID: returnRow.BorrowTicketID,
		Amount:         amount,
		Reason:         reason,
		Status:         domain.FinePending,
		IssuedAt:       f.clock.Now(),
	}
}

// Pay settles a pending fine. Paying an already-paid fine is a no-op success
// so retries are safe; paying a waived fine is a conflict.
func (f *Fines) Pay(ledger store.Store, fine domain.Fine) (domain.Fine, error) {
	switch fine.Status {
	case domain.FinePaid:
		return fine, nil
	case domain.FineWaived:
		return domain.Fine{}, &ConflictError{Message: fmt.Sprintf("fine %s was waived", fine.ID)}
	}
	now := f.clock.Now()
	fine.Status = domain.FinePaid
	fine.PaymentDate = &now
	if err := ledger.SaveFine(fine); err != nil {
		return domain.Fine{}, fmt.Errorf("save fine: %w", err)
	}
	return fine, nil
}

// Waive forgives a pending fine. Waiving twice is a no-op success; waiving a
// paid fine is a conflict (refunds are out of scope).
func (f *Fines) Waive(ledger store.Store, fine domain.Fine, waivedBy string) (domain.Fine, error) {
	switch fine.Status {
	case domain.FineWaived:
		return fine, nil
	case domain.FinePaid:
		return domain.Fine{}, &ConflictError{Message: fmt.Sprintf("fine %s was already paid", fine.ID)}
	}
	fine.Status = domain.FineWaived
	fine.WaivedBy = waivedBy
	if err := ledger.SaveFine(fine); err != nil {
		return domain.Fine{}, fmt.Errorf("save fine: %w", err)
	}
	return fine, nil
}

// daysLate counts overdue days, rounding any partial day up: a copy returned
// five hours past the due date is one day late.
func daysLate(due, returned time.Time) int {
	if !returned.After(due) {
		return 0
	}
	late := returned.Sub(due)
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) != 0 {
		days++
	}
	return days
}
