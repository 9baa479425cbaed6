package store

import (
	"errors"
	"testing"
	"time"

	"circulationd/pkg/domain"
)

func TestMemoryStoreTransactCommit(t *testing.T) {
	m := NewMemoryStore()
	err := m.Transact(func(s Store) error {
		if err := s.SaveBook(domain.Book{ID: "book-1", TotalCopies: 2, AvailableCopies: 2}); err != nil {
			return err
		}
		return s.SaveBorrowTicket(domain.BorrowTicket{ID: "t-1", BookID: "book-1", Status: domain.TicketActive})
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	if _, ok, _ := m.GetBook("book-1"); !ok {
		t.Fatal("committed book missing")
	}
	if _, ok, _ := m.GetBorrowTicket("t-1"); !ok {
		t.Fatal("committed ticket missing")
	}
}

func TestMemoryStoreTransactRollback(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveBook(domain.Book{ID: "book-1", TotalCopies: 2, AvailableCopies: 2}); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	boom := errors.New("boom")
	err := m.Transact(func(s Store) error {
		book, _, _ := s.GetBook("book-1")
		book.AvailableCopies = 1
		if err := s.SaveBook(book); err != nil {
			return err
		}
		if err := s.SaveBorrowTicket(domain.BorrowTicket{ID: "t-1", BookID: "book-1", Status: domain.TicketActive}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("transact error = %v, want boom", err)
	}

	book, _, _ := m.GetBook("book-1")
	if book.AvailableCopies != 2 {
		t.Fatalf("availableCopies = %d, want 2 after rollback", book.AvailableCopies)
	}
	if _, ok, _ := m.GetBorrowTicket("t-1"); ok {
		t.Fatal("rolled-back ticket is visible")
	}
}

func TestMemoryStoreViolationReportsSurviveRollback(t *testing.T) {
	m := NewMemoryStore()
	boom := errors.New("boom")
	err := m.Transact(func(s Store) error {
		if err := s.SaveViolationReport(ViolationReport{
			ID:        "v-1",
			Component: "availability",
			Message:   "release past totalCopies",
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("transact error = %v, want boom", err)
	}
	// The report is evidence of the failure; rolling it back with the rest
	// of the data would erase the audit trail.
	if got := len(m.ViolationReports()); got != 1 {
		t.Fatalf("violation reports = %d, want 1", got)
	}
}

func TestMemoryStoreOpenReservationQueries(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seed := []domain.Reservation{
		{ID: "r-1", ReaderID: "a", BookID: "book-1", QueuePosition: 2, Status: domain.ReservationPending, ReservedAt: now},
		{ID: "r-2", ReaderID: "b", BookID: "book-1", QueuePosition: 1, Status: domain.ReservationNotified, ReservedAt: now},
		{ID: "r-3", ReaderID: "c", BookID: "book-1", QueuePosition: 3, Status: domain.ReservationCancelled, ReservedAt: now},
		{ID: "r-4", ReaderID: "d", BookID: "book-2", QueuePosition: 1, Status: domain.ReservationPending, ReservedAt: now},
	}
	for _, r := range seed {
		if err := m.SaveReservation(r); err != nil {
			t.Fatalf("seed reservation: %v", err)
		}
	}

	open, err := m.ListOpenReservations("book-1")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 || open[0].ID != "r-2" || open[1].ID != "r-1" {
		t.Fatalf("open = %+v, want r-2 then r-1 by position", open)
	}

	if n, _ := m.CountOpenReservations("book-1"); n != 2 {
		t.Fatalf("count open = %d, want 2", n)
	}

	if _, ok, _ := m.FindOpenReservation("c", "book-1"); ok {
		t.Fatal("cancelled reservation reported as open")
	}
	found, ok, _ := m.FindOpenReservation("a", "book-1")
	if !ok || found.ID != "r-1" {
		t.Fatalf("find open = %+v, want r-1", found)
	}

	books, err := m.ListBooksWithOpenReservations()
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("books with open reservations = %v, want 2 entries", books)
	}
}

func TestMemoryStoreOutstandingFineTotal(t *testing.T) {
	m := NewMemoryStore()
	seed := []domain.Fine{
		{ID: "f-1", ReaderID: "a", Amount: 5000, Status: domain.FinePending},
		{ID: "f-2", ReaderID: "a", Amount: 10000, Status: domain.FinePending},
		{ID: "f-3", ReaderID: "a", Amount: 99999, Status: domain.FinePaid},
		{ID: "f-4", ReaderID: "a", Amount: 77777, Status: domain.FineWaived},
		{ID: "f-5", ReaderID: "b", Amount: 12345, Status: domain.FinePending},
	}
	for _, f := range seed {
		if err := m.SaveFine(f); err != nil {
			t.Fatalf("seed fine: %v", err)
		}
	}
	total, err := m.OutstandingFineTotal("a")
	if err != nil {
		t.Fatalf("outstanding total: %v", err)
	}
	if total != 15000 {
		t.Fatalf("outstanding total = %d, want 15000", total)
	}
}

func TestMemoryStoreListOverdueTickets(t *testing.T) {
	m := NewMemoryStore()
	now := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	seed := []domain.BorrowTicket{
		{ID: "t-1", ReaderID: "a", BookID: "book-1", DueDate: now.AddDate(0, 0, -2), Status: domain.TicketActive},
		{ID: "t-2", ReaderID: "b", BookID: "book-1", DueDate: now.AddDate(0, 0, 2), Status: domain.TicketActive},
		{ID: "t-3", ReaderID: "c", BookID: "book-1", DueDate: now.AddDate(0, 0, -9), Status: domain.TicketReturned},
	}
	for _, tk := range seed {
		if err := m.SaveBorrowTicket(tk); err != nil {
			t.Fatalf("seed ticket: %v", err)
		}
	}
	overdue, err := m.ListOverdueTickets(now)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != "t-1" {
		t.Fatalf("overdue = %+v, want only t-1", overdue)
	}
}
