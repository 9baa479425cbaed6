package store

import (
	"sort"
	"sync"
	"time"

	"circulationd/pkg/domain"
)

// MemoryStore keeps the ledger in-process. It backs unit tests and local
// development; production uses GormStore.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	books        map[string]domain.Book
	readers      map[string]domain.Reader
	tickets      map[string]domain.BorrowTicket
	returns      map[string]domain.ReturnTicket // key: borrow ticket id
	renewals     map[string][]domain.RenewalTicket
	reservations map[string]domain.Reservation
	fines        map[string]domain.Fine
	violations   []ViolationReport
}

// NewMemoryStore initializes an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:        make(map[string]domain.Book),
		readers:      make(map[string]domain.Reader),
		tickets:      make(map[string]domain.BorrowTicket),
		returns:      make(map[string]domain.ReturnTicket),
		renewals:     make(map[string][]domain.RenewalTicket),
		reservations: make(map[string]domain.Reservation),
		fines:        make(map[string]domain.Fine),
	}
}

type memorySnapshot struct {
	books        map[string]domain.Book
	readers      map[string]domain.Reader
	tickets      map[string]domain.BorrowTicket
	returns      map[string]domain.ReturnTicket
	renewals     map[string][]domain.RenewalTicket
	reservations map[string]domain.Reservation
	fines        map[string]domain.Fine
}

// Transact runs fn and rolls every write back if it fails. Transactions are
// serialized against each other; the coordinator additionally serializes all
// writers per book, so snapshot/restore gives the same all-or-nothing
// guarantee a database transaction does.
func (m *MemoryStore) Transact(fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	backup := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(backup)
		return err
	}
	return nil
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		books:        make(map[string]domain.Book, len(m.books)),
		readers:      make(map[string]domain.Reader, len(m.readers)),
		tickets:      make(map[string]domain.BorrowTicket, len(m.tickets)),
		returns:      make(map[string]domain.ReturnTicket, len(m.returns)),
		renewals:     make(map[string][]domain.RenewalTicket, len(m.renewals)),
		reservations: make(map[string]domain.Reservation, len(m.reservations)),
		fines:        make(map[string]domain.Fine, len(m.fines)),
	}
	for k, v := range m.books {
		snap.books[k] = v
	}
	for k, v := range m.readers {
		snap.readers[k] = v
	}
	for k, v := range m.tickets {
		snap.tickets[k] = v
	}
	for k, v := range m.returns {
		snap.returns[k] = v
	}
	for k, v := range m.renewals {
		snap.renewals[k] = append([]domain.RenewalTicket(nil), v...)
	}
	for k, v := range m.reservations {
		snap.reservations[k] = v
	}
	for k, v := range m.fines {
		snap.fines[k] = v
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books = snap.books
	m.readers = snap.readers
	m.tickets = snap.tickets
	m.returns = snap.returns
	m.renewals = snap.renewals
	m.reservations = snap.reservations
	m.fines = snap.fines
}

// GetBook retrieves a book by id.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// SaveBook stores or replaces a book.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

// GetReader retrieves a reader by id.
func (m *MemoryStore) GetReader(id string) (domain.Reader, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readers[id]
	return r, ok, nil
}

// SaveReader stores or replaces a reader.
func (m *MemoryStore) SaveReader(r domain.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readers[r.ID] = r
	return nil
}

// GetBorrowTicket retrieves a borrow ticket by id.
func (m *MemoryStore) GetBorrowTicket(id string) (domain.BorrowTicket, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	return t, ok, nil
}

// SaveBorrowTicket stores or replaces a borrow ticket.
func (m *MemoryStore) SaveBorrowTicket(t domain.BorrowTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t
	return nil
}

// CountActiveTickets counts a reader's active loans.
func (m *MemoryStore) CountActiveTickets(readerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.tickets {
		if t.ReaderID == readerID && t.Status == domain.TicketActive {
			count++
		}
	}
	return count, nil
}

// CountActiveTicketsForBook counts active loans against one book.
func (m *MemoryStore) CountActiveTicketsForBook(bookID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, t := range m.tickets {
		if t.BookID == bookID && t.Status == domain.TicketActive {
			count++
		}
	}
	return count, nil
}

// ListTicketsByReader returns a reader's tickets, newest first.
func (m *MemoryStore) ListTicketsByReader(readerID string) ([]domain.BorrowTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.BorrowTicket
	for _, t := range m.tickets {
		if t.ReaderID == readerID {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].BorrowDate.After(res[j].BorrowDate) })
	return res, nil
}

// ListOverdueTickets returns active tickets past their due date.
func (m *MemoryStore) ListOverdueTickets(now time.Time) ([]domain.BorrowTicket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.BorrowTicket
	for _, t := range m.tickets {
		if t.Status == domain.TicketActive && t.DueDate.Before(now) {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DueDate.Before(res[j].DueDate) })
	return res, nil
}

// SaveReturnTicket appends a return audit row.
func (m *MemoryStore) SaveReturnTicket(t domain.ReturnTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returns[t.BorrowTicketID] = t
	return nil
}

// GetReturnTicketFor finds the return row for a borrow ticket, if any.
func (m *MemoryStore) GetReturnTicketFor(borrowTicketID string) (domain.ReturnTicket, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.returns[borrowTicketID]
	return t, ok, nil
}

// SaveRenewalTicket appends a renewal audit row.
func (m *MemoryStore) SaveRenewalTicket(t domain.RenewalTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewals[t.BorrowTicketID] = append(m.renewals[t.BorrowTicketID], t)
	return nil
}

// GetReservation retrieves a reservation by id.
func (m *MemoryStore) GetReservation(id string) (domain.Reservation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	return r, ok, nil
}

// SaveReservation stores or replaces a reservation.
func (m *MemoryStore) SaveReservation(r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = r
	return nil
}

// ListOpenReservations returns open reservations by ascending queue position.
func (m *MemoryStore) ListOpenReservations(bookID string) ([]domain.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Reservation
	for _, r := range m.reservations {
		if r.BookID == bookID && r.Open() {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].QueuePosition < res[j].QueuePosition })
	return res, nil
}

// FindOpenReservation finds a reader's open reservation for a book.
func (m *MemoryStore) FindOpenReservation(readerID, bookID string) (domain.Reservation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reservations {
		if r.ReaderID == readerID && r.BookID == bookID && r.Open() {
			return r, true, nil
		}
	}
	return domain.Reservation{}, false, nil
}

// CountOpenReservations returns the queue length for a book.
func (m *MemoryStore) CountOpenReservations(bookID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.reservations {
		if r.BookID == bookID && r.Open() {
			count++
		}
	}
	return count, nil
}

// ListBooksWithOpenReservations returns distinct book ids with open queues.
func (m *MemoryStore) ListBooksWithOpenReservations() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for _, r := range m.reservations {
		if r.Open() && !seen[r.BookID] {
			seen[r.BookID] = true
			ids = append(ids, r.BookID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetFine retrieves a fine by id.
func (m *MemoryStore) GetFine(id string) (domain.Fine, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fines[id]
	return f, ok, nil
}

// SaveFine stores or replaces a fine.
func (m *MemoryStore) SaveFine(f domain.Fine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fines[f.ID] = f
	return nil
}

// ListFinesByReader returns all fines for a reader, newest first.
func (m *MemoryStore) ListFinesByReader(readerID string) ([]domain.Fine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Fine
	for _, f := range m.fines {
		if f.ReaderID == readerID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].IssuedAt.After(res[j].IssuedAt) })
	return res, nil
}

// OutstandingFineTotal sums a reader's pending fines.
func (m *MemoryStore) OutstandingFineTotal(readerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, f := range m.fines {
		if f.ReaderID == readerID && f.Status == domain.FinePending {
			total += f.Amount
		}
	}
	return total, nil
}

// SaveViolationReport records an invariant-violation capture.
func (m *MemoryStore) SaveViolationReport(v ViolationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append(m.violations, v)
	return nil
}

// ViolationReports returns recorded violations (test hook).
func (m *MemoryStore) ViolationReports() []ViolationReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ViolationReport(nil), m.violations...)
}
