package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"circulationd/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	models := []any{
		&BookModel{}, &ReaderModel{}, &BorrowTicketModel{}, &ReturnTicketModel{},
		&RenewalTicketModel{}, &ReservationModel{}, &FineModel{}, &ViolationReportModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Transact runs fn inside a database transaction.
func (s *GormStore) Transact(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// GetBook retrieves a book by id.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "total_copies", "available_copies", "updated_at"}),
	}).Create(&model).Error
}

// GetReader retrieves a reader by id.
func (s *GormStore) GetReader(id string) (domain.Reader, bool, error) {
	var model ReaderModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reader{}, false, nil
		}
		return domain.Reader{}, false, err
	}
	return readerFromModel(model), true, nil
}

// SaveReader stores or updates a reader.
func (s *GormStore) SaveReader(r domain.Reader) error {
	model := readerToModel(r)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "status", "max_books_allowed", "max_borrow_days",
			"max_renewals", "renewal_days", "suspended_at", "suspension_reason",
		}),
	}).Create(&model).Error
}

// GetBorrowTicket retrieves a borrow ticket by id.
func (s *GormStore) GetBorrowTicket(id string) (domain.BorrowTicket, bool, error) {
	var model BorrowTicketModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.BorrowTicket{}, false, nil
		}
		return domain.BorrowTicket{}, false, err
	}
	return ticketFromModel(model), true, nil
}

// SaveBorrowTicket stores or updates a borrow ticket.
func (s *GormStore) SaveBorrowTicket(t domain.BorrowTicket) error {
	model := ticketToModel(t)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"due_date", "return_date", "renewal_count", "status", "note", "processed_by",
		}),
	}).Create(&model).Error
}

// CountActiveTickets counts a reader's active loans.
func (s *GormStore) CountActiveTickets(readerID string) (int, error) {
	var count int64
	err := s.db.Model(&BorrowTicketModel{}).
		Where("reader_id = ? AND status = ?", readerID, string(domain.TicketActive)).
		Count(&count).Error
	return int(count), err
}

// CountActiveTicketsForBook counts active loans against one book.
func (s *GormStore) CountActiveTicketsForBook(bookID string) (int, error) {
	var count int64
	err := s.db.Model(&BorrowTicketModel{}).
		Where("book_id = ? AND status = ?", bookID, string(domain.TicketActive)).
		Count(&count).Error
	return int(count), err
}

// ListTicketsByReader returns all of a reader's tickets, newest first.
func (s *GormStore) ListTicketsByReader(readerID string) ([]domain.BorrowTicket, error) {
	var models []BorrowTicketModel
	if err := s.db.Where("reader_id = ?", readerID).Order("borrow_date DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.BorrowTicket, 0, len(models))
	for _, m := range models {
		res = append(res, ticketFromModel(m))
	}
	return res, nil
}

// ListOverdueTickets returns active tickets whose due date has passed.
func (s *GormStore) ListOverdueTickets(now time.Time) ([]domain.BorrowTicket, error) {
	var models []BorrowTicketModel
	err := s.db.Where("status = ? AND due_date < ?", string(domain.TicketActive), now).
		Order("due_date ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.BorrowTicket, 0, len(models))
	for _, m := range models {
		res = append(res, ticketFromModel(m))
	}
	return res, nil
}

// SaveReturnTicket appends a return audit row.
func (s *GormStore) SaveReturnTicket(t domain.ReturnTicket) error {
	model := returnToModel(t)
	return s.db.Create(&model).Error
}

// GetReturnTicketFor finds the return row for a borrow ticket, if any.
func (s *GormStore) GetReturnTicketFor(borrowTicketID string) (domain.ReturnTicket, bool, error) {
	var model ReturnTicketModel
	if err := s.db.First(&model, "borrow_ticket_id = ?", borrowTicketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ReturnTicket{}, false, nil
		}
		return domain.ReturnTicket{}, false, err
	}
	return returnFromModel(model), true, nil
}

// SaveRenewalTicket appends a renewal audit row.
func (s *GormStore) SaveRenewalTicket(t domain.RenewalTicket) error {
	model := renewalToModel(t)
	return s.db.Create(&model).Error
}

// GetReservation retrieves a reservation by id.
func (s *GormStore) GetReservation(id string) (domain.Reservation, bool, error) {
	var model ReservationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reservation{}, false, nil
		}
		return domain.Reservation{}, false, err
	}
	return reservationFromModel(model), true, nil
}

// SaveReservation stores or updates a reservation.
func (s *GormStore) SaveReservation(r domain.Reservation) error {
	model := reservationToModel(r)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"queue_position", "status", "expiry_date", "approved_at", "approved_by",
			"notified_at", "pickup_by", "note",
		}),
	}).Create(&model).Error
}

// ListOpenReservations returns Pending/Notified reservations by ascending queue position.
func (s *GormStore) ListOpenReservations(bookID string) ([]domain.Reservation, error) {
	var models []ReservationModel
	err := s.db.Where("book_id = ? AND status IN ?", bookID, openReservationStatuses()).
		Order("queue_position ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Reservation, 0, len(models))
	for _, m := range models {
		res = append(res, reservationFromModel(m))
	}
	return res, nil
}

// FindOpenReservation finds a reader's open reservation for a book.
func (s *GormStore) FindOpenReservation(readerID, bookID string) (domain.Reservation, bool, error) {
	var model ReservationModel
	err := s.db.Where("reader_id = ? AND book_id = ? AND status IN ?", readerID, bookID, openReservationStatuses()).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Reservation{}, false, nil
		}
		return domain.Reservation{}, false, err
	}
	return reservationFromModel(model), true, nil
}

// CountOpenReservations returns the queue length for a book.
func (s *GormStore) CountOpenReservations(bookID string) (int, error) {
	var count int64
	err := s.db.Model(&ReservationModel{}).
		Where("book_id = ? AND status IN ?", bookID, openReservationStatuses()).
		Count(&count).Error
	return int(count), err
}

// ListBooksWithOpenReservations returns distinct book ids with open queues.
func (s *GormStore) ListBooksWithOpenReservations() ([]string, error) {
	var ids []string
	err := s.db.Model(&ReservationModel{}).
		Where("status IN ?", openReservationStatuses()).
		Distinct("book_id").Pluck("book_id", &ids).Error
	return ids, err
}

// GetFine retrieves a fine by id.
func (s *GormStore) GetFine(id string) (domain.Fine, bool, error) {
	var model FineModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Fine{}, false, nil
		}
		return domain.Fine{}, false, err
	}
	return fineFromModel(model), true, nil
}

// SaveFine stores or updates a fine.
func (s *GormStore) SaveFine(f domain.Fine) error {
	model := fineToModel(f)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "payment_date", "waived_by"}),
	}).Create(&model).Error
}

// ListFinesByReader returns all fines for a reader, newest first.
func (s *GormStore) ListFinesByReader(readerID string) ([]domain.Fine, error) {
	var models []FineModel
	if err := s.db.Where("reader_id = ?", readerID).Order("issued_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Fine, 0, len(models))
	for _, m := range models {
		res = append(res, fineFromModel(m))
	}
	return res, nil
}

// OutstandingFineTotal sums a reader's pending fines.
func (s *GormStore) OutstandingFineTotal(readerID string) (int64, error) {
	var total int64
	err := s.db.Model(&FineModel{}).
		Where("reader_id = ? AND status = ?", readerID, string(domain.FinePending)).
		Select("COALESCE(SUM(amount), 0)").Scan(&total).Error
	return total, err
}

// SaveViolationReport persists an invariant-violation capture.
func (s *GormStore) SaveViolationReport(v ViolationReport) error {
	snapshot, err := json.Marshal(v.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	model := ViolationReportModel{
		ID:        v.ID,
		Component: v.Component,
		Message:   v.Message,
		Snapshot:  snapshot,
		CreatedAt: v.CreatedAt,
	}
	return s.db.Create(&model).Error
}

func openReservationStatuses() []string {
	return []string{string(domain.ReservationPending), string(domain.ReservationNotified)}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func readerToModel(r domain.Reader) ReaderModel {
	return ReaderModel{
		ID:               r.ID,
		FullName:         r.FullName,
		Status:           string(r.Status),
		MaxBooksAllowed:  r.MaxBooksAllowed,
		MaxBorrowDays:    r.MaxBorrowDays,
		MaxRenewals:      r.MaxRenewals,
		RenewalDays:      r.RenewalDays,
		SuspendedAt:      r.SuspendedAt,
		SuspensionReason: r.SuspensionReason,
		RegisteredAt:     r.RegisteredAt,
	}
}

func readerFromModel(m ReaderModel) domain.Reader {
	return domain.Reader{
		ID:               m.ID,
		FullName:         m.FullName,
		Status:           domain.ReaderStatus(m.Status),
		MaxBooksAllowed:  m.MaxBooksAllowed,
		MaxBorrowDays:    m.MaxBorrowDays,
		MaxRenewals:      m.MaxRenewals,
		RenewalDays:      m.RenewalDays,
		SuspendedAt:      m.SuspendedAt,
		SuspensionReason: m.SuspensionReason,
		RegisteredAt:     m.RegisteredAt,
	}
}

func ticketToModel(t domain.BorrowTicket) BorrowTicketModel {
	return BorrowTicketModel{
		ID:           t.ID,
		ReaderID:     t.ReaderID,
		BookID:       t.BookID,
		BorrowDate:   t.BorrowDate,
		DueDate:      t.DueDate,
		ReturnDate:   t.ReturnDate,
		RenewalCount: t.RenewalCount,
		Status:       string(t.Status),
		Note:         t.Note,
		ProcessedBy:  t.ProcessedBy,
	}
}

func ticketFromModel(m BorrowTicketModel) domain.BorrowTicket {
	return domain.BorrowTicket{
		ID:           m.ID,
		ReaderID:     m.ReaderID,
		BookID:       m.BookID,
		BorrowDate:   m.BorrowDate,
		DueDate:      m.DueDate,
		ReturnDate:   m.ReturnDate,
		RenewalCount: m.RenewalCount,
		Status:       domain.TicketStatus(m.Status),
		Note:         m.Note,
		ProcessedBy:  m.ProcessedBy,
	}
}

func returnToModel(t domain.ReturnTicket) ReturnTicketModel {
	return ReturnTicketModel{
		ID:              t.ID,
		BorrowTicketID:  t.BorrowTicketID,
		ReaderID:        t.ReaderID,
		BookID:          t.BookID,
		ReturnDate:      t.ReturnDate,
		OriginalDueDate: t.OriginalDueDate,
		Condition:       string(t.Condition),
		Note:            t.Note,
		ProcessedBy:     t.ProcessedBy,
	}
}

func returnFromModel(m ReturnTicketModel) domain.ReturnTicket {
	return domain.ReturnTicket{
		ID:              m.ID,
		BorrowTicketID:  m.BorrowTicketID,
		ReaderID:        m.ReaderID,
		BookID:          m.BookID,
		ReturnDate:      m.ReturnDate,
		OriginalDueDate: m.OriginalDueDate,
		Condition:       domain.ReturnCondition(m.Condition),
		Note:            m.Note,
		ProcessedBy:     m.ProcessedBy,
	}
}

func renewalToModel(t domain.RenewalTicket) RenewalTicketModel {
	return RenewalTicketModel{
		ID:             t.ID,
		BorrowTicketID: t.BorrowTicketID,
		OldDueDate:     t.OldDueDate,
		NewDueDate:     t.NewDueDate,
		RenewalNumber:  t.RenewalNumber,
		RenewedAt:      t.RenewedAt,
		ProcessedBy:    t.ProcessedBy,
	}
}

func reservationToModel(r domain.Reservation) ReservationModel {
	return ReservationModel{
		ID:            r.ID,
		ReaderID:      r.ReaderID,
		BookID:        r.BookID,
		QueuePosition: r.QueuePosition,
		Status:        string(r.Status),
		ReservedAt:    r.ReservedAt,
		ExpiryDate:    r.ExpiryDate,
		ApprovedAt:    r.ApprovedAt,
		ApprovedBy:    r.ApprovedBy,
		NotifiedAt:    r.NotifiedAt,
		PickupBy:      r.PickupBy,
		Note:          r.Note,
	}
}

func reservationFromModel(m ReservationModel) domain.Reservation {
	return domain.Reservation{
		ID:            m.ID,
		ReaderID:      m.ReaderID,
		BookID:        m.BookID,
		QueuePosition: m.QueuePosition,
		Status:        domain.ReservationStatus(m.Status),
		ReservedAt:    m.ReservedAt,
		ExpiryDate:    m.ExpiryDate,
		ApprovedAt:    m.ApprovedAt,
		ApprovedBy:    m.ApprovedBy,
		NotifiedAt:    m.NotifiedAt,
		PickupBy:      m.PickupBy,
		Note:          m.Note,
	}
}

func fineToModel(f domain.Fine) FineModel {
	return FineModel{
		ID:             f.ID,
		ReaderID:       f.ReaderID,
		BorrowTicketID: f.BorrowTicketID,
		Amount:         f.Amount,
		Reason:         string(f.Reason),
		Status:         string(f.Status),
		IssuedAt:       f.IssuedAt,
		PaymentDate:    f.PaymentDate,
		WaivedBy:       f.WaivedBy,
	}
}

func fineFromModel(m FineModel) domain.Fine {
	return domain.Fine{
		ID:             m.ID,
		ReaderID:       m.ReaderID,
		BorrowTicketID: m.BorrowTicketID,
		Amount:         m.Amount,
		Reason:         domain.FineReason(m.Reason),
		Status:         domain.FineStatus(m.Status),
		IssuedAt:       m.IssuedAt,
		PaymentDate:    m.PaymentDate,
		WaivedBy:       m.WaivedBy,
	}
}
