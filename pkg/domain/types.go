package domain

import "time"

type ReaderStatus string

const (
	ReaderActive    ReaderStatus = "active"
	ReaderSuspended ReaderStatus = "suspended"
	ReaderExpired   ReaderStatus = "expired"
)

type TicketStatus string

const (
	TicketActive   TicketStatus = "active"
	TicketReturned TicketStatus = "returned"
	TicketLost     TicketStatus = "lost"
)

// ReturnCondition is the physical state of a copy reported at return time.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "good"
	ConditionDamaged ReturnCondition = "damaged"
	ConditionLost    ReturnCondition = "lost"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationNotified  ReservationStatus = "notified"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationRejected  ReservationStatus = "rejected"
)

type FineStatus string

const (
	FinePending FineStatus = "pending"
	FinePaid    FineStatus = "paid"
	FineWaived  FineStatus = "waived"
)

type FineReason string

const (
	FineOverdue FineReason = "overdue"
	FineDamage  FineReason = "damage"
	FineLost    FineReason = "lost"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleReader    Role = "reader"
)

// Actor is the authenticated caller of a coordinator operation. The engine
// trusts the id and role it is handed; verifying them is the API layer's job.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsStaff reports whether the actor may perform librarian operations.
func (a Actor) IsStaff() bool {
	return a.Role == RoleAdmin || a.Role == RoleLibrarian
}

type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	TotalCopies     int       `json:"totalCopies"`
	AvailableCopies int       `json:"availableCopies"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type Reader struct {
	ID               string       `json:"id"`
	FullName         string       `json:"fullName"`
	Status           ReaderStatus `json:"status"`
	MaxBooksAllowed  int          `json:"maxBooksAllowed"`
	MaxBorrowDays    int          `json:"maxBorrowDays"`
	MaxRenewals      int          `json:"maxRenewals"`
	RenewalDays      int          `json:"renewalDays"`
	SuspendedAt      *time.Time   `json:"suspendedAt,omitempty"`
	SuspensionReason string       `json:"suspensionReason,omitempty"`
	RegisteredAt     time.Time    `json:"registeredAt"`
}

type BorrowTicket struct {
	ID           string       `json:"id"`
	ReaderID     string       `json:"readerId"`
	BookID       string       `json:"bookId"`
	BorrowDate   time.Time    `json:"borrowDate"`
	DueDate      time.Time    `json:"dueDate"`
	ReturnDate   *time.Time   `json:"returnDate,omitempty"`
	RenewalCount int          `json:"renewalCount"`
	Status       TicketStatus `json:"status"`
	Note         string       `json:"note,omitempty"`
	ProcessedBy  string       `json:"processedBy,omitempty"`
}

// OverdueAt reports whether the ticket is past due at the given instant.
// Overdue is always derived from the due date, never stored as a status.
func (t BorrowTicket) OverdueAt(now time.Time) bool {
	return t.Status == TicketActive && t.DueDate.Before(now)
}

type ReturnTicket struct {
	ID              string          `json:"id"`
	BorrowTicketID  string          `json:"borrowTicketId"`
	ReaderID        string          `json:"readerId"`
	BookID          string          `json:"bookId"`
	ReturnDate      time.Time       `json:"returnDate"`
	OriginalDueDate time.Time       `json:"originalDueDate"`
	Condition       ReturnCondition `json:"condition"`
	Note            string          `json:"note,omitempty"`
	ProcessedBy     string          `json:"processedBy,omitempty"`
}

// RenewalTicket is an append-only audit row for each granted renewal.
type RenewalTicket struct {
	ID             string    `json:"id"`
	BorrowTicketID string    `json:"borrowTicketId"`
	OldDueDate     time.Time `json:"oldDueDate"`
	NewDueDate     time.Time `json:"newDueDate"`
	RenewalNumber  int       `json:"renewalNumber"`
	RenewedAt      time.Time `json:"renewedAt"`
	ProcessedBy    string    `json:"processedBy,omitempty"`
}

type Reservation struct {
	ID            string            `json:"id"`
	ReaderID      string            `json:"readerId"`
	BookID        string            `json:"bookId"`
	QueuePosition int               `json:"queuePosition"`
	Status        ReservationStatus `json:"status"`
	ReservedAt    time.Time         `json:"reservedAt"`
	ExpiryDate    time.Time         `json:"expiryDate"`
	ApprovedAt    *time.Time        `json:"approvedAt,omitempty"`
	ApprovedBy    string            `json:"approvedBy,omitempty"`
	NotifiedAt    *time.Time        `json:"notifiedAt,omitempty"`
	PickupBy      *time.Time        `json:"pickupBy,omitempty"`
	Note          string            `json:"note,omitempty"`
}

// Open reports whether the reservation still occupies a queue position.
func (r Reservation) Open() bool {
	return r.Status == ReservationPending || r.Status == ReservationNotified
}

type Fine struct {
	ID             string     `json:"id"`
	ReaderID       string     `json:"readerId"`
	BorrowTicketID string     `json:"borrowTicketId,omitempty"`
	Amount         int64      `json:"amount"`
	Reason         FineReason `json:"reason"`
	Status         FineStatus `json:"status"`
	IssuedAt       time.Time  `json:"issuedAt"`
	PaymentDate    *time.Time `json:"paymentDate,omitempty"`
	WaivedBy       string     `json:"waivedBy,omitempty"`
}

// Availability is the public per-book circulation snapshot.
type Availability struct {
	BookID      string `json:"bookId"`
	Total       int    `json:"total"`
	Available   int    `json:"available"`
	QueueLength int    `json:"queueLength"`
}
