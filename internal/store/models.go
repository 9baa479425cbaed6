package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type BookModel struct {
	ID              string `gorm:"primaryKey"`
	Title           string `gorm:"not null"`
	TotalCopies     int    `gorm:"not null"`
	AvailableCopies int    `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ReaderModel struct {
	ID               string `gorm:"primaryKey"`
	FullName         string `gorm:"not null"`
	Status           string `gorm:"not null;index"`
	MaxBooksAllowed  int    `gorm:"not null"`
	MaxBorrowDays    int    `gorm:"not null"`
	MaxRenewals      int    `gorm:"not null"`
	RenewalDays      int    `gorm:"not null"`
	SuspendedAt      *time.Time
	SuspensionReason string
	RegisteredAt     time.Time `gorm:"not null"`
}

type BorrowTicketModel struct {
	ID           string    `gorm:"primaryKey"`
	ReaderID     string    `gorm:"not null;index"`
	BookID       string    `gorm:"not null;index"`
	BorrowDate   time.Time `gorm:"not null"`
	DueDate      time.Time `gorm:"not null;index"`
	ReturnDate   *time.Time
	RenewalCount int    `gorm:"not null"`
	Status       string `gorm:"not null;index"`
	Note         string
	ProcessedBy  string
}

type ReturnTicketModel struct {
	ID              string    `gorm:"primaryKey"`
	BorrowTicketID  string    `gorm:"not null;uniqueIndex"`
	ReaderID        string    `gorm:"not null;index"`
	BookID          string    `gorm:"not null;index"`
	ReturnDate      time.Time `gorm:"not null"`
	OriginalDueDate time.Time `gorm:"not null"`
	Condition       string    `gorm:"not null"`
	Note            string
	ProcessedBy     string
}

type RenewalTicketModel struct {
	ID             string    `gorm:"primaryKey"`
	BorrowTicketID string    `gorm:"not null;index"`
	OldDueDate     time.Time `gorm:"not null"`
	NewDueDate     time.Time `gorm:"not null"`
	RenewalNumber  int       `gorm:"not null"`
	RenewedAt      time.Time `gorm:"not null"`
	ProcessedBy    string
}

type ReservationModel struct {
	ID            string    `gorm:"primaryKey"`
	ReaderID      string    `gorm:"not null;index"`
	BookID        string    `gorm:"not null;index"`
	QueuePosition int       `gorm:"not null"`
	Status        string    `gorm:"not null;index"`
	ReservedAt    time.Time `gorm:"not null"`
	ExpiryDate    time.Time `gorm:"not null"`
	ApprovedAt    *time.Time
	ApprovedBy    string
	NotifiedAt    *time.Time
	PickupBy      *time.Time
	Note          string
}

type FineModel struct {
	ID             string `gorm:"primaryKey"`
	ReaderID       string `gorm:"not null;index"`
	BorrowTicketID string `gorm:"index"`
	Amount         int64  `gorm:"not null"`
	Reason         string `gorm:"not null"`
	Status         string `gorm:"not null;index"`
	IssuedAt       time.Time
	PaymentDate    *time.Time
	WaivedBy       string
}

type ViolationReportModel struct {
	ID        string `gorm:"primaryKey"`
	Component string `gorm:"not null"`
	Message   string `gorm:"not null"`
	Snapshot  datatypes.JSON
	CreatedAt time.Time `gorm:"not null"`
}
