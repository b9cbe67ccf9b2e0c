package models

import (
	"time"
)

type BorrowingStatus string

const (
	StatusBorrowed BorrowingStatus = "BORROWED"
	StatusReturned BorrowingStatus = "RETURNED"
)

func (s BorrowingStatus) Valid() bool {
	return s == StatusBorrowed || s == StatusReturned
}

type Teacher struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:80;not null;uniqueIndex" json:"username"`
	FullName     string    `gorm:"size:120;not null" json:"fullName"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Book struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	Author    string    `gorm:"not null" json:"author"`
	ISBN      string    `gorm:"size:20;not null;uniqueIndex" json:"isbn"`
	Quantity  int       `gorm:"not null;check:quantity >= 0" json:"quantity"`
	Available int       `gorm:"not null;check:available >= 0 AND available <= quantity" json:"available"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Student struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FullName    string    `gorm:"size:120;not null" json:"fullName"`
	PhoneNumber string    `gorm:"size:20" json:"phoneNumber"`
	Grade       string    `gorm:"size:20" json:"grade"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Borrowing struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	BookID     uint            `gorm:"not null;index" json:"bookId"`
	StudentID  uint            `gorm:"not null;index" json:"studentId"`
	Status     BorrowingStatus `gorm:"size:20;not null;index" json:"status"`
	BorrowDate time.Time       `gorm:"not null" json:"borrowDate"`
	DueDate    time.Time       `gorm:"not null" json:"dueDate"`
	ReturnDate *time.Time      `json:"returnDate"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`

	Book    *Book    `gorm:"foreignKey:BookID;constraint:OnDelete:RESTRICT" json:"book,omitempty"`
	Student *Student `gorm:"foreignKey:StudentID;constraint:OnDelete:RESTRICT" json:"student,omitempty"`
}

// Overdue reports whether a borrowed copy is past its due date at now.
func (b *Borrowing) Overdue(now time.Time) bool {
	return b.Status == StatusBorrowed && now.After(b.DueDate)
}

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{&Teacher{}, &Book{}, &Student{}, &Borrowing{}}
}
