// Package store persists library records with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"school_library/pkg/borrowing"
	"school_library/pkg/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm implements borrowing.Store on PostgreSQL or SQLite.
type Gorm struct {
	db *gorm.DB
}

var _ borrowing.Store = (*Gorm)(nil)

func New(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (s *Gorm) WithinTx(ctx context.Context, fn func(tx borrowing.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}

func (s *Gorm) GetBook(ctx context.Context, id uint) (*models.Book, error) {
	var book models.Book
	err := s.db.WithContext(ctx).First(&book, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return &book, nil
}

func (s *Gorm) GetStudent(ctx context.Context, id uint) (*models.Student, error) {
	var student models.Student
	err := s.db.WithContext(ctx).First(&student, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	return &student, nil
}

func (s *Gorm) UpdateBookAvailability(ctx context.Context, id uint, delta, expectedMinAvailable int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Book{}).
		Where("id = ? AND available >= ?", id, expectedMinAvailable).
		Where("available + ? >= 0 AND available + ? <= quantity", delta, delta).
		Update("available", gorm.Expr("available + ?", delta))
	if res.Error != nil {
		return false, fmt.Errorf("update availability of book %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Gorm) SetBookQuantity(ctx context.Context, id uint, quantity int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Book{}).
		Where("id = ? AND available + ? - quantity >= 0", id, quantity).
		Updates(map[string]interface{}{
			"available": gorm.Expr("available + ? - quantity", quantity),
			"quantity":  quantity,
		})
	if res.Error != nil {
		return false, fmt.Errorf("set quantity of book %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Gorm) CreateBorrowing(ctx context.Context, b *models.Borrowing) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(b).Error; err != nil {
		return fmt.Errorf("create borrowing: %w", err)
	}
	return nil
}

func (s *Gorm) UpdateBorrowingStatus(ctx context.Context, id uint, from, to models.BorrowingStatus, returnDate time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Borrowing{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":      to,
			"return_date": returnDate,
		})
	if res.Error != nil {
		return false, fmt.Errorf("update status of borrowing %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Gorm) FindBorrowing(ctx context.Context, id uint) (*models.Borrowing, error) {
	var b models.Borrowing
	err := s.db.WithContext(ctx).Preload("Book").Preload("Student").First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find borrowing %d: %w", id, err)
	}
	return &b, nil
}

func (s *Gorm) QueryBorrowings(ctx context.Context, f borrowing.Filter, now time.Time) ([]models.Borrowing, error) {
	query := s.db.WithContext(ctx).Model(&models.Borrowing{}).
		Preload("Book").Preload("Student")

	if f.StudentID != 0 {
		query = query.Where("borrowings.student_id = ?", f.StudentID)
	}
	if f.BookID != 0 {
		query = query.Where("borrowings.book_id = ?", f.BookID)
	}
	if f.Status != "" {
		query = query.Where("borrowings.status = ?", f.Status)
	}
	if f.Overdue {
		query = query.Where("borrowings.status = ? AND borrowings.due_date < ?", models.StatusBorrowed, now)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := ContainsPattern(search)
		query = query.
			Joins("JOIN books ON books.id = borrowings.book_id").
			Joins("JOIN students ON students.id = borrowings.student_id").
			Where(`(LOWER(students.full_name) LIKE LOWER(?) ESCAPE '\' OR LOWER(books.title) LIKE LOWER(?) ESCAPE '\')`, pattern, pattern)
	}

	var borrowings []models.Borrowing
	if err := query.Order("borrowings.borrow_date DESC, borrowings.id DESC").Find(&borrowings).Error; err != nil {
		return nil, fmt.Errorf("query borrowings: %w", err)
	}
	return borrowings, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern builds a LIKE pattern matching s anywhere in a value. Case
// folding is left to LOWER on both sides of the comparison.
func ContainsPattern(s string) string {
	return "%" + EscapeLike(s) + "%"
}

// EscapeLike quotes LIKE wildcards so s matches literally with ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
