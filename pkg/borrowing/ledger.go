// Package borrowing implements the borrow/return lifecycle of library books.
// Timestamps are recorded in UTC.
//
// Every change to a borrowing's status and to a book's available count goes through
// Ledger, inside a single store transaction guarded by conditional updates, so that
// 0 <= available <= quantity holds and no borrowing leaves RETURNED.
package borrowing

import (
	"context"
	"time"

	"school_library/pkg/auth"
	"school_library/pkg/models"
)

// Store is the persistence the ledger needs. Lookups return nil, nil when the row is
// absent. Conditional updates report false when their guard matched no row.
type Store interface {
	GetBook(ctx context.Context, id uint) (*models.Book, error)
	GetStudent(ctx context.Context, id uint) (*models.Student, error)
	// UpdateBookAvailability adds delta to available when available >= expectedMinAvailable
	// and the result stays within [0, quantity].
	UpdateBookAvailability(ctx context.Context, id uint, delta, expectedMinAvailable int) (bool, error)
	// SetBookQuantity sets quantity and shifts available by the same amount, unless
	// available would drop below zero.
	SetBookQuantity(ctx context.Context, id uint, quantity int) (bool, error)
	CreateBorrowing(ctx context.Context, b *models.Borrowing) error
	// UpdateBorrowingStatus moves a borrowing from one status to another.
	UpdateBorrowingStatus(ctx context.Context, id uint, from, to models.BorrowingStatus, returnDate time.Time) (bool, error)
	FindBorrowing(ctx context.Context, id uint) (*models.Borrowing, error)
	QueryBorrowings(ctx context.Context, f Filter, now time.Time) ([]models.Borrowing, error)
	// WithinTx runs fn in a transaction. fn's error rolls it back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type Filter struct {
	StudentID uint
	BookID    uint
	Status    models.BorrowingStatus
	Overdue   bool
	// Search matches student full name or book title, case-insensitively.
	Search string
}

type CreateRequest struct {
	StudentID uint
	BookID    uint
	DueDate   time.Time
}

type Ledger struct {
	store       Store
	now         func() time.Time
	maxAttempts int
	baseDelay   time.Duration
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithRetry configures how conflicting writes are retried.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(l *Ledger) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			l.baseDelay = baseDelay
		}
	}
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithStore returns a ledger with the same options operating on store, typically
// a transaction the caller also writes other rows in.
func (l *Ledger) WithStore(store Store) *Ledger {
	c := *l
	c.store = store
	return &c
}

// Staff of any role may lend and return books.
func authorize(caller *auth.Identity) error {
	if caller == nil {
		return ErrUnauthorized
	}
	if !caller.Role.IsStaff() {
		return ErrForbidden
	}
	return nil
}

// Create lends one copy of a book to a student.
func (l *Ledger) Create(ctx context.Context, req CreateRequest, caller *auth.Identity) (*models.Borrowing, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}
	if !req.DueDate.After(l.now()) {
		return nil, ErrInvalidDueDate
	}

	var created *models.Borrowing
	err := l.retry(ctx, func(ctx context.Context) error {
		return l.store.WithinTx(ctx, func(tx Store) error {
			book, err := tx.GetBook(ctx, req.BookID)
			if err != nil {
				return err
			}
			if book == nil {
				return ErrBookNotFound
			}
			student, err := tx.GetStudent(ctx, req.StudentID)
			if err != nil {
				return err
			}
			if student == nil {
				return ErrStudentNotFound
			}
			if book.Available < 1 {
				return ErrBookNotAvailable
			}

			ok, err := tx.UpdateBookAvailability(ctx, book.ID, -1, 1)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConcurrencyConflict
			}

			b := &models.Borrowing{
				BookID:     book.ID,
				StudentID:  student.ID,
				Status:     models.StatusBorrowed,
				BorrowDate: l.now().UTC(),
				DueDate:    req.DueDate.UTC(),
			}
			if err := tx.CreateBorrowing(ctx, b); err != nil {
				return err
			}

			book.Available--
			b.Book = book
			b.Student = student
			created = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Return marks a borrowing RETURNED and puts the copy back on the shelf. Returning
// twice fails with ErrAlreadyReturned.
func (l *Ledger) Return(ctx context.Context, borrowingID uint, caller *auth.Identity) (*models.Borrowing, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}

	var returned *models.Borrowing
	err := l.retry(ctx, func(ctx context.Context) error {
		return l.store.WithinTx(ctx, func(tx Store) error {
			b, err := tx.FindBorrowing(ctx, borrowingID)
			if err != nil {
				return err
			}
			if b == nil {
				return ErrBorrowingNotFound
			}
			if b.Status == models.StatusReturned {
				return ErrAlreadyReturned
			}

			now := l.now().UTC()
			ok, err := tx.UpdateBorrowingStatus(ctx, b.ID, models.StatusBorrowed, models.StatusReturned, now)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConcurrencyConflict
			}

			ok, err = tx.UpdateBookAvailability(ctx, b.BookID, 1, 0)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInventoryInconsistent
			}

			b.Status = models.StatusReturned
			b.ReturnDate = &now
			if b.Book != nil {
				b.Book.Available++
			}
			returned = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return returned, nil
}

func (l *Ledger) Get(ctx context.Context, borrowingID uint, caller *auth.Identity) (*models.Borrowing, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}
	b, err := l.store.FindBorrowing(ctx, borrowingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBorrowingNotFound
	}
	return b, nil
}

// List returns a snapshot of the borrowings matching f, newest first.
func (l *Ledger) List(ctx context.Context, f Filter, caller *auth.Identity) ([]models.Borrowing, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return l.store.QueryBorrowings(ctx, f, l.now().UTC())
}

// ResizeStock changes how many copies of a book the library owns. Copies on loan
// stay on loan; available moves by the same amount as quantity.
func (l *Ledger) ResizeStock(ctx context.Context, bookID uint, quantity int, caller *auth.Identity) (*models.Book, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var resized *models.Book
	err := l.retry(ctx, func(ctx context.Context) error {
		return l.store.WithinTx(ctx, func(tx Store) error {
			book, err := tx.GetBook(ctx, bookID)
			if err != nil {
				return err
			}
			if book == nil {
				return ErrBookNotFound
			}
			if quantity < book.Quantity-book.Available {
				return ErrQuantityBelowOutstanding
			}

			ok, err := tx.SetBookQuantity(ctx, bookID, quantity)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConcurrencyConflict
			}

			book.Available += quantity - book.Quantity
			book.Quantity = quantity
			resized = book
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return resized, nil
}
