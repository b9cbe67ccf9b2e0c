package borrowing_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"school_library/pkg/auth"
	"school_library/pkg/borrowing"
	"school_library/pkg/config"
	"school_library/pkg/database"
	"school_library/pkg/models"
	"school_library/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var staff = &auth.Identity{SubjectID: 1, SubjectName: "mrs.smith", Role: auth.RoleTeacher}

func setupLedger(t *testing.T, opts ...borrowing.Option) (*borrowing.Ledger, *gorm.DB) {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return borrowing.NewLedger(store.New(db), opts...), db
}

func seedBook(t *testing.T, db *gorm.DB, id uint, title string, quantity, available int) {
	t.Helper()
	require.NoError(t, db.Create(&models.Book{
		ID: id, Title: title, Author: "Author", ISBN: title, Quantity: quantity, Available: available,
	}).Error)
}

func seedStudent(t *testing.T, db *gorm.DB, id uint, name string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Student{ID: id, FullName: name}).Error)
}

func bookAvailable(t *testing.T, db *gorm.DB, id uint) int {
	t.Helper()
	var book models.Book
	require.NoError(t, db.First(&book, id).Error)
	assert.GreaterOrEqual(t, book.Available, 0)
	assert.LessOrEqual(t, book.Available, book.Quantity)
	return book.Available
}

func due() time.Time {
	return time.Now().AddDate(0, 0, 14)
}

func TestBorrowAndReturnScenario(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Dune", 2, 2)
	seedStudent(t, db, 5, "Alice Martin")

	b, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBorrowed, b.Status)
	assert.NotZero(t, b.ID)
	assert.Nil(t, b.ReturnDate)
	require.NotNil(t, b.Book)
	assert.Equal(t, 1, b.Book.Available)
	assert.Equal(t, 1, bookAvailable(t, db, 1))

	returned, err := ledger.Return(ctx, b.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, 2, bookAvailable(t, db, 1))

	var rows []models.Borrowing
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.StatusReturned, rows[0].Status)
	assert.NotNil(t, rows[0].ReturnDate)
}

func TestCreateFailsWhenNoCopyAvailable(t *testing.T) {
	ledger, db := setupLedger(t)
	seedBook(t, db, 1, "Dune", 1, 0)
	seedStudent(t, db, 5, "Alice Martin")

	_, err := ledger.Create(context.Background(), borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
	assert.ErrorIs(t, err, borrowing.ErrBookNotAvailable)

	assert.Equal(t, 0, bookAvailable(t, db, 1))
	var count int64
	db.Model(&models.Borrowing{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateValidation(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Dune", 1, 1)
	seedStudent(t, db, 5, "Alice Martin")

	tests := []struct {
		name    string
		req     borrowing.CreateRequest
		caller  *auth.Identity
		wantErr error
	}{
		{"anonymous", borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, nil, borrowing.ErrUnauthorized},
		{"not staff", borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, &auth.Identity{SubjectID: 9, Role: "student"}, borrowing.ErrForbidden},
		{"unknown book", borrowing.CreateRequest{StudentID: 5, BookID: 99, DueDate: due()}, staff, borrowing.ErrBookNotFound},
		{"unknown student", borrowing.CreateRequest{StudentID: 99, BookID: 1, DueDate: due()}, staff, borrowing.ErrStudentNotFound},
		{"due date in the past", borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: time.Now().Add(-time.Hour)}, staff, borrowing.ErrInvalidDueDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Create(ctx, tt.req, tt.caller)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, borrowing.IsDomainError(err))
		})
	}

	assert.Equal(t, 1, bookAvailable(t, db, 1))
}

func TestReturnTwiceFails(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Dune", 3, 3)
	seedStudent(t, db, 5, "Alice Martin")

	b, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
	require.NoError(t, err)
	_, err = ledger.Return(ctx, b.ID, staff)
	require.NoError(t, err)

	_, err = ledger.Return(ctx, b.ID, staff)
	assert.ErrorIs(t, err, borrowing.ErrAlreadyReturned)
	assert.Equal(t, 3, bookAvailable(t, db, 1))
}

func TestReturnUnknownBorrowing(t *testing.T) {
	ledger, _ := setupLedger(t)

	_, err := ledger.Return(context.Background(), 404, staff)
	assert.ErrorIs(t, err, borrowing.ErrBorrowingNotFound)

	_, err = ledger.Return(context.Background(), 404, nil)
	assert.ErrorIs(t, err, borrowing.ErrUnauthorized)
}

// On SQLite the pool holds one connection, so these transactions run one after
// another and the conditional decrement never misses. Conflict retries are
// covered against a fake store in retry_test.go, and against real row locks by
// TestConcurrentCreatesNeverOversellPostgres.
func TestConcurrentCreatesNeverOversell(t *testing.T) {
	ledger, db := setupLedger(t)
	assertNoOversell(t, ledger, db)
}

// Set LIBRARY_TEST_POSTGRES=1 and the usual DB_* variables to run against a live server.
func TestConcurrentCreatesNeverOversellPostgres(t *testing.T) {
	if os.Getenv("LIBRARY_TEST_POSTGRES") != "1" {
		t.Skip("LIBRARY_TEST_POSTGRES not set")
	}
	t.Setenv("DB_DRIVER", database.DriverPostgres)
	cfg, err := config.LoadDatabaseFromEnv()
	require.NoError(t, err)
	cfg.ConnectRetries = 1
	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	assertNoOversell(t, borrowing.NewLedger(store.New(db)), db)
}

func assertNoOversell(t *testing.T, ledger *borrowing.Ledger, db *gorm.DB) {
	t.Helper()
	const (
		copies   = 3
		requests = 10
	)
	book := models.Book{
		Title:     "Dune",
		Author:    "Frank Herbert",
		ISBN:      fmt.Sprintf("c-%d", time.Now().UnixNano()%1e15),
		Quantity:  copies,
		Available: copies,
	}
	require.NoError(t, db.Create(&book).Error)
	studentIDs := make([]uint, requests)
	for i := range studentIDs {
		student := models.Student{FullName: fmt.Sprintf("Student %d", i+1)}
		require.NoError(t, db.Create(&student).Error)
		studentIDs[i] = student.ID
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		unavailable int
		other       []error
	)
	for _, id := range studentIDs {
		wg.Add(1)
		go func(studentID uint) {
			defer wg.Done()
			_, err := ledger.Create(context.Background(),
				borrowing.CreateRequest{StudentID: studentID, BookID: book.ID, DueDate: due()}, staff)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, borrowing.ErrBookNotAvailable):
				unavailable++
			default:
				other = append(other, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, copies, successes)
	assert.Equal(t, requests-copies, unavailable)
	assert.Equal(t, 0, bookAvailable(t, db, book.ID))

	var count int64
	db.Model(&models.Borrowing{}).Where("book_id = ? AND status = ?", book.ID, models.StatusBorrowed).Count(&count)
	assert.Equal(t, int64(copies), count)
}

func TestConcurrentReturnsIncrementOnce(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Dune", 1, 1)
	seedStudent(t, db, 5, "Alice Martin")

	b, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		repeated int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Return(ctx, b.ID, staff)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, borrowing.ErrAlreadyReturned) {
				repeated++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, repeated)
	assert.Equal(t, 1, bookAvailable(t, db, 1))
}

func TestGet(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Dune", 1, 1)
	seedStudent(t, db, 5, "Alice Martin")

	b, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
	require.NoError(t, err)

	got, err := ledger.Get(ctx, b.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	require.NotNil(t, got.Student)
	assert.Equal(t, "Alice Martin", got.Student.FullName)
	require.NotNil(t, got.Book)
	assert.Equal(t, "Dune", got.Book.Title)

	_, err = ledger.Get(ctx, 999, staff)
	assert.ErrorIs(t, err, borrowing.ErrBorrowingNotFound)
}

func TestList(t *testing.T) {
	now := time.Now()
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Dune", 2, 2)
	seedBook(t, db, 2, "100% Chemistry", 2, 2)
	seedStudent(t, db, 5, "Alice Martin")
	seedStudent(t, db, 6, "Bob Lee")

	first, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
	require.NoError(t, err)
	_, err = ledger.Create(ctx, borrowing.CreateRequest{StudentID: 6, BookID: 2, DueDate: due()}, staff)
	require.NoError(t, err)
	third, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 6, BookID: 1, DueDate: due()}, staff)
	require.NoError(t, err)
	_, err = ledger.Return(ctx, first.ID, staff)
	require.NoError(t, err)

	late := borrowing.NewLedger(store.New(db), borrowing.WithClock(func() time.Time { return now.AddDate(0, 1, 0) }))

	tests := []struct {
		name   string
		ledger *borrowing.Ledger
		filter borrowing.Filter
		want   int
	}{
		{"all", ledger, borrowing.Filter{}, 3},
		{"by student", ledger, borrowing.Filter{StudentID: 6}, 2},
		{"by book", ledger, borrowing.Filter{BookID: 1}, 2},
		{"by status", ledger, borrowing.Filter{Status: models.StatusReturned}, 1},
		{"search student name", ledger, borrowing.Filter{Search: "ALICE"}, 1},
		{"search book title", ledger, borrowing.Filter{Search: "dun"}, 2},
		{"search is literal", ledger, borrowing.Filter{Search: "100%"}, 1},
		{"search wildcard does not match everything", ledger, borrowing.Filter{Search: "%"}, 1},
		{"search combined with student", ledger, borrowing.Filter{Search: "dune", StudentID: 6}, 1},
		{"nothing overdue yet", ledger, borrowing.Filter{Overdue: true}, 0},
		{"overdue a month later", late, borrowing.Filter{Overdue: true}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ledger.List(ctx, tt.filter, staff)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
			for _, b := range got {
				assert.NotNil(t, b.Book)
				assert.NotNil(t, b.Student)
			}
		})
	}

	all, err := ledger.List(ctx, borrowing.Filter{}, staff)
	require.NoError(t, err)
	assert.Equal(t, third.ID, all[0].ID)

	_, err = ledger.List(ctx, borrowing.Filter{Status: "LOST"}, staff)
	assert.ErrorIs(t, err, borrowing.ErrInvalidStatus)
	_, err = ledger.List(ctx, borrowing.Filter{}, nil)
	assert.ErrorIs(t, err, borrowing.ErrUnauthorized)
}

func TestResizeStock(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Dune", 3, 3)
	seedStudent(t, db, 5, "Alice Martin")

	for i := 0; i < 2; i++ {
		_, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
		require.NoError(t, err)
	}

	book, err := ledger.ResizeStock(ctx, 1, 5, staff)
	require.NoError(t, err)
	assert.Equal(t, 5, book.Quantity)
	assert.Equal(t, 3, book.Available)
	assert.Equal(t, 3, bookAvailable(t, db, 1))

	book, err = ledger.ResizeStock(ctx, 1, 2, staff)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Available)
	assert.Equal(t, 0, bookAvailable(t, db, 1))

	_, err = ledger.ResizeStock(ctx, 1, 1, staff)
	assert.ErrorIs(t, err, borrowing.ErrQuantityBelowOutstanding)
	_, err = ledger.ResizeStock(ctx, 1, 0, staff)
	assert.ErrorIs(t, err, borrowing.ErrInvalidQuantity)
	_, err = ledger.ResizeStock(ctx, 42, 3, staff)
	assert.ErrorIs(t, err, borrowing.ErrBookNotFound)
}

func TestListSearchNonASCII(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()
	seedBook(t, db, 1, "Ötkan kunlar", 1, 1)
	seedBook(t, db, 2, "Dune", 1, 1)
	seedStudent(t, db, 5, "Алишер Навои")
	seedStudent(t, db, 6, "Bob Lee")

	_, err := ledger.Create(ctx, borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: due()}, staff)
	require.NoError(t, err)
	_, err = ledger.Create(ctx, borrowing.CreateRequest{StudentID: 6, BookID: 2, DueDate: due()}, staff)
	require.NoError(t, err)

	for _, search := range []string{"Алишер", "алишер", "АЛИШЕР", "ÖTKAN", "ötkan", "kunlar"} {
		t.Run(search, func(t *testing.T) {
			got, err := ledger.List(ctx, borrowing.Filter{Search: search}, staff)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, uint(5), got[0].StudentID)
		})
	}
}

func TestWithStoreKeepsOptions(t *testing.T) {
	late := time.Now().AddDate(0, 1, 0)
	ledger, db := setupLedger(t, borrowing.WithClock(func() time.Time { return late }))
	seedBook(t, db, 1, "Dune", 1, 1)
	seedStudent(t, db, 5, "Alice Martin")

	err := db.Transaction(func(tx *gorm.DB) error {
		txLedger := ledger.WithStore(store.New(tx))
		_, err := txLedger.Create(context.Background(),
			borrowing.CreateRequest{StudentID: 5, BookID: 1, DueDate: late.Add(time.Hour)}, staff)
		return err
	})
	require.NoError(t, err)

	got, err := ledger.List(context.Background(), borrowing.Filter{}, staff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.WithinDuration(t, late, got[0].BorrowDate, time.Second)
	assert.Equal(t, 0, bookAvailable(t, db, 1))
}
