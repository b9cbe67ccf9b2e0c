package borrowing

import "errors"

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("role is not allowed to manage borrowings")

	ErrBookNotFound      = errors.New("book not found")
	ErrStudentNotFound   = errors.New("student not found")
	ErrBorrowingNotFound = errors.New("borrowing not found")

	ErrBookNotAvailable = errors.New("book not available")
	ErrAlreadyReturned  = errors.New("book already returned")

	// ErrConcurrencyConflict is the only ledger error a caller may retry.
	ErrConcurrencyConflict = errors.New("concurrent update conflict, retry the request")

	ErrInvalidDueDate           = errors.New("due date must be in the future")
	ErrInvalidStatus            = errors.New("unknown borrowing status")
	ErrInvalidQuantity          = errors.New("quantity must be at least 1")
	ErrQuantityBelowOutstanding = errors.New("quantity is below the number of copies on loan")
	ErrInventoryInconsistent    = errors.New("book availability would exceed its quantity")
)

var domainErrors = []error{
	ErrUnauthorized,
	ErrForbidden,
	ErrBookNotFound,
	ErrStudentNotFound,
	ErrBorrowingNotFound,
	ErrBookNotAvailable,
	ErrAlreadyReturned,
	ErrConcurrencyConflict,
	ErrInvalidDueDate,
	ErrInvalidStatus,
	ErrInvalidQuantity,
	ErrQuantityBelowOutstanding,
	ErrInventoryInconsistent,
}

// IsDomainError reports whether err is a ledger outcome rather than a storage failure.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
