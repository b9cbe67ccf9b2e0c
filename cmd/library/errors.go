package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"school_library/pkg/borrowing"
	"school_library/pkg/circuitbreaker"

	"github.com/gin-gonic/gin"
)

var errInvalidID = errors.New("invalid id")

func statusFor(err error) int {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, borrowing.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, borrowing.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, borrowing.ErrBookNotFound),
		errors.Is(err, borrowing.ErrStudentNotFound),
		errors.Is(err, borrowing.ErrBorrowingNotFound):
		return http.StatusNotFound
	case errors.Is(err, borrowing.ErrBookNotAvailable),
		errors.Is(err, borrowing.ErrInvalidDueDate),
		errors.Is(err, borrowing.ErrInvalidStatus),
		errors.Is(err, borrowing.ErrInvalidQuantity),
		errors.Is(err, errInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, borrowing.ErrAlreadyReturned),
		errors.Is(err, borrowing.ErrConcurrencyConflict),
		errors.Is(err, borrowing.ErrQuantityBelowOutstanding),
		errors.Is(err, borrowing.ErrInventoryInconsistent):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the JSON error for err. Unmapped errors are logged and
// reported with a generic message.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"error", err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func paramID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return uint(id), nil
}

func queryID(c *gin.Context, key string) (uint, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %s", errInvalidID, key)
	}
	return uint(id), nil
}
