package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"school_library/pkg/borrowing"
	"school_library/pkg/models"

	"github.com/gin-gonic/gin"
)

type createBorrowingRequest struct {
	BookID    uint   `json:"bookId" binding:"required"`
	StudentID uint   `json:"studentId" binding:"required"`
	DueDate   string `json:"dueDate" binding:"required"`
}

// parseDueDate accepts RFC 3339 timestamps or plain dates, which mean midnight UTC.
func parseDueDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, errors.New("dueDate must be an RFC 3339 timestamp or a YYYY-MM-DD date")
	}
	return t.UTC(), nil
}

func listBorrowings(c *gin.Context) {
	var f borrowing.Filter
	var err error
	if f.StudentID, err = queryID(c, "studentId"); err != nil {
		respondError(c, err)
		return
	}
	if f.BookID, err = queryID(c, "bookId"); err != nil {
		respondError(c, err)
		return
	}
	f.Status = models.BorrowingStatus(strings.ToUpper(c.Query("status")))
	if raw := c.Query("overdue"); raw != "" {
		if f.Overdue, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "overdue must be true or false"})
			return
		}
	}
	f.Search = strings.TrimSpace(c.Query("search"))

	borrowings, err := ledger.List(c.Request.Context(), f, currentIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if borrowings == nil {
		borrowings = []models.Borrowing{}
	}
	c.JSON(http.StatusOK, borrowings)
}

func createBorrowing(c *gin.Context) {
	var req createBorrowingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bookId, studentId and dueDate are required"})
		return
	}
	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var created *models.Borrowing
	err = guarded(func() error {
		var err error
		created, err = ledger.Create(c.Request.Context(), borrowing.CreateRequest{
			StudentID: req.StudentID,
			BookID:    req.BookID,
			DueDate:   dueDate,
		}, currentIdentity(c))
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func getBorrowing(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	b, err := ledger.Get(c.Request.Context(), id, currentIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func returnBorrowing(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var returned *models.Borrowing
	err = guarded(func() error {
		var err error
		returned, err = ledger.Return(c.Request.Context(), id, currentIdentity(c))
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, returned)
}
