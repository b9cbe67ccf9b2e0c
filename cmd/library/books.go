package main

import (
	"errors"
	"net/http"
	"strings"

	"school_library/pkg/models"
	"school_library/pkg/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type createBookRequest struct {
	Title    string `json:"title" binding:"required"`
	Author   string `json:"author" binding:"required"`
	ISBN     string `json:"isbn" binding:"required,max=20"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

type updateBookRequest struct {
	Title    *string `json:"title" binding:"omitempty,min=1"`
	Author   *string `json:"author" binding:"omitempty,min=1"`
	ISBN     *string `json:"isbn" binding:"omitempty,min=1,max=20"`
	Quantity *int    `json:"quantity" binding:"omitempty,min=1"`
}

func listBooks(c *gin.Context) {
	query := db.WithContext(c.Request.Context()).Order("title, id")
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := store.ContainsPattern(search)
		query = query.Where(`(LOWER(title) LIKE LOWER(?) ESCAPE '\' OR LOWER(author) LIKE LOWER(?) ESCAPE '\')`, pattern, pattern)
	}

	books := []models.Book{}
	if err := query.Find(&books).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func getBook(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var book models.Book
	err = db.WithContext(c.Request.Context()).First(&book, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book := models.Book{
		Title:     req.Title,
		Author:    req.Author,
		ISBN:      req.ISBN,
		Quantity:  req.Quantity,
		Available: req.Quantity,
	}
	err := db.WithContext(c.Request.Context()).Create(&book).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		c.JSON(http.StatusConflict, gin.H{"error": "A book with this ISBN already exists"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

// updateBook changes the catalogue fields and, through the ledger, the quantity
// in one transaction, so a rejected field leaves the stock untouched.
func updateBook(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req updateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := map[string]interface{}{}
	if req.Title != nil {
		fields["title"] = *req.Title
	}
	if req.Author != nil {
		fields["author"] = *req.Author
	}
	if req.ISBN != nil {
		fields["isbn"] = *req.ISBN
	}

	ctx := c.Request.Context()
	var book models.Book
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&book, id).Error; err != nil {
			return err
		}
		if len(fields) > 0 {
			if err := tx.Model(&models.Book{}).Where("id = ?", id).Updates(fields).Error; err != nil {
				return err
			}
		}
		if req.Quantity != nil && *req.Quantity != book.Quantity {
			txLedger := ledger.WithStore(store.New(tx))
			err := guarded(func() error {
				_, err := txLedger.ResizeStock(ctx, id, *req.Quantity, currentIdentity(c))
				return err
			})
			if err != nil {
				return err
			}
		}
		return tx.First(&book, id).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
	case errors.Is(err, gorm.ErrDuplicatedKey):
		c.JSON(http.StatusConflict, gin.H{"error": "A book with this ISBN already exists"})
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusOK, book)
	}
}

func deleteBook(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()

	var references int64
	if err := db.WithContext(ctx).Model(&models.Borrowing{}).Where("book_id = ?", id).Count(&references).Error; err != nil {
		respondError(c, err)
		return
	}
	if references > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Book has borrowing records and cannot be deleted"})
		return
	}

	result := db.WithContext(ctx).Delete(&models.Book{}, id)
	if errors.Is(result.Error, gorm.ErrForeignKeyViolated) {
		c.JSON(http.StatusConflict, gin.H{"error": "Book has borrowing records and cannot be deleted"})
		return
	}
	if result.Error != nil {
		respondError(c, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
