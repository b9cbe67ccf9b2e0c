package database

import (
	"errors"
	"fmt"
	"log/slog"

	"school_library/pkg/models"

	"gorm.io/gorm"
)

var seedBooks = []models.Book{
	{Title: "The Hobbit", Author: "J.R.R. Tolkien", ISBN: "9780547928227", Quantity: 3, Available: 3},
	{Title: "Animal Farm", Author: "George Orwell", ISBN: "9780451526342", Quantity: 2, Available: 2},
	{Title: "The Three Musketeers", Author: "Alexandre Dumas", ISBN: "9780140449266", Quantity: 1, Available: 1},
	{Title: "Romeo and Juliet", Author: "William Shakespeare", ISBN: "9780743477116", Quantity: 4, Available: 4},
}

var seedStudents = []models.Student{
	{FullName: "Alice Martin", PhoneNumber: "+15550100001", Grade: "7A"},
	{FullName: "Bob Lee", PhoneNumber: "+15550100002", Grade: "8B"},
	{FullName: "Chen Wei", Grade: "9C"},
}

// Seed inserts sample books and students. Existing rows (by ISBN, by name) are left alone.
func Seed(db *gorm.DB) error {
	created := 0
	for _, book := range seedBooks {
		var existing models.Book
		err := db.Where("isbn = ?", book.ISBN).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("look up book %s: %w", book.ISBN, err)
		}
		if err := db.Create(&book).Error; err != nil {
			return fmt.Errorf("create book %q: %w", book.Title, err)
		}
		created++
	}

	for _, student := range seedStudents {
		var existing models.Student
		err := db.Where("full_name = ?", student.FullName).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("look up student %q: %w", student.FullName, err)
		}
		if err := db.Create(&student).Error; err != nil {
			return fmt.Errorf("create student %q: %w", student.FullName, err)
		}
		created++
	}

	slog.Info("library test data seeded", "created", created)
	return nil
}
