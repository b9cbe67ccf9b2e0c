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

type createStudentRequest struct {
	FullName    string `json:"fullName" binding:"required,min=2,max=120"`
	PhoneNumber string `json:"phoneNumber" binding:"omitempty,e164"`
	Grade       string `json:"grade" binding:"max=20"`
	Description string `json:"description"`
}

type updateStudentRequest struct {
	FullName    *string `json:"fullName" binding:"omitempty,min=2,max=120"`
	PhoneNumber *string `json:"phoneNumber" binding:"omitempty,e164"`
	Grade       *string `json:"grade" binding:"omitempty,max=20"`
	Description *string `json:"description"`
}

func listStudents(c *gin.Context) {
	query := db.WithContext(c.Request.Context()).Order("full_name, id")
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := store.ContainsPattern(search)
		query = query.Where(`LOWER(full_name) LIKE LOWER(?) ESCAPE '\'`, pattern)
	}

	students := []models.Student{}
	if err := query.Find(&students).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

func getStudent(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var student models.Student
	err = db.WithContext(c.Request.Context()).First(&student, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

func createStudent(c *gin.Context) {
	var req createStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	student := models.Student{
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		Grade:       req.Grade,
		Description: req.Description,
	}
	if err := db.WithContext(c.Request.Context()).Create(&student).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, student)
}

func updateStudent(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req updateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := map[string]interface{}{}
	if req.FullName != nil {
		fields["full_name"] = *req.FullName
	}
	if req.PhoneNumber != nil {
		fields["phone_number"] = *req.PhoneNumber
	}
	if req.Grade != nil {
		fields["grade"] = *req.Grade
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}

	ctx := c.Request.Context()
	var student models.Student
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&student, id).Error; err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&student).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&student, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

func deleteStudent(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()

	var references int64
	if err := db.WithContext(ctx).Model(&models.Borrowing{}).Where("student_id = ?", id).Count(&references).Error; err != nil {
		respondError(c, err)
		return
	}
	if references > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Student has borrowing records and cannot be deleted"})
		return
	}

	result := db.WithContext(ctx).Delete(&models.Student{}, id)
	if errors.Is(result.Error, gorm.ErrForeignKeyViolated) {
		c.JSON(http.StatusConflict, gin.H{"error": "Student has borrowing records and cannot be deleted"})
		return
	}
	if result.Error != nil {
		respondError(c, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
