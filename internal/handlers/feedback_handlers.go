package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"can_analyzer_shop/internal/models"
)

// FeedbackHandler implements the public comment board
type FeedbackHandler struct {
	db *gorm.DB
}

// NewFeedbackHandler creates a new FeedbackHandler
func NewFeedbackHandler(db *gorm.DB) *FeedbackHandler {
	return &FeedbackHandler{db: db}
}

// List returns recent feedback entries, newest first
func (h *FeedbackHandler) List(c echo.Context) error {
	var feedbacks []models.Feedback
	err := h.db.Preload("User").Order("created_at desc").Limit(100).Find(&feedbacks).Error
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch feedback")
	}
	return c.JSON(http.StatusOK, feedbacks)
}

// Create stores a new feedback entry for the authenticated user
func (h *FeedbackHandler) Create(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Content is required")
	}

	feedback := models.Feedback{
		UserID:  getUintFromContext(c, "userID"),
		Content: req.Content,
	}
	if err := h.db.Create(&feedback).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store feedback")
	}

	return c.JSON(http.StatusCreated, feedback)
}

// Update edits an entry; only the author may edit
func (h *FeedbackHandler) Update(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid feedback ID")
	}

	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Content is required")
	}

	var feedback models.Feedback
	if err := h.db.First(&feedback, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Feedback not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch feedback")
	}

	if feedback.UserID != getUintFromContext(c, "userID") {
		return echo.NewHTTPError(http.StatusForbidden, "You can only edit your own feedback")
	}

	feedback.Content = req.Content
	if err := h.db.Save(&feedback).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update feedback")
	}

	return c.JSON(http.StatusOK, feedback)
}

// Delete removes an entry; only the author may delete
func (h *FeedbackHandler) Delete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid feedback ID")
	}

	var feedback models.Feedback
	if err := h.db.First(&feedback, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Feedback not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch feedback")
	}

	if feedback.UserID != getUintFromContext(c, "userID") {
		return echo.NewHTTPError(http.StatusForbidden, "You can only delete your own feedback")
	}

	if err := h.db.Delete(&feedback).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete feedback")
	}

	return c.NoContent(http.StatusNoContent)
}
