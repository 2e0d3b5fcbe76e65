package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"invoice-sync-go/internal/model"
	"invoice-sync-go/internal/repository"
)

// GetSearchTerms returns all managed search terms
func (h *Handlers) GetSearchTerms(c *gin.Context) {
	if h.journalDisabled(c) {
		return
	}

	terms, err := h.store.GetAllTerms()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch search terms",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]SearchTermResponse, 0, len(terms))
	for _, term := range terms {
		responses = append(responses, termResponse(term))
	}

	c.JSON(http.StatusOK, responses)
}

// CreateSearchTerm adds a search term
func (h *Handlers) CreateSearchTerm(c *gin.Context) {
	if h.journalDisabled(c) {
		return
	}

	var req SearchTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	term, err := h.store.CreateTerm(req.Term, enabled)
	if errors.Is(err, repository.ErrDuplicateTerm) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "duplicate",
			Message: "Search term already exists",
			Code:    http.StatusConflict,
		})
		return
	}
	if err != nil {
		logrus.Errorf("Failed to create search term: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to create search term",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, termResponse(*term))
}

// DeleteSearchTerm removes a search term
func (h *Handlers) DeleteSearchTerm(c *gin.Context) {
	if h.journalDisabled(c) {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid search term ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := h.store.DeleteTerm(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Search term not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to delete search term",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Status(http.StatusNoContent)
}

func termResponse(term model.SearchTerm) SearchTermResponse {
	return SearchTermResponse{
		ID:        term.ID,
		Term:      term.Term,
		Enabled:   term.Enabled,
		CreatedAt: term.CreatedAt,
		UpdatedAt: term.UpdatedAt,
	}
}
