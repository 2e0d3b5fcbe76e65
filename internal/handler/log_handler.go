package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"invoice-sync-go/internal/model"
)

// GetLogs returns journal entries with pagination
func (h *Handlers) GetLogs(c *gin.Context) {
	if h.journalDisabled(c) {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	entries, total, err := h.store.ListMessages(page, limit, c.Query("status"))
	if err != nil {
		logrus.Errorf("Failed to list journal: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	responses := make([]ProcessedMessageResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, messageResponse(entry))
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": responses,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetLog returns one journal entry with its documents
func (h *Handlers) GetLog(c *gin.Context) {
	if h.journalDisabled(c) {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid log ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	entry, err := h.store.GetMessage(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Log not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch log",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, messageResponse(*entry))
}

func messageResponse(entry model.ProcessedMessage) ProcessedMessageResponse {
	response := ProcessedMessageResponse{
		ID:                entry.ID,
		MailboxID:         entry.MailboxID,
		Subject:           entry.Subject,
		Sender:            entry.Sender,
		Status:            entry.Status,
		ErrorMsg:          entry.ErrorMsg,
		DocumentsFound:    entry.DocumentsFound,
		InvoicesExtracted: entry.InvoicesExtracted,
		ProcessedAt:       entry.ProcessedAt,
	}
	for _, doc := range entry.Documents {
		response.Documents = append(response.Documents, DocumentLogResponse{
			ID:         doc.ID,
			Source:     doc.Source,
			Provenance: doc.Provenance,
			Path:       doc.Path,
			Status:     doc.Status,
			ErrorMsg:   doc.ErrorMsg,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return response
}
