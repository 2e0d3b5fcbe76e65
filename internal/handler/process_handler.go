package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-sync-go/internal/models"
	"invoice-sync-go/internal/resolver"
)

const ledgerContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Process runs one acquisition cycle. With async=true it runs in the
// background and returns immediately.
func (h *Handlers) Process(c *gin.Context) {
	if c.Query("async") == "true" {
		go func() {
			result := h.jobs.RunNow(context.Background())
			logrus.Infof("Background cycle finished: %s", result.Message)
		}()
		c.JSON(http.StatusAccepted, models.CycleResult{
			Success:  true,
			Message:  "processing started in background",
			Invoices: []models.InvoiceRecord{},
		})
		return
	}

	c.JSON(http.StatusOK, h.jobs.RunNow(c.Request.Context()))
}

// Upload stores a PDF from a multipart form and processes it
func (h *Handlers) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Multipart field 'file' is required",
			Code:    http.StatusBadRequest,
		})
		return
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Only PDF files are accepted",
			Code:    http.StatusBadRequest,
		})
		return
	}

	meta := models.Metadata{Sender: c.DefaultPostForm("sender", "manual upload")}
	if raw := c.PostForm("date"); raw != "" {
		if d, err := time.Parse("2006-01-02", raw); err == nil {
			meta.Date = &d
		} else {
			logrus.Warnf("Ignoring malformed upload date %q", raw)
		}
	}

	if err := os.MkdirAll(h.settings.PDFDir, 0o755); err != nil {
		h.uploadFailed(c, err)
		return
	}
	path := filepath.Join(h.settings.PDFDir, uuid.NewString()+"_"+resolver.SanitizeFilename(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		h.uploadFailed(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"path": path, "sender": meta.Sender}).Info("Stored uploaded PDF")

	c.JSON(http.StatusOK, h.docs.ProcessSingleDocument(c.Request.Context(), path, meta))
}

func (h *Handlers) uploadFailed(c *gin.Context, err error) {
	logrus.Errorf("Failed to store upload: %v", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "storage_error",
		Message: "Failed to store uploaded file",
		Code:    http.StatusInternalServerError,
	})
}

// DownloadLedger serves the workbook
func (h *Handlers) DownloadLedger(c *gin.Context) {
	if _, err := os.Stat(h.settings.LedgerPath); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Ledger workbook not found",
			Code:    http.StatusNotFound,
		})
		return
	}

	c.Header("Content-Type", ledgerContentType)
	c.FileAttachment(h.settings.LedgerPath, filepath.Base(h.settings.LedgerPath))
}

// GetStatus reports ledger, configuration and job state
func (h *Handlers) GetStatus(c *gin.Context) {
	response := StatusResponse{
		Status:               "active",
		PDFDir:               h.settings.PDFDir,
		MailboxConfigured:    h.settings.MailboxConfigured,
		ExtractionConfigured: h.settings.ExtractionConfigured,
		Job:                  h.jobs.Status(),
	}
	if info, err := os.Stat(h.settings.LedgerPath); err == nil {
		modified := info.ModTime()
		response.LedgerExists = true
		response.LastModified = &modified
	}

	c.JSON(http.StatusOK, response)
}
