package handler

import (
	"time"

	"invoice-sync-go/internal/models"
)

// SearchTermRequest represents the request structure for creating search terms
type SearchTermRequest struct {
	Term    string `json:"term" binding:"required"`
	Enabled *bool  `json:"enabled"`
}

// SearchTermResponse represents the response structure for search terms
type SearchTermResponse struct {
	ID        uint      `json:"id"`
	Term      string    `json:"term"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentLogResponse represents one document attempt in the journal
type DocumentLogResponse struct {
	ID         uint      `json:"id"`
	Source     string    `json:"source"`
	Provenance string    `json:"provenance,omitempty"`
	Path       string    `json:"path,omitempty"`
	Status     string    `json:"status"`
	ErrorMsg   string    `json:"error_msg,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProcessedMessageResponse represents the response structure for journal entries
type ProcessedMessageResponse struct {
	ID                uint                  `json:"id"`
	MailboxID         string                `json:"mailbox_id"`
	Subject           string                `json:"subject"`
	Sender            string                `json:"sender"`
	Status            string                `json:"status"`
	ErrorMsg          string                `json:"error_msg"`
	DocumentsFound    int                   `json:"documents_found"`
	InvoicesExtracted int                   `json:"invoices_extracted"`
	ProcessedAt       time.Time             `json:"processed_at"`
	Documents         []DocumentLogResponse `json:"documents,omitempty"`
}

// StatusResponse represents the system status report
type StatusResponse struct {
	Status               string           `json:"status"`
	LedgerExists         bool             `json:"ledger_exists"`
	LastModified         *time.Time       `json:"last_modified"`
	PDFDir               string           `json:"pdf_dir"`
	MailboxConfigured    bool             `json:"mailbox_configured"`
	ExtractionConfigured bool             `json:"extraction_configured"`
	Job                  models.JobStatus `json:"job"`
}

// JobResponse wraps the job status with a human-readable message
type JobResponse struct {
	Message string           `json:"message"`
	Job     models.JobStatus `json:"job"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Database  string     `json:"database"`
	Scheduler string     `json:"scheduler"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
