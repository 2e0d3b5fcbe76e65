package models

import "time"

// Outcome statuses used by message and document results
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// DocumentOutcome records what happened to one attachment or link
type DocumentOutcome struct {
	Source     string     `json:"source"`
	Provenance Provenance `json:"provenance,omitempty"`
	Path       string     `json:"path,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// MessageOutcome records what happened to one mailbox message
type MessageOutcome struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Sender    string            `json:"sender"`
	Status    string            `json:"status"`
	Error     string            `json:"error,omitempty"`
	Invoices  int               `json:"invoices"`
	Documents []DocumentOutcome `json:"documents"`
}

// CycleResult is returned by every pipeline run
type CycleResult struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	InvoiceCount int              `json:"invoice_count"`
	Invoices     []InvoiceRecord  `json:"invoices"`
	Messages     []MessageOutcome `json:"messages,omitempty"`
	LedgerPath   string           `json:"ledger_path,omitempty"`
}

// JobStatus describes the background scheduler
type JobStatus struct {
	Running         bool         `json:"running"`
	IntervalMinutes int          `json:"interval_minutes"`
	NextRun         *time.Time   `json:"next_run"`
	LastRun         *time.Time   `json:"last_run"`
	LastResult      *CycleResult `json:"last_result"`
}
