// Package pipeline drives one acquisition cycle: mailbox search, document
// discovery and resolution, extraction, and the ledger merge.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-sync-go/internal/mailbox"
	"invoice-sync-go/internal/metrics"
	"invoice-sync-go/internal/models"
)

// MessageExtractor parses a raw message into headers, attachments and links
type MessageExtractor interface {
	Extract(id string, raw []byte) (*models.MailMessage, error)
}

// DocumentResolver stores attachments and turns links into local PDFs
type DocumentResolver interface {
	SaveAttachment(data []byte, filename string) (string, error)
	ResolveLink(ctx context.Context, link string) (models.ResolvedDocument, error)
}

// InvoiceProcessor turns a stored PDF into a record. It returns a record even on error.
type InvoiceProcessor interface {
	Process(ctx context.Context, pdfPath string, meta models.Metadata) (models.InvoiceRecord, error)
}

// Ledger persists records
type Ledger interface {
	Merge(records []models.InvoiceRecord) (string, error)
}

// Journal records message outcomes
type Journal interface {
	RecordMessage(outcome models.MessageOutcome) error
}

// TermSource supplies the managed subject terms for each cycle
type TermSource interface {
	EnabledTerms() (terms []string, managed bool, err error)
}

// Pipeline runs acquisition cycles
type Pipeline struct {
	newClient mailbox.Factory
	extractor MessageExtractor
	resolver  DocumentResolver
	invoices  InvoiceProcessor
	ledger    Ledger

	criteria []string
	terms    []string

	journal Journal
	termSrc TermSource
	metrics *metrics.Metrics
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSearch sets the base criteria tokens and the fallback subject terms
func WithSearch(criteria, terms []string) Option {
	return func(p *Pipeline) {
		p.criteria = criteria
		p.terms = terms
	}
}

// WithJournal records every message outcome
func WithJournal(j Journal) Option {
	return func(p *Pipeline) {
		p.journal = j
	}
}

// WithTermSource reads subject terms from src each cycle
func WithTermSource(src TermSource) Option {
	return func(p *Pipeline) {
		p.termSrc = src
	}
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a Pipeline
func New(newClient mailbox.Factory, extractor MessageExtractor, resolver DocumentResolver, invoices InvoiceProcessor, ledger Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		newClient: newClient,
		extractor: extractor,
		resolver:  resolver,
		invoices:  invoices,
		ledger:    ledger,
		criteria:  []string{"UNSEEN"},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle processes every matching message once. Success reports whether the
// mailbox could be read; ledger problems only change the message.
func (p *Pipeline) RunCycle(ctx context.Context) models.CycleResult {
	start := time.Now()
	logrus.Info("Starting acquisition cycle")

	result := p.runCycle(ctx)

	if p.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		p.metrics.Cycles.WithLabelValues(outcome).Inc()
		p.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}
	logrus.WithFields(logrus.Fields{
		"success":  result.Success,
		"invoices": result.InvoiceCount,
		"duration": time.Since(start).String(),
	}).Infof("Acquisition cycle finished: %s", result.Message)
	return result
}

func (p *Pipeline) runCycle(ctx context.Context) models.CycleResult {
	client, err := p.newClient()
	if err != nil {
		logrus.Errorf("Failed to create mailbox client: %v", err)
		return failed(fmt.Sprintf("mailbox unavailable: %v", err))
	}

	if err := client.Connect(ctx); err != nil {
		logrus.Errorf("Failed to connect to mailbox: %v", err)
		return failed(fmt.Sprintf("failed to connect to mailbox: %v", err))
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logrus.Warnf("Failed to disconnect from mailbox: %v", err)
		}
	}()

	ids, err := client.Search(ctx, p.criteria, p.searchTerms())
	if err != nil {
		logrus.Errorf("Mailbox search failed: %v", err)
		return failed(fmt.Sprintf("mailbox search failed: %v", err))
	}
	if len(ids) == 0 {
		return models.CycleResult{Success: true, Message: "no matching messages", Invoices: []models.InvoiceRecord{}}
	}

	logrus.Infof("Processing %d messages", len(ids))

	result := models.CycleResult{Success: true, Invoices: []models.InvoiceRecord{}}
	for _, id := range ids {
		if ctx.Err() != nil {
			logrus.Warnf("Cycle cancelled, %d messages left unprocessed", len(ids)-len(result.Messages))
			break
		}

		outcome, records := p.processMessage(ctx, client, id)
		result.Messages = append(result.Messages, outcome)
		result.Invoices = append(result.Invoices, records...)
		p.record(outcome)
	}
	result.InvoiceCount = len(result.Invoices)

	p.export(&result)
	return result
}

// ProcessSingleDocument extracts one local PDF and merges it into the ledger
func (p *Pipeline) ProcessSingleDocument(ctx context.Context, path string, meta models.Metadata) models.CycleResult {
	record, extractErr := p.invoices.Process(ctx, path, meta)
	if p.metrics != nil {
		p.metrics.InvoicesExtracted.Inc()
	}

	result := models.CycleResult{
		Success:      true,
		InvoiceCount: 1,
		Invoices:     []models.InvoiceRecord{record},
	}
	p.export(&result)
	if result.LedgerPath == "" {
		result.Success = false
	}
	if extractErr != nil {
		result.Message = fmt.Sprintf("%s (extraction failed: %v)", result.Message, extractErr)
	}
	return result
}

func (p *Pipeline) export(result *models.CycleResult) {
	if len(result.Invoices) == 0 {
		result.Message = fmt.Sprintf("processed %d messages, no invoices found", len(result.Messages))
		return
	}

	path, err := p.ledger.Merge(result.Invoices)
	if err != nil {
		logrus.Errorf("Ledger merge failed: %v", err)
		if p.metrics != nil {
			p.metrics.LedgerFailures.Inc()
		}
		result.Message = fmt.Sprintf("processed %d invoices, but the ledger merge failed: %v", result.InvoiceCount, err)
		return
	}
	result.LedgerPath = path
	result.Message = fmt.Sprintf("processed %d invoices, ledger: %s", result.InvoiceCount, path)
}

// processMessage never panics and never returns an error: every failure is
// recorded in the outcome.
func (p *Pipeline) processMessage(ctx context.Context, client mailbox.Client, id string) (outcome models.MessageOutcome, records []models.InvoiceRecord) {
	outcome = models.MessageOutcome{ID: id, Status: models.StatusOK, Documents: []models.DocumentOutcome{}}
	log := logrus.WithField("message", id)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic while processing message: %v", r)
			outcome.Status = models.StatusFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
		}
		outcome.Invoices = len(records)
		if p.metrics != nil {
			p.metrics.Messages.WithLabelValues(outcome.Status).Inc()
		}
	}()

	raw, err := client.Fetch(ctx, id)
	if err != nil {
		log.Errorf("Failed to fetch message: %v", err)
		outcome.Status = models.StatusFailed
		outcome.Error = fmt.Sprintf("fetch: %v", err)
		return outcome, nil
	}

	msg, err := p.extractor.Extract(id, raw)
	if err != nil {
		log.Errorf("Failed to parse message: %v", err)
		outcome.Status = models.StatusFailed
		outcome.Error = fmt.Sprintf("parse: %v", err)
		return outcome, nil
	}
	outcome.Subject = msg.Subject
	outcome.Sender = msg.Sender
	log = log.WithField("subject", msg.Subject)

	meta := models.Metadata{Sender: msg.Sender, Subject: msg.Subject, Date: msg.Date}
	for _, doc := range p.resolveDocuments(ctx, msg, &outcome) {
		record, err := p.invoices.Process(ctx, doc.Path, meta)
		records = append(records, record)
		if p.metrics != nil {
			p.metrics.InvoicesExtracted.Inc()
		}
		if err != nil {
			d := &outcome.Documents[doc.index]
			d.Status = models.StatusFailed
			d.Error = fmt.Sprintf("extraction: %v", err)
		}
	}

	if len(outcome.Documents) == 0 {
		log.Info("No documents found in message")
		outcome.Status = models.StatusSkipped
	}

	if err := client.MarkRead(ctx, id); err != nil {
		log.Warnf("Failed to mark message as read: %v", err)
		outcome.Error = fmt.Sprintf("mark read: %v", err)
	}
	return outcome, records
}

type resolved struct {
	models.ResolvedDocument
	index int
}

// resolveDocuments stores every attachment, then resolves every link
// independently of whether an attachment already succeeded.
func (p *Pipeline) resolveDocuments(ctx context.Context, msg *models.MailMessage, outcome *models.MessageOutcome) []resolved {
	var docs []resolved
	log := logrus.WithField("message", msg.ID)

	add := func(d models.DocumentOutcome, err error) {
		if err != nil {
			d.Status = models.StatusFailed
			d.Error = err.Error()
			if p.metrics != nil {
				p.metrics.ResolutionFailures.Inc()
			}
		} else {
			d.Status = models.StatusOK
			docs = append(docs, resolved{
				ResolvedDocument: models.ResolvedDocument{Path: d.Path, Provenance: d.Provenance},
				index:            len(outcome.Documents),
			})
			if p.metrics != nil {
				p.metrics.DocumentsResolved.WithLabelValues(string(d.Provenance)).Inc()
			}
		}
		outcome.Documents = append(outcome.Documents, d)
	}

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		path, err := p.resolver.SaveAttachment(att.Data, att.Filename)
		att.Data = nil
		if err != nil {
			log.Errorf("Failed to save attachment %s: %v", att.Filename, err)
		} else {
			log.Infof("Saved attachment %s", path)
		}
		add(models.DocumentOutcome{Source: att.Filename, Provenance: models.ProvenanceAttachment, Path: path}, err)
	}

	for _, link := range msg.Links {
		doc, err := p.resolver.ResolveLink(ctx, link)
		if err != nil {
			log.Warnf("No document from %s: %v", link, err)
		} else {
			log.Infof("Downloaded %s from %s", doc.Path, link)
		}
		provenance := doc.Provenance
		if provenance == "" {
			provenance = models.ProvenanceDirectLink
		}
		add(models.DocumentOutcome{Source: link, Provenance: provenance, Path: doc.Path}, err)
	}
	return docs
}

func (p *Pipeline) searchTerms() []string {
	if p.termSrc != nil {
		terms, managed, err := p.termSrc.EnabledTerms()
		if err != nil {
			logrus.Warnf("Failed to load search terms, using configured terms: %v", err)
		} else if managed {
			return terms
		}
	}
	return p.terms
}

func (p *Pipeline) record(outcome models.MessageOutcome) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordMessage(outcome); err != nil {
		logrus.Warnf("Failed to journal message %s: %v", outcome.ID, err)
	}
}

func failed(message string) models.CycleResult {
	return models.CycleResult{Success: false, Message: message, Invoices: []models.InvoiceRecord{}}
}
