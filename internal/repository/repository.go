package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"invoice-sync-go/internal/model"
	"invoice-sync-go/internal/models"
)

// ErrDuplicateTerm is returned when a search term already exists
var ErrDuplicateTerm = errors.New("search term already exists")

// Repository persists the processing journal and the managed search terms
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// RecordMessage writes one message outcome and its document attempts
func (r *Repository) RecordMessage(outcome models.MessageOutcome) error {
	entry := model.ProcessedMessage{
		MailboxID:         outcome.ID,
		Subject:           outcome.Subject,
		Sender:            outcome.Sender,
		Status:            outcome.Status,
		ErrorMsg:          outcome.Error,
		DocumentsFound:    len(outcome.Documents),
		InvoicesExtracted: outcome.Invoices,
		ProcessedAt:       time.Now(),
	}
	for _, doc := range outcome.Documents {
		entry.Documents = append(entry.Documents, model.DocumentLog{
			Source:     doc.Source,
			Provenance: string(doc.Provenance),
			Path:       doc.Path,
			Status:     doc.Status,
			ErrorMsg:   doc.Error,
		})
	}

	if result := r.db.Create(&entry); result.Error != nil {
		return fmt.Errorf("failed to record message %s: %w", outcome.ID, result.Error)
	}
	return nil
}

// ListMessages returns journal entries newest first along with the total count
func (r *Repository) ListMessages(page, pageSize int, status string) ([]model.ProcessedMessage, int64, error) {
	scoped := func() *gorm.DB {
		query := r.db.Model(&model.ProcessedMessage{})
		if status != "" {
			query = query.Where("status = ?", status)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var entries []model.ProcessedMessage
	result := scoped().Order("processed_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to get messages: %w", result.Error)
	}
	return entries, total, nil
}

// GetMessage returns one journal entry with its documents
func (r *Repository) GetMessage(id uint) (*model.ProcessedMessage, error) {
	var entry model.ProcessedMessage
	result := r.db.Preload("Documents").First(&entry, id)
	if result.Error != nil {
		return nil, result.Error
	}
	return &entry, nil
}

// GetAllTerms returns every search term
func (r *Repository) GetAllTerms() ([]model.SearchTerm, error) {
	var terms []model.SearchTerm
	result := r.db.Order("id").Find(&terms)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get search terms: %w", result.Error)
	}
	return terms, nil
}

// EnabledTerms returns the text of every enabled search term. managed is
// false when the table holds no terms at all, enabled or not.
func (r *Repository) EnabledTerms() (terms []string, managed bool, err error) {
	var all []model.SearchTerm
	if err := r.db.Order("id").Find(&all).Error; err != nil {
		return nil, false, fmt.Errorf("failed to get enabled search terms: %w", err)
	}

	terms = make([]string, 0, len(all))
	for _, t := range all {
		if t.Enabled {
			terms = append(terms, t.Term)
		}
	}
	return terms, len(all) > 0, nil
}

// CreateTerm adds a search term, rejecting case-insensitive duplicates
func (r *Repository) CreateTerm(term string, enabled bool) (*model.SearchTerm, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errors.New("search term is empty")
	}

	var count int64
	if err := r.db.Model(&model.SearchTerm{}).Where("LOWER(term) = LOWER(?)", term).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if count > 0 {
		return nil, ErrDuplicateTerm
	}

	entry := model.SearchTerm{Term: term, Enabled: enabled}
	if result := r.db.Create(&entry); result.Error != nil {
		return nil, fmt.Errorf("failed to create search term: %w", result.Error)
	}
	// default:true on the column would override an explicit false on create
	if !enabled {
		if err := r.db.Model(&entry).Update("enabled", false).Error; err != nil {
			return nil, fmt.Errorf("failed to disable search term: %w", err)
		}
	}
	return &entry, nil
}

// DeleteTerm removes a search term, returning gorm.ErrRecordNotFound when absent
func (r *Repository) DeleteTerm(id uint) error {
	result := r.db.Unscoped().Delete(&model.SearchTerm{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete search term: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SeedTerms inserts configured terms when the table is empty
func (r *Repository) SeedTerms(terms []string) error {
	var count int64
	if err := r.db.Model(&model.SearchTerm{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count search terms: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, term := range terms {
		if _, err := r.CreateTerm(term, true); err != nil && !errors.Is(err, ErrDuplicateTerm) {
			return err
		}
	}
	return nil
}
