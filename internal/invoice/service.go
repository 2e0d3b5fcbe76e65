package invoice

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"invoice-sync-go/internal/models"
)

// Service runs extraction and normalization for one document
type Service struct {
	extractor  Extractor
	normalizer *Normalizer
}

// NewService creates a Service
func NewService(extractor Extractor, normalizer *Normalizer) *Service {
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	return &Service{extractor: extractor, normalizer: normalizer}
}

// Process always returns a record. When extraction fails the record carries
// only defaults and provenance, and the error is returned alongside it.
func (s *Service) Process(ctx context.Context, pdfPath string, meta models.Metadata) (models.InvoiceRecord, error) {
	raw, err := s.extractor.Extract(ctx, pdfPath, meta)
	record := s.normalizer.Normalize(raw, pdfPath, meta)
	if err != nil {
		logrus.WithFields(logrus.Fields{"pdf": pdfPath, "sender": meta.Sender}).Errorf("Invoice extraction failed: %v", err)
		return record, fmt.Errorf("extract %s: %w", pdfPath, err)
	}

	logrus.WithFields(logrus.Fields{
		"pdf":     pdfPath,
		"invoice": models.StringValue(record.InvoiceNumber),
		"issuer":  models.StringValue(record.IssuerTaxID),
		"total":   record.TotalAmount,
	}).Info("Invoice extracted")
	return record, nil
}
