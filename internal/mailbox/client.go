// Package mailbox provides the authenticated mail-store session used by the
// ingestion pipeline. Two backends exist: IMAP over TLS and the Gmail API.
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConnected is returned when an operation runs before Connect
	ErrNotConnected = errors.New("mailbox not connected")
	// ErrMessageNotFound is returned when a message id no longer exists
	ErrMessageNotFound = errors.New("message not found")
)

// Client is one mailbox session. A client is used by a single cycle and is
// not safe for concurrent use.
type Client interface {
	Connect(ctx context.Context) error
	// Search returns message ids matching the base criteria tokens combined
	// with an OR over subject terms.
	Search(ctx context.Context, criteria []string, terms []string) ([]string, error)
	// Fetch returns the raw RFC 822 bytes without changing the read state.
	Fetch(ctx context.Context, id string) ([]byte, error)
	MarkRead(ctx context.Context, id string) error
	Disconnect() error
}

// Factory opens a fresh, unconnected client for one cycle
type Factory func() (Client, error)

// queryFunc runs one search for a single subject term ("" for none)
type queryFunc func(ctx context.Context, term string) ([]string, error)

// searchUnion runs one query per term and unions the results, keeping the
// first-seen order. With zero terms the base criteria run alone. A failed
// sub-query is logged and skipped; the error is returned only when every
// query failed.
func searchUnion(ctx context.Context, terms []string, query queryFunc) ([]string, error) {
	if len(terms) == 0 {
		return query(ctx, "")
	}
	if len(terms) == 1 {
		return query(ctx, terms[0])
	}

	seen := make(map[string]struct{})
	var ids []string
	var lastErr error
	failed := 0

	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		found, err := query(ctx, term)
		if err != nil {
			logrus.Warnf("Search for term %q failed: %v", term, err)
			lastErr = err
			failed++
			continue
		}
		for _, id := range found {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	if failed == len(terms) {
		return nil, fmt.Errorf("all %d subject searches failed: %w", failed, lastErr)
	}
	return ids, nil
}
