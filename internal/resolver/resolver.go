// Package resolver turns document ids into documents.
package resolver

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

// DefaultConcurrency bounds parallel per-id fetches.
const DefaultConcurrency = 8

// Fetcher resolves a single document id.
type Fetcher interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
}

// BatchFetcher resolves several ids in one call. Replies may be partial and
// in any order.
type BatchFetcher interface {
	GetDocuments(ctx context.Context, ids []string) ([]model.Document, error)
}

// Resolver resolves document ids concurrently. Ids that fail to resolve are
// dropped; the result always follows the order of the requested ids.
type Resolver struct {
	fetcher     Fetcher
	concurrency int
	logger      *logger.Logger
}

// New creates a resolver. When fetcher also implements BatchFetcher the
// batch call is tried first and per-id fetches fill in what it missed.
func New(fetcher Fetcher, concurrency int, log *logger.Logger) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{
		fetcher:     fetcher,
		concurrency: concurrency,
		logger:      log,
	}
}

// Resolve returns the documents for ids in ids order.
func (r *Resolver) Resolve(ctx context.Context, ids []string) []model.Document {
	if len(ids) == 0 {
		return nil
	}

	found := make(map[string]model.Document, len(ids))

	if batch, ok := r.fetcher.(BatchFetcher); ok {
		docs, err := batch.GetDocuments(ctx, ids)
		if err != nil {
			r.logger.Debug("batch document fetch failed, falling back to per-id",
				zap.Int("ids", len(ids)),
				zap.Error(err),
			)
		}
		for _, doc := range docs {
			found[doc.ID] = doc
		}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		resolved := make([]*model.Document, len(missing))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for i, id := range missing {
			g.Go(func() error {
				doc, err := r.fetcher.GetDocument(gctx, id)
				if err != nil {
					metrics.DocumentResolveFailuresTotal.Inc()
					r.logger.Warn("dropping unresolved document",
						zap.String("document_id", id),
						zap.Error(err),
					)
					return nil
				}
				resolved[i] = doc
				return nil
			})
		}
		_ = g.Wait()

		for i, doc := range resolved {
			if doc != nil {
				if doc.ID == "" {
					doc.ID = missing[i]
				}
				found[missing[i]] = *doc
			}
		}
	}

	out := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := found[id]; ok {
			out = append(out, doc)
		}
	}
	return out
}
