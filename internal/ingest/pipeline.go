// Package ingest runs scraped records through validation, normalization,
// reference resolution and a transactional upsert. It is deliberately batch
// tolerant: one bad record is rejected with a reason while the rest of the
// batch proceeds.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricewise/catalog-search/internal/catalog"
	"github.com/pricewise/catalog-search/internal/pricing"
	"github.com/pricewise/catalog-search/internal/progress"
)

// Status classifies what the pipeline did with one record.
type Status string

// Record statuses.
const (
	StatusCreated  Status = "created"
	StatusUpdated  Status = "updated"
	StatusRejected Status = "rejected"
)

// Outcome is the per-record result returned to the caller. Rejections carry
// a human-readable reason; accepted records carry the product id.
type Outcome struct {
	ProductURL       string    `json:"product_url"`
	Status           Status    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	ProductID        uuid.UUID `json:"product_id,omitempty"`
	PriceChanged     bool      `json:"price_changed"`
	EmbeddingPending bool      `json:"embedding_pending"`
}

// Summary aggregates a batch of outcomes.
type Summary struct {
	Outcomes []Outcome `json:"outcomes"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Rejected int       `json:"rejected"`
}

// Pipeline ingests raw records into the catalog store.
type Pipeline struct {
	store    catalog.CatalogStore
	clock    catalog.Clock
	ids      catalog.IDGenerator
	emitter  progress.Emitter
	logger   *zap.Logger
	validate *validator.Validate
}

// New wires a pipeline. Emitter and logger may be nil.
func New(store catalog.CatalogStore, clock catalog.Clock, ids catalog.IDGenerator, emitter progress.Emitter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    store,
		clock:    clock,
		ids:      ids,
		emitter:  emitter,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// IngestRecord processes a single record.
func (p *Pipeline) IngestRecord(ctx context.Context, rec catalog.RawRecord) Outcome {
	summary := p.IngestBatch(ctx, []catalog.RawRecord{rec})
	return summary.Outcomes[0]
}

// IngestBatch processes records in order and never aborts the batch on a
// record-level failure. The context still applies: a canceled ctx rejects
// the remaining records.
func (p *Pipeline) IngestBatch(ctx context.Context, recs []catalog.RawRecord) Summary {
	runID := uuid.New()
	started := p.clock.Now()
	p.emit(progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		TS:      started,
		Kind:    progress.KindIngest,
		Stage:   progress.StageRunStart,
		Records: int64(len(recs)),
	})

	summary := Summary{Outcomes: make([]Outcome, 0, len(recs))}
	for _, rec := range recs {
		var out Outcome
		if err := ctx.Err(); err != nil {
			out = rejected(rec.ProductURL, fmt.Sprintf("batch canceled: %v", err))
		} else {
			out = p.ingestOne(ctx, rec)
		}
		summary.Outcomes = append(summary.Outcomes, out)
		switch out.Status {
		case StatusCreated:
			summary.Created++
		case StatusUpdated:
			summary.Updated++
		case StatusRejected:
			summary.Rejected++
			p.logger.Debug("record rejected",
				zap.String("product_url", rec.ProductURL),
				zap.String("reason", out.Reason))
		}
		p.emit(progress.Event{
			RunID:   progress.UUIDToBytes(runID),
			TS:      p.clock.Now(),
			Kind:    progress.KindIngest,
			Stage:   progress.StageRecordDone,
			Store:   catalog.Slugify(rec.StoreName),
			Outcome: recordOutcome(out.Status),
		})
	}

	now := p.clock.Now()
	p.emit(progress.Event{
		RunID:   progress.UUIDToBytes(runID),
		TS:      now,
		Kind:    progress.KindIngest,
		Stage:   progress.StageBatchDone,
		Records: int64(len(recs)),
		Failed:  int64(summary.Rejected),
		Dur:     now.Sub(started),
	})
	p.emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    now,
		Kind:  progress.KindIngest,
		Stage: progress.StageRunDone,
		Dur:   now.Sub(started),
	})
	return summary
}

func (p *Pipeline) ingestOne(ctx context.Context, rec catalog.RawRecord) Outcome {
	if err := p.validate.Struct(rec); err != nil {
		return rejected(rec.ProductURL, validationReason(err))
	}

	price, err := pricing.ParsePrice(rec.PriceText)
	if err != nil {
		return rejected(rec.ProductURL, fmt.Sprintf("price: %v", err))
	}
	basePrice := pricing.ParseBasePrice(rec.BasePriceText)
	stock, availText := pricing.DetectAvailability(rec.AvailabilityText)

	name := catalog.CleanText(rec.Name)
	description := catalog.CleanText(rec.Description)
	if name == "" {
		return rejected(rec.ProductURL, "name: empty after cleanup")
	}

	store, err := p.store.GetOrCreateStore(ctx, rec.StoreName)
	if err != nil {
		return rejected(rec.ProductURL, fmt.Sprintf("store: %v", err))
	}

	var (
		categoryID   *int64
		categoryName string
	)
	if len(rec.CategoryPath) > 0 {
		category, catErr := p.store.GetOrCreateCategoryChain(ctx, rec.CategoryPath)
		if catErr != nil {
			return rejected(rec.ProductURL, fmt.Sprintf("category: %v", catErr))
		}
		categoryID = &category.ID
		categoryName = category.Name
	}

	var (
		manufacturerID   *int64
		manufacturerName string
	)
	if strings.TrimSpace(rec.ManufacturerName) != "" {
		manufacturer, manErr := p.store.GetOrCreateManufacturer(ctx, rec.ManufacturerName)
		if manErr != nil {
			return rejected(rec.ProductURL, fmt.Sprintf("manufacturer: %v", manErr))
		}
		manufacturerID = &manufacturer.ID
		manufacturerName = manufacturer.Name
	}

	id, err := p.ids.NewRawID()
	if err != nil {
		return rejected(rec.ProductURL, fmt.Sprintf("id: %v", err))
	}

	scrapedAt := rec.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = p.clock.Now()
	}

	up := catalog.ProductUpsert{
		Record: catalog.Product{
			ID:               id,
			Name:             name,
			Description:      description,
			SKU:              strings.TrimSpace(rec.SKU),
			ProductURL:       rec.ProductURL,
			ImageURL:         rec.ImageURL,
			Price:            price,
			BasePrice:        basePrice,
			StockStatus:      stock,
			AvailabilityText: availText,
			StoreID:          store.ID,
			CategoryID:       categoryID,
			ManufacturerID:   manufacturerID,
			Details:          rec.Details,
		},
		SearchText: catalog.BuildSearchText(name, description, categoryName, manufacturerName),
		ScrapedAt:  scrapedAt,
	}

	outcome, err := p.store.UpsertProduct(ctx, up)
	if errors.Is(err, catalog.ErrConflict) {
		// A concurrent writer inserted the same URL between our select
		// and insert; the row exists now, so one retry lands on the
		// update path.
		outcome, err = p.store.UpsertProduct(ctx, up)
	}
	if err != nil {
		return rejected(rec.ProductURL, fmt.Sprintf("upsert: %v", err))
	}

	status := StatusUpdated
	if outcome.Created {
		status = StatusCreated
	}
	return Outcome{
		ProductURL:       rec.ProductURL,
		Status:           status,
		ProductID:        outcome.Product.ID,
		PriceChanged:     outcome.PriceChanged,
		EmbeddingPending: outcome.Product.Embedding.State == catalog.EmbeddingPending,
	}
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(evt)
}

func rejected(url, reason string) Outcome {
	return Outcome{ProductURL: url, Status: StatusRejected, Reason: reason}
}

func recordOutcome(s Status) progress.Outcome {
	switch s {
	case StatusCreated:
		return progress.OutcomeCreated
	case StatusUpdated:
		return progress.OutcomeUpdated
	default:
		return progress.OutcomeRejected
	}
}

// validationReason flattens validator errors into one compact reason string.
func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
