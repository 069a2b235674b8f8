// Package catalog merges product observations taken from tickets into the
// product catalog.
package catalog

import (
	"context"
	"strings"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/normalize"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Observation is one sighting of a product on a ticket
type Observation struct {
	Name  string
	Brand string
	Unit  string
	Price *decimal.Decimal
}

// Resolver upserts observations through a transactional writer
type Resolver struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewResolver creates a new catalog resolver
func NewResolver() *Resolver {
	return &Resolver{
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Resolve merges obs into the catalog and returns the post-merge row.
// The store applies the merge in a single conflict-aware statement.
func (r *Resolver) Resolve(ctx context.Context, w store.Writer, obs Observation) (*models.Product, error) {
	upsert := r.Prepare(obs)

	product, err := w.UpsertProduct(ctx, upsert)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Catalog entry resolved",
		zap.String("product", product.Name),
		zap.Bool("price_updated", product.PriceUpdatedAt != nil && product.PriceUpdatedAt.Equal(upsert.ObservedAt.UTC())))
	return product, nil
}

// Prepare normalizes an observation into the upsert sent to the store
func (r *Resolver) Prepare(obs Observation) *models.ProductUpsert {
	upsert := &models.ProductUpsert{
		Name:       normalize.Name(obs.Name),
		Brand:      optional(obs.Brand),
		Unit:       optional(obs.Unit),
		ObservedAt: r.now().UTC(),
	}
	if obs.Price != nil {
		upsert.Price = decimal.NewNullDecimal(*obs.Price)
	}
	return upsert
}

// Merge applies the catalog rules to an existing row, or creates the row
// when existing is nil:
//   - brand and unit are only filled when previously absent
//   - price and its timestamp are replaced only by a priced observation
//     strictly newer than the stored one
func Merge(existing *models.Product, in *models.ProductUpsert) models.Product {
	observedAt := in.ObservedAt.UTC()

	if existing == nil {
		p := models.Product{
			Name:         in.Name,
			Brand:        in.Brand,
			Unit:         in.Unit,
			CurrentPrice: in.Price,
			CreatedAt:    observedAt,
		}
		if in.Price.Valid {
			p.PriceUpdatedAt = &observedAt
		}
		return p
	}

	merged := *existing
	if strOrEmpty(merged.Brand) == "" {
		merged.Brand = in.Brand
	}
	if strOrEmpty(merged.Unit) == "" {
		merged.Unit = in.Unit
	}
	if in.Price.Valid && (merged.PriceUpdatedAt == nil || merged.PriceUpdatedAt.Before(observedAt)) {
		merged.CurrentPrice = in.Price
		merged.PriceUpdatedAt = &observedAt
	}
	return merged
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
