package store

import (
	"context"
	"database/sql"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
)

const productColumns = `nombre, marca, unidad, precio_actual, precio_actualizado_en, created_at`

// upsertProductQuery merges an observation in one statement. Known brand and
// unit are kept; price moves only forward in time.
const upsertProductQuery = `
	INSERT INTO productos (nombre, marca, unidad, precio_actual, precio_actualizado_en)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (nombre) DO UPDATE SET
		marca = COALESCE(NULLIF(productos.marca, ''), EXCLUDED.marca),
		unidad = COALESCE(NULLIF(productos.unidad, ''), EXCLUDED.unidad),
		precio_actual = CASE
			WHEN EXCLUDED.precio_actual IS NOT NULL
				AND (productos.precio_actualizado_en IS NULL
					OR productos.precio_actualizado_en < EXCLUDED.precio_actualizado_en)
			THEN EXCLUDED.precio_actual
			ELSE productos.precio_actual
		END,
		precio_actualizado_en = CASE
			WHEN EXCLUDED.precio_actual IS NOT NULL
				AND (productos.precio_actualizado_en IS NULL
					OR productos.precio_actualizado_en < EXCLUDED.precio_actualizado_en)
			THEN EXCLUDED.precio_actualizado_en
			ELSE productos.precio_actualizado_en
		END
	RETURNING ` + productColumns

// GetProduct retrieves a catalog entry by normalized name
func (s *Store) GetProduct(ctx context.Context, name string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM productos WHERE nombre = $1", name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromStore(err, "get_product")
	}
	return &product, nil
}

// UpsertProduct inserts or merges a catalog entry and returns the resulting row
func (w *txWriter) UpsertProduct(ctx context.Context, p *models.ProductUpsert) (*models.Product, error) {
	var observedAt interface{}
	if p.Price.Valid {
		observedAt = p.ObservedAt.UTC()
	}

	var product models.Product
	err := w.tx.GetContext(ctx, &product, upsertProductQuery,
		p.Name, p.Brand, p.Unit, p.Price, observedAt)
	if err != nil {
		return nil, apperr.FromStore(err, "upsert_product")
	}
	return &product, nil
}
