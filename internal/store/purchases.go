package store

import (
	"context"
	"database/sql"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
)

const purchaseColumns = `numero_factura, usuario_email, fecha_hora, total, tienda, ubicacion, metodo_pago, numero_operacion, created_at`

// History page sizes
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// GetPurchase retrieves a purchase by normalized invoice number
func (s *Store) GetPurchase(ctx context.Context, invoice string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := s.db.GetContext(ctx, &purchase,
		"SELECT "+purchaseColumns+" FROM compras WHERE numero_factura = $1", invoice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromStore(err, "get_purchase")
	}
	return &purchase, nil
}

// GetLineItems retrieves all line items of a purchase
func (s *Store) GetLineItems(ctx context.Context, invoice string) ([]models.PurchaseLineItem, error) {
	var items []models.PurchaseLineItem
	err := s.db.SelectContext(ctx, &items, `
		SELECT compra_numero_factura, producto_nombre, cantidad, precio_unitario,
			precio_total, descuento, iva_porcentaje, iva_importe
		FROM compras_productos
		WHERE compra_numero_factura = $1
		ORDER BY producto_nombre`, invoice)
	if err != nil {
		return nil, apperr.FromStore(err, "get_line_items")
	}
	return items, nil
}

// GetDocument retrieves the attachment of a purchase
func (s *Store) GetDocument(ctx context.Context, invoice string) (*models.PurchaseDocument, error) {
	var doc models.PurchaseDocument
	err := s.db.GetContext(ctx, &doc, `
		SELECT numero_factura, ticket_pdf, ticket_nombre_archivo, ticket_tamano_bytes, created_at
		FROM tickets_pdf
		WHERE numero_factura = $1`, invoice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromStore(err, "get_document")
	}
	return &doc, nil
}

// TicketHistory lists a user's purchases, most recent first
func (s *Store) TicketHistory(ctx context.Context, userEmail string, limit, offset int) ([]models.TicketHistoryItem, error) {
	limit, offset = PageBounds(limit, offset)

	items := []models.TicketHistoryItem{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT
			c.numero_factura,
			c.fecha_hora,
			c.total,
			c.tienda,
			c.ubicacion,
			c.created_at,
			COUNT(cp.producto_nombre) AS num_productos
		FROM compras c
		LEFT JOIN compras_productos cp ON c.numero_factura = cp.compra_numero_factura
		WHERE c.usuario_email = $1
		GROUP BY c.numero_factura, c.fecha_hora, c.total, c.tienda, c.ubicacion, c.created_at
		ORDER BY c.fecha_hora DESC, c.created_at DESC
		LIMIT $2 OFFSET $3`, userEmail, limit, offset)
	if err != nil {
		return nil, apperr.FromStore(err, "ticket_history")
	}
	return items, nil
}

// PageBounds clamps history pagination parameters to the default and
// maximum page sizes
func PageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// InsertPurchase creates the purchase row
func (w *txWriter) InsertPurchase(ctx context.Context, p *models.Purchase) error {
	query := `
		INSERT INTO compras (
			numero_factura, usuario_email, fecha_hora, total,
			tienda, ubicacion, metodo_pago, numero_operacion
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := w.tx.GetContext(ctx, &p.CreatedAt, query,
		p.InvoiceNumber, p.UserEmail, p.Timestamp.UTC(), p.Total,
		p.Store, p.Location, p.PaymentMethod, p.OperationNumber)
	if err != nil {
		return apperr.FromStore(err, "insert_purchase")
	}
	return nil
}

// InsertLineItem creates one line item and returns the rows affected
func (w *txWriter) InsertLineItem(ctx context.Context, item *models.PurchaseLineItem) (int64, error) {
	query := `
		INSERT INTO compras_productos (
			compra_numero_factura, producto_nombre, cantidad, precio_unitario,
			precio_total, descuento, iva_porcentaje, iva_importe
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	res, err := w.tx.ExecContext(ctx, query,
		item.InvoiceNumber, item.ProductName, item.Quantity, item.UnitPrice,
		item.LineTotal, item.Discount, item.VATPercentage, item.VATAmount)
	if err != nil {
		return 0, apperr.FromStore(err, "insert_line_item")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.FromStore(err, "insert_line_item")
	}
	return n, nil
}

// InsertDocument stores the attachment; its size is taken from the content
func (w *txWriter) InsertDocument(ctx context.Context, doc *models.PurchaseDocument) error {
	doc.SizeBytes = len(doc.Content)

	query := `
		INSERT INTO tickets_pdf (numero_factura, ticket_pdf, ticket_nombre_archivo, ticket_tamano_bytes)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := w.tx.GetContext(ctx, &doc.CreatedAt, query,
		doc.InvoiceNumber, doc.Content, doc.FileName, doc.SizeBytes)
	if err != nil {
		return apperr.FromStore(err, "insert_document")
	}
	return nil
}
