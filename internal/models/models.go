package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog entry keyed by its normalized name
type Product struct {
	Name           string              `db:"nombre" json:"name"`
	Brand          *string             `db:"marca" json:"brand,omitempty"`
	Unit           *string             `db:"unidad" json:"unit,omitempty"`
	CurrentPrice   decimal.NullDecimal `db:"precio_actual" json:"current_price"`
	PriceUpdatedAt *time.Time          `db:"precio_actualizado_en" json:"price_updated_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
}

// ProductUpsert is one product observation to merge into the catalog
type ProductUpsert struct {
	Name       string
	Brand      *string
	Unit       *string
	Price      decimal.NullDecimal
	ObservedAt time.Time
}

// Purchase represents one ingested ticket
type Purchase struct {
	InvoiceNumber   string          `db:"numero_factura" json:"invoice_number"`
	UserEmail       string          `db:"usuario_email" json:"user_email"`
	Timestamp       time.Time       `db:"fecha_hora" json:"timestamp"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Store           *string         `db:"tienda" json:"store,omitempty"`
	Location        *string         `db:"ubicacion" json:"location,omitempty"`
	PaymentMethod   *string         `db:"metodo_pago" json:"payment_method,omitempty"`
	OperationNumber *string         `db:"numero_operacion" json:"operation_number,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// PurchaseLineItem represents one product line of a purchase
type PurchaseLineItem struct {
	InvoiceNumber string          `db:"compra_numero_factura" json:"invoice_number"`
	ProductName   string          `db:"producto_nombre" json:"product_name"`
	Quantity      decimal.Decimal `db:"cantidad" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"precio_unitario" json:"unit_price"`
	LineTotal     decimal.Decimal `db:"precio_total" json:"line_total"`
	Discount      decimal.Decimal `db:"descuento" json:"discount"`
	VATPercentage decimal.Decimal `db:"iva_porcentaje" json:"vat_percentage"`
	VATAmount     decimal.Decimal `db:"iva_importe" json:"vat_amount"`

	// Unit is carried to the catalog upsert, it is not a line item column
	Unit string `db:"-" json:"-"`
}

// PurchaseDocument holds the original attachment of a purchase
type PurchaseDocument struct {
	InvoiceNumber string    `db:"numero_factura" json:"invoice_number"`
	Content       []byte    `db:"ticket_pdf" json:"-"`
	FileName      string    `db:"ticket_nombre_archivo" json:"file_name"`
	SizeBytes     int       `db:"ticket_tamano_bytes" json:"size_bytes"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// TicketHistoryItem summarizes one purchase for the history listing
type TicketHistoryItem struct {
	InvoiceNumber string          `db:"numero_factura" json:"invoice_number"`
	Timestamp     time.Time       `db:"fecha_hora" json:"timestamp"`
	Total         decimal.Decimal `db:"total" json:"total"`
	Store         *string         `db:"tienda" json:"store,omitempty"`
	Location      *string         `db:"ubicacion" json:"location,omitempty"`
	ItemCount     int64           `db:"num_productos" json:"item_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// IngestionSummary is returned after a ticket is committed
type IngestionSummary struct {
	Ingested      bool            `json:"ingested"`
	InvoiceNumber string          `json:"invoice_number"`
	Total         decimal.Decimal `json:"total"`
	ItemsInserted int             `json:"items_inserted"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
