package models

// ProcessTicketRequest is sent to the extraction service
type ProcessTicketRequest struct {
	TicketID       string `json:"ticket_id"`
	FileName       string `json:"file_name"`
	FileContentB64 string `json:"file_content_b64"`
	MimeType       string `json:"mime_type,omitempty"`
}

// Extraction is the structured result returned by the extraction service.
// Numeric line fields default to zero when the service omits them.
type Extraction struct {
	TicketID          string             `json:"ticket_id"`
	RawText           string             `json:"raw_text"`
	InvoiceNumber     *string            `json:"numero_factura"`
	Date              *string            `json:"fecha"`
	DateTime          *string            `json:"fecha_hora"`
	Total             *float64           `json:"total"`
	Store             *string            `json:"tienda"`
	Location          *string            `json:"ubicacion"`
	PaymentMethod     *string            `json:"metodo_pago"`
	OperationNumber   *string            `json:"numero_operacion"`
	Products          []ExtractedProduct `json:"productos"`
	VATBreakdown      []VATBreakdown     `json:"iva_desglose"`
	ProcessingProfile *string            `json:"processing_profile,omitempty"`
	Warnings          []string           `json:"warnings"`
}

// ExtractedProduct is one detected line of the ticket
type ExtractedProduct struct {
	Name          string  `json:"nombre"`
	Quantity      float64 `json:"cantidad"`
	Unit          string  `json:"unidad"`
	UnitPrice     float64 `json:"precio_unitario"`
	LineTotal     float64 `json:"precio_total"`
	Discount      float64 `json:"descuento"`
	VATPercentage float64 `json:"iva_porcentaje"`
	VATAmount     float64 `json:"iva_importe"`
}

// VATBreakdown is one VAT bracket as printed on the ticket
type VATBreakdown struct {
	Percentage float64 `json:"porcentaje"`
	TaxBase    float64 `json:"base_imponible"`
	Amount     float64 `json:"cuota"`
}
