// Package normalize holds the pure normalization and validation rules applied
// to extracted ticket data before it is persisted.
package normalize

import (
	"encoding/base64"
	"path/filepath"
	"strings"

	"ticket-service/internal/apperr"

	"github.com/shopspring/decimal"
)

// MaxAttachmentBytes is the largest accepted ticket document (10 MiB)
const MaxAttachmentBytes = 10 * 1024 * 1024

// DefaultUnit is stored when the extraction carries no recognized unit
const DefaultUnit = "unidad"

var (
	lineTolerance  = decimal.New(1, -2)  // 0.01
	totalTolerance = decimal.New(10, -2) // 0.10
	hundred        = decimal.NewFromInt(100)

	vatBrackets = []struct {
		upTo decimal.Decimal
		rate decimal.Decimal
	}{
		{decimal.NewFromInt(2), decimal.Zero},
		{decimal.NewFromInt(7), decimal.NewFromInt(4)},
		{decimal.New(155, -1), decimal.NewFromInt(10)},
	}
	vatStandard = decimal.NewFromInt(21)
)

var paymentMethods = map[string]bool{
	"TARJETA BANCARIA": true,
	"EFECTIVO":         true,
	"BIZUM":            true,
	"TRANSFERENCIA":    true,
}

var units = map[string]bool{
	"unidad": true,
	"kg":     true,
	"g":      true,
	"l":      true,
	"ml":     true,
}

var documentExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Name normalizes a product name
func Name(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// InvoiceNumber normalizes an invoice number
func InvoiceNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// PaymentMethod returns the normalized method when it is in the allow-list.
// Unknown methods are not an error; the caller stores them as absent.
func PaymentMethod(s string) (string, bool) {
	m := strings.ToUpper(strings.TrimSpace(s))
	if !paymentMethods[m] {
		return "", false
	}
	return m, true
}

// Unit lowercases a unit of measure, falling back to DefaultUnit
func Unit(s string) string {
	u := strings.ToLower(strings.TrimSpace(s))
	if !units[u] {
		return DefaultUnit
	}
	return u
}

// VATPercentage buckets an observed percentage into the legal schedule
// {0, 4, 10, 21}. Breakpoints are inclusive: 2→0, 7→4, 15.5→10.
func VATPercentage(pct decimal.Decimal) decimal.Decimal {
	for _, b := range vatBrackets {
		if pct.LessThanOrEqual(b.upTo) {
			return b.rate
		}
	}
	return vatStandard
}

// VATAmount computes base × pct / 100
func VATAmount(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// LineCoherent reports whether qty × unitPrice − discount equals lineTotal
// within one cent.
func LineCoherent(qty, unitPrice, discount, lineTotal decimal.Decimal) bool {
	expected := qty.Mul(unitPrice).Sub(discount)
	return lineTotal.Sub(expected).Abs().LessThanOrEqual(lineTolerance)
}

// ValidateTotals compares the sum of line totals with the declared total.
// It returns the absolute difference; beyond 0.10 it is an
// InconsistentBasket error.
func ValidateTotals(lineTotals []decimal.Decimal, declared decimal.Decimal) (decimal.Decimal, error) {
	sum := decimal.Sum(decimal.Zero, lineTotals...)
	diff := sum.Sub(declared).Abs()

	if diff.GreaterThan(totalTolerance) {
		return diff, apperr.New(apperr.InconsistentBasket,
			"sum of line items (%s) does not match ticket total (%s), difference %s",
			sum.StringFixed(2), declared.StringFixed(2), diff.StringFixed(2))
	}
	return diff, nil
}

// DocumentExtension returns the lowercase extension of filename and whether
// it is a recognized ticket document type.
func DocumentExtension(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	return ext, documentExtensions[ext]
}

// ValidateAttachment checks the declared filename and decoded size
func ValidateAttachment(filename string, size int) error {
	if _, ok := DocumentExtension(filename); !ok {
		return apperr.New(apperr.AttachmentRejected,
			"file %q must have one of the extensions .pdf, .png, .jpg, .jpeg, .webp", filename)
	}
	if size > MaxAttachmentBytes {
		return apperr.New(apperr.AttachmentRejected,
			"file exceeds the maximum size of 10MB (actual size: %d bytes)", size)
	}
	return nil
}

// DecodeAttachment decodes standard base64, accepting an optional data URL
// prefix.
func DecodeAttachment(b64 string) ([]byte, error) {
	s := strings.TrimSpace(b64)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			s = s[i+len(";base64,"):]
		}
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.Wrap(apperr.AttachmentRejected, err, "invalid base64 attachment")
	}
	return data, nil
}
