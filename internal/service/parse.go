package service

import (
	"math"
	"strings"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/normalize"

	"github.com/shopspring/decimal"
)

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

const dateLayout = "2006-01-02"

// Column limits: money is NUMERIC(10,2) and quantities NUMERIC(10,3)
var (
	maxMoney    = decimal.New(1, 8)
	maxQuantity = decimal.New(1, 7)
)

// parseTimestamp resolves the purchase instant from the extraction.
// The wall clock is read in loc and returned in UTC. dateOnly is set when
// only the date was available and noon was assumed.
func parseTimestamp(ext *models.Extraction, loc *time.Location) (ts time.Time, dateOnly bool, err error) {
	if ext.DateTime != nil {
		s := strings.TrimSpace(*ext.DateTime)
		for _, layout := range dateTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t.UTC(), false, nil
			}
		}
	}

	if ext.Date != nil {
		if d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(*ext.Date), loc); err == nil {
			noon := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc)
			return noon.UTC(), true, nil
		}
	}

	return time.Time{}, false, apperr.New(apperr.MalformedTimestamp, "could not parse the ticket date")
}

// parseTotal converts the declared total to a two decimal amount
func parseTotal(total *float64) (decimal.Decimal, error) {
	if total == nil {
		return decimal.Zero, apperr.New(apperr.InvalidAmount, "the ticket has no total")
	}
	if !finite(*total) {
		return decimal.Zero, apperr.New(apperr.InvalidAmount, "the ticket total is not a number")
	}
	if *total < 0 {
		return decimal.Zero, apperr.New(apperr.InvalidAmount, "the ticket total cannot be negative")
	}
	v := decimal.NewFromFloat(*total).Round(2)
	if v.GreaterThanOrEqual(maxMoney) {
		return decimal.Zero, apperr.New(apperr.InvalidAmount, "the ticket total %s exceeds the supported range", v.StringFixed(2))
	}
	return v, nil
}

// amount converts one line value, rejecting NaN, infinities, negatives and
// values that do not fit below limit once rounded
func amount(field, product string, v float64, places int32, limit decimal.Decimal) (decimal.Decimal, error) {
	if !finite(v) || v < 0 {
		return decimal.Zero, apperr.New(apperr.InvalidAmount, "product %s has an invalid %s: %v", product, field, v)
	}
	d := decimal.NewFromFloat(v).Round(places)
	if d.GreaterThanOrEqual(limit) {
		return decimal.Zero, apperr.New(apperr.InvalidAmount, "product %s has a %s out of range: %s", product, field, d.String())
	}
	return d, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// lineItem converts one extracted product. The returned item is not yet
// bound to an invoice. coherent is false when quantity × unit price −
// discount does not match the line total.
func lineItem(p models.ExtractedProduct) (item models.PurchaseLineItem, coherent bool, err error) {
	name := normalize.Name(p.Name)
	if name == "" {
		return item, false, apperr.New(apperr.MissingRequiredField, "product with empty name")
	}

	qty, err := amount("quantity", name, p.Quantity, 3, maxQuantity)
	if err != nil {
		return item, false, err
	}
	unitPrice, err := amount("unit price", name, p.UnitPrice, 2, maxMoney)
	if err != nil {
		return item, false, err
	}
	lineTotal, err := amount("line total", name, p.LineTotal, 2, maxMoney)
	if err != nil {
		return item, false, err
	}
	discount, err := amount("discount", name, p.Discount, 2, maxMoney)
	if err != nil {
		return item, false, err
	}

	pct := decimal.Zero
	if finite(p.VATPercentage) {
		pct = decimal.NewFromFloat(p.VATPercentage)
	}
	pct = normalize.VATPercentage(pct)

	var vat decimal.Decimal
	if finite(p.VATAmount) && p.VATAmount > 0 {
		vat, err = amount("VAT amount", name, p.VATAmount, 2, maxMoney)
		if err != nil {
			return item, false, err
		}
	} else {
		vat = normalize.VATAmount(lineTotal.Sub(discount), pct).Round(2)
	}

	item = models.PurchaseLineItem{
		ProductName:   name,
		Quantity:      qty,
		UnitPrice:     unitPrice,
		LineTotal:     lineTotal,
		Discount:      discount,
		VATPercentage: pct,
		VATAmount:     vat,
		Unit:          normalize.Unit(p.Unit),
	}
	return item, normalize.LineCoherent(qty, unitPrice, discount, lineTotal), nil
}

// optionalText trims s and drops it when empty
func optionalText(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
