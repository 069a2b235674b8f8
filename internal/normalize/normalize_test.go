package normalize

import (
	"encoding/base64"
	"strings"
	"testing"

	"ticket-service/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"bread", "BREAD"},
		{"  Leche Entera  ", "LECHE ENTERA"},
		{"\tpan\n", "PAN"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.input))
			assert.Equal(t, tt.want, InvoiceNumber(tt.input))
		})
	}
}

func TestPaymentMethod(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"tarjeta bancaria", "TARJETA BANCARIA", true},
		{" Efectivo ", "EFECTIVO", true},
		{"BIZUM", "BIZUM", true},
		{"transferencia", "TRANSFERENCIA", true},
		{"cheque", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := PaymentMethod(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnit(t *testing.T) {
	assert.Equal(t, "kg", Unit(" KG "))
	assert.Equal(t, "ml", Unit("ml"))
	assert.Equal(t, DefaultUnit, Unit(""))
	assert.Equal(t, DefaultUnit, Unit("docena"))
}

func TestVATPercentageBoundaries(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"2", "0"},
		{"2.01", "4"},
		{"4.2", "4"},
		{"7", "4"},
		{"7.01", "10"},
		{"15.5", "10"},
		{"15.51", "21"},
		{"21", "21"},
		{"35", "21"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := VATPercentage(d(tt.input))
			assert.True(t, got.Equal(d(tt.want)), "VATPercentage(%s) = %s, want %s", tt.input, got, tt.want)
		})
	}
}

func TestVATAmount(t *testing.T) {
	assert.True(t, VATAmount(d("10"), d("21")).Equal(d("2.1")))
	assert.True(t, VATAmount(d("3.50"), d("4")).Equal(d("0.14")))
	assert.True(t, VATAmount(d("12"), decimal.Zero).IsZero())
}

func TestLineCoherent(t *testing.T) {
	tests := []struct {
		name                    string
		qty, price, disc, total string
		want                    bool
	}{
		{"exact", "2", "1.25", "0", "2.50", true},
		{"with discount", "3", "1.00", "0.50", "2.50", true},
		{"one cent off", "1", "0.99", "0", "1.00", true},
		{"two cents off", "1", "0.98", "0", "1.00", false},
		{"weighted", "0.455", "2.99", "0", "1.36", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LineCoherent(d(tt.qty), d(tt.price), d(tt.disc), d(tt.total)))
		})
	}
}

func TestValidateTotalsTolerance(t *testing.T) {
	lines := []decimal.Decimal{d("4.00"), d("6.00")}

	diff, err := ValidateTotals(lines, d("10.00"))
	require.NoError(t, err)
	assert.True(t, diff.IsZero())

	diff, err = ValidateTotals(lines, d("10.10"))
	require.NoError(t, err)
	assert.True(t, diff.Equal(d("0.10")))

	_, err = ValidateTotals(lines, d("10.11"))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InconsistentBasket))

	_, err = ValidateTotals(lines, d("9.89"))
	assert.True(t, apperr.IsKind(err, apperr.InconsistentBasket))

	diff, err = ValidateTotals(nil, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, diff.IsZero())
}

func TestValidateAttachment(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		size     int
		wantErr  bool
	}{
		{"pdf within limit", "ticket.pdf", 1024, false},
		{"uppercase extension", "TICKET.PDF", 1024, false},
		{"image", "photo.jpeg", 1024, false},
		{"no extension", "ticket", 10, true},
		{"wrong extension small", "ticket.txt", 10, true},
		{"exactly at ceiling", "ticket.pdf", MaxAttachmentBytes, false},
		{"one byte over", "ticket.pdf", MaxAttachmentBytes + 1, true},
		{"wrong extension oversize", "ticket.docx", MaxAttachmentBytes + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAttachment(tt.filename, tt.size)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, apperr.AttachmentRejected))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDecodeAttachment(t *testing.T) {
	raw := []byte("%PDF-1.4 fake")
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeAttachment(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeAttachment("data:application/pdf;base64," + enc + "\n")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeAttachment(strings.Repeat("!", 8))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.AttachmentRejected))
}
