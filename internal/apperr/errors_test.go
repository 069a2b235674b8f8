package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing field", New(MissingRequiredField, "no invoice"), http.StatusUnprocessableEntity},
		{"timestamp", New(MalformedTimestamp, "bad date"), http.StatusUnprocessableEntity},
		{"amount", New(InvalidAmount, "negative"), http.StatusUnprocessableEntity},
		{"basket", New(InconsistentBasket, "sum"), http.StatusUnprocessableEntity},
		{"attachment", New(AttachmentRejected, "ext"), http.StatusUnprocessableEntity},
		{"duplicate", Duplicate("A-001"), http.StatusConflict},
		{"unique violation", Integrity(ConstraintUnique, "compras_pkey", nil), http.StatusConflict},
		{"fk violation", Integrity(ConstraintForeignKey, "compras_usuario_email_fkey", nil), http.StatusUnprocessableEntity},
		{"transient", New(TransientUpstreamFailure, "timeout"), http.StatusServiceUnavailable},
		{"upstream rejected", New(UpstreamRejected, "bad file"), http.StatusBadRequest},
		{"unauthorized", New(Unauthorized, "who"), http.StatusUnauthorized},
		{"not found", New(NotFound, "nope"), http.StatusNotFound},
		{"internal", New(Internal, "boom"), http.StatusInternalServerError},
		{"foreign error", errors.New("plain"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("ctx: %w", Duplicate("X")), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	err := Wrap(Internal, errors.New("pq: password authentication failed"), "store operation get_purchase failed")
	assert.Equal(t, "internal server error", PublicMessage(err))

	integrity := Integrity(ConstraintForeignKey, "compras_usuario_email_fkey", errors.New("pq: detail"))
	assert.NotContains(t, PublicMessage(integrity), "fkey")

	assert.Equal(t, "purchase with invoice number A-001 already exists", PublicMessage(Duplicate("A-001")))
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, IsAlreadyExists(Duplicate("A")))
	assert.True(t, IsAlreadyExists(fmt.Errorf("commit: %w", Integrity(ConstraintUnique, "compras_pkey", nil))))
	assert.False(t, IsAlreadyExists(Integrity(ConstraintForeignKey, "fk", nil)))
	assert.False(t, IsAlreadyExists(errors.New("other")))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("ingest: %w", New(InconsistentBasket, "diff 0.11"))
	assert.True(t, errors.Is(err, &Error{Kind: InconsistentBasket}))
	assert.False(t, errors.Is(err, &Error{Kind: InvalidAmount}))
	assert.Equal(t, InconsistentBasket, KindOf(err))
	assert.Equal(t, Internal, KindOf(errors.New("x")))
}

func TestFromStore(t *testing.T) {
	unique := &pq.Error{Code: "23505", Constraint: "compras_pkey"}
	err := FromStore(fmt.Errorf("insert purchase: %w", unique), "insert_purchase")
	assert.True(t, IsKind(err, StoreIntegrityViolation))
	assert.True(t, IsAlreadyExists(err))

	fk := &pq.Error{Code: "23503", Constraint: "compras_usuario_email_fkey"}
	err = FromStore(fk, "insert_purchase")
	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, ConstraintForeignKey, e.Constraint)

	overflow := &pq.Error{Code: "22003", Message: "numeric field overflow"}
	err = FromStore(overflow, "insert_purchase")
	assert.True(t, IsKind(err, InvalidAmount))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
	assert.NotContains(t, PublicMessage(err), "numeric field")

	err = FromStore(errors.New("connection reset"), "get_purchase")
	assert.True(t, IsKind(err, Internal))

	already := Duplicate("A")
	assert.Same(t, already, FromStore(already, "noop"))

	assert.Nil(t, FromStore(nil, "noop"))
}
