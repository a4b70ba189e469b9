package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestErrorKindsMatchThroughWrapping(t *testing.T) {
	insufficient := &InsufficientStockError{
		IntakeID:  "i-1",
		Requested: decimal.RequireFromString("10.51"),
		Available: decimal.RequireFromString("10.5"),
	}
	wrapped := fmt.Errorf("ledger: withdraw: %w", insufficient)
	assert.ErrorIs(t, wrapped, ErrInsufficientStock)
	assert.NotErrorIs(t, wrapped, ErrInvalidInput)
	assert.Equal(t, "A quantidade solicitada (10.51) é maior que o estoque disponível (10.5).", insufficient.Error())

	var target *InsufficientStockError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "i-1", target.IntakeID)

	notFound := fmt.Errorf("lookup: %w", NotFoundError{Entity: "intake", ID: "x"})
	assert.ErrorIs(t, notFound, ErrNotFound)
	assert.EqualError(t, notFound, "lookup: intake x not found")

	assert.ErrorIs(t, Invalid("quantity", "deve ser maior que zero"), ErrInvalidInput)
}

func TestValidationErrorMessage(t *testing.T) {
	assert.EqualError(t, Invalid("email", "campo obrigatório"), "email: campo obrigatório")
	assert.EqualError(t, Invalid("", "corpo inválido"), "corpo inválido")
}

func TestCheckDecimalBoundsScaleAndMagnitude(t *testing.T) {
	for _, raw := range []string{"1", "10.5", "0.000001", "999999999999.999999", "1e6"} {
		assert.NoError(t, CheckDecimal("quantity", decimal.RequireFromString(raw)), raw)
	}
	for _, raw := range []string{"1e-30000000", "0.0000001", "1e30000000", "1e19", "1234567890123456789"} {
		err := CheckDecimal("quantity", decimal.RequireFromString(raw))
		assert.ErrorIs(t, err, ErrInvalidInput, raw)
	}
}

func TestConflictErrorCarriesClientMessage(t *testing.T) {
	err := fmt.Errorf("identity: insert: %w", &ConflictError{Field: "email", Message: "E-mail já cadastrado."})
	assert.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)
}
