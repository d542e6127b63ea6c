package gridbase

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewQueryError("list records", cause)

	assert.Contains(t, err.Error(), "list records")
	assert.ErrorIs(t, err, cause)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrorKindInternal, ee.Kind)
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewRecordNotFoundError("rec1")))
	assert.True(t, IsNotFound(NewSchemaNotFoundError("crm", "orders")))
	assert.True(t, IsBadRequest(NewBadRequestError(ErrCodeInvalidFilter, "bad leaf")))
	assert.True(t, IsValidation(NewValidationError("amount", "not a number")))
	assert.True(t, IsConflict(NewConflictError(ErrCodeTableAlreadyExists, "dup")))
	assert.True(t, IsInternal(NewInternalError("boom", nil)))

	assert.False(t, IsNotFound(NewValidationError("f", "m")))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewRecordNotFoundError("rec1"))
	assert.True(t, IsNotFound(err))
	assert.True(t, IsCode(err, ErrCodeRecordNotFound))
	assert.False(t, IsCode(err, ErrCodeInvalidFilter))
}

func TestNotEnabledError(t *testing.T) {
	err := NewNotEnabledError("DeepCopy")
	assert.True(t, IsBadRequest(err))
	assert.True(t, IsCode(err, ErrCodeNotEnabled))
	assert.Contains(t, err.Error(), "DeepCopy")
}

func TestValidationErrorCarriesField(t *testing.T) {
	err := NewValidationError("amount", "must be numeric")
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "amount", ee.Field)
}
