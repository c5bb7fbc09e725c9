package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIs_WrappedError(t *testing.T) {
	err := fmt.Errorf("login: %w", Auth("Invalid credentials", 401))

	assert.True(t, Is(err, KindAuth))
	assert.False(t, Is(err, KindValidation))
	assert.False(t, Is(errors.New("plain"), KindAuth))
	assert.False(t, Is(nil, KindAuth))
}

func TestAs_ReturnsNilForForeignErrors(t *testing.T) {
	assert.Nil(t, As(errors.New("plain")))

	ae := As(fmt.Errorf("wrap: %w", ErrNoIdentity))
	require.NotNil(t, ae)
	assert.Equal(t, KindNoIdentity, ae.Kind)
}

func TestError_MessageIncludesStatus(t *testing.T) {
	assert.Equal(t, "boom (500)", Request(500, "boom").Error())
	assert.Equal(t, "bad input", Validation("bad input").Error())
}

func TestTransport_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transport("request failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestError_Field(t *testing.T) {
	err := Validation("Validation failed",
		FieldError{Field: "phone", Message: "Must be +216 followed by 8 digits"},
	)

	assert.Equal(t, "Must be +216 followed by 8 digits", err.Field("phone"))
	assert.Empty(t, err.Field("email"))
}
