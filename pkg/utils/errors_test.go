package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(ErrCodeValidation, "Bad input", "field x")
	assert.Equal(t, "VALIDATION_ERROR: Bad input (field x)", err.Error())

	err = NewAppError(ErrCodeNotFound, "Missing")
	assert.Equal(t, "NOT_FOUND: Missing", err.Error())
}

func TestHasCode(t *testing.T) {
	err := NewAppError(ErrCodeWatermark, "Watermark regression rejected")

	assert.True(t, HasCode(err, ErrCodeWatermark))
	assert.False(t, HasCode(err, ErrCodeDatabase))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeWatermark))
	assert.False(t, HasCode(nil, ErrCodeWatermark))

	// Codes survive wrapping
	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, HasCode(wrapped, ErrCodeWatermark))
}

func TestNormalizeHelpers(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeHash("0xABCDEF"))
	assert.Equal(t, "0xabcdef", NormalizeHash("ABCDEF"))
	assert.Equal(t, "0x1111111111111111111111111111111111111111",
		NormalizeAddress("0x1111111111111111111111111111111111111111"))
	assert.True(t, IsValidAddress("0x1111111111111111111111111111111111111111"))
	assert.False(t, IsValidAddress("hello"))
}
