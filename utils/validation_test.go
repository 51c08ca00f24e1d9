package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeRequest struct {
	Key      string `validate:"required,max=16"`
	Contact  string `validate:"omitempty,email"`
	Attempts int    `validate:"gte=0,lte=10"`
	Channel  string `validate:"omitempty,oneof=email linkedin"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		err := ValidateStruct(&probeRequest{Key: "k-1", Contact: "ops@example.com", Attempts: 3, Channel: "email"})
		assert.NoError(t, err)
	})

	tests := []struct {
		name    string
		req     probeRequest
		field   string
		message string
	}{
		{"missing key", probeRequest{}, "Key", "Key is required"},
		{"key too long", probeRequest{Key: "0123456789abcdefg"}, "Key", "Key must be at most 16"},
		{"invalid email", probeRequest{Key: "k", Contact: "nope"}, "Contact", "Contact must be a valid email"},
		{"attempts too high", probeRequest{Key: "k", Attempts: 11}, "Attempts", "Attempts must be less than or equal to 10"},
		{"attempts negative", probeRequest{Key: "k", Attempts: -1}, "Attempts", "Attempts must be greater than or equal to 0"},
		{"unknown channel", probeRequest{Key: "k", Channel: "fax"}, "Channel", "Channel must be one of: email linkedin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			fields := GetValidationFields(err)
			assert.Equal(t, tt.message, fields[tt.field])
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := ValidateStruct(&probeRequest{Contact: "invalid", Attempts: 50})
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)

	assert.Equal(t, "Validation failed", validationErr.Message)
	assert.Contains(t, validationErr.Fields, "Key")
	assert.Contains(t, validationErr.Fields, "Contact")
	assert.Contains(t, validationErr.Fields, "Attempts")
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
	assert.Nil(t, GetValidationFields(assert.AnError))
}

func TestParseID(t *testing.T) {
	id, err := ParseID("42", "action_id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, in := range []string{"", "0", "-3", "abc"} {
		_, err := ParseID(in, "action_id")
		assert.EqualError(t, err, "action_id must be a positive integer", in)
	}
}

func TestParseUUID(t *testing.T) {
	want := uuid.New()
	got, err := ParseUUID(want.String(), "run_id")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseUUID("not-a-uuid", "run_id")
	assert.EqualError(t, err, "run_id must be a valid UUID")
}
