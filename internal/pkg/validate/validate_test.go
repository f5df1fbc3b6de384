package validate

import (
	"errors"
	"testing"

	"github.com/go-otp-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStruct_ValidCreateSession(t *testing.T) {
	err := Struct(&domain.CreateSessionRequest{Email: "a@b.uz", PhoneNumber: "+998 90 111 22 33"})
	assert.NoError(t, err)
}

func TestStruct_ReportsJSONFieldNames(t *testing.T) {
	err := Struct(&domain.CreateSessionRequest{Email: "nope", PhoneNumber: "123"})
	require.Error(t, err)
	var ve *Error
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"email", "phone_number"}, ve.Fields)
	assert.Contains(t, err.Error(), "field 'phone_number' failed 'phone'")
}

func TestStruct_CodeMustBeSixDigits(t *testing.T) {
	req := &domain.VerifyRequest{
		SessionToken: "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUV",
		Code:         "12a456",
	}
	err := Struct(req)
	require.Error(t, err)
	var ve *Error
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"code"}, ve.Fields)
}

func TestEmail(t *testing.T) {
	assert.True(t, Email("a@b.uz"))
	assert.False(t, Email("a@"))
	assert.False(t, Email(""))
	long := make([]byte, 251)
	for i := range long {
		long[i] = 'a'
	}
	assert.False(t, Email(string(long)+"@b.uz"))
}
