package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatchingThroughWrap(t *testing.T) {
	base := New(Validation, "wallet.add", "label too long (%d)", 80)
	wrapped := fmt.Errorf("http handler: %w", base)

	assert.True(t, errors.Is(wrapped, ErrValidation))
	assert.False(t, errors.Is(wrapped, ErrEncryption))
	assert.Equal(t, Validation, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "ValidationError")
	assert.Contains(t, wrapped.Error(), "label too long (80)")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("cipher: message authentication failed")
	err := Wrap(Encryption, "wallet.load", cause, "decrypt store")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrEncryption)
	assert.Equal(t, "wallet.load: EncryptionError: decrypt store: cipher: message authentication failed", err.Error())
	assert.Nil(t, Wrap(Encryption, "noop", nil, "x"))
}

func TestKindOfUntagged(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, "InternalError", Internal.String())
}
