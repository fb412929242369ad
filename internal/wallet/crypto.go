package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"golang.org/x/crypto/pbkdf2"
)

// Blob layout: base64(salt ‖ iv ‖ tag ‖ ciphertext)
const (
	saltLen = 64
	ivLen   = 16
	tagLen  = 16
	keyLen  = 32

	DefaultKDFIterations = 100000
)

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha512.New)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLen)
}

// seal encrypts plaintext under password with a fresh salt and iv.
func seal(plaintext []byte, password string, iterations int) (string, error) {
	header := make([]byte, saltLen+ivLen)
	if _, err := io.ReadFull(rand.Reader, header); err != nil {
		return "", errs.Wrap(errs.Encryption, "wallet.seal", err, "read random")
	}
	salt, iv := header[:saltLen], header[saltLen:]

	aead, err := newAEAD(deriveKey(password, salt, iterations))
	if err != nil {
		return "", errs.Wrap(errs.Encryption, "wallet.seal", err, "init cipher")
	}

	// Seal returns ciphertext ‖ tag; the blob stores the tag first.
	sealed := aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, saltLen+ivLen+tagLen+len(ct))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// open authenticates and decrypts a blob produced by seal. Any failure is an
// Encryption error; partial plaintext is never returned.
func open(blob string, password string, iterations int) ([]byte, error) {
	const op = "wallet.open"

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, errs.Wrap(errs.Encryption, op, err, "blob is not base64")
	}
	if len(raw) < saltLen+ivLen+tagLen {
		return nil, errs.New(errs.Encryption, op, "blob too short (%d bytes)", len(raw))
	}

	salt := raw[:saltLen]
	iv := raw[saltLen : saltLen+ivLen]
	tag := raw[saltLen+ivLen : saltLen+ivLen+tagLen]
	ct := raw[saltLen+ivLen+tagLen:]

	aead, err := newAEAD(deriveKey(password, salt, iterations))
	if err != nil {
		return nil, errs.Wrap(errs.Encryption, op, err, "init cipher")
	}

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Encryption, op, err, fmt.Sprintf("authentication failed for %d-byte blob", len(raw)))
	}
	return plain, nil
}
