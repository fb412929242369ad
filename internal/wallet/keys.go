package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// parsePrivateKey accepts base64 (the store format), base58, or a
// solana-keygen JSON byte array.
func parsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("wallet: invalid JSON private key: %w", err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("wallet: invalid byte at %d: %d", i, v)
			}
			b[i] = byte(v)
		}
		return checkKeyLen(b)
	}

	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) == ed25519.PrivateKeySize {
		return solana.PrivateKey(ed25519.PrivateKey(raw)), nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("wallet: private key is neither base64 nor base58: %w", err)
	}
	return checkKeyLen(raw)
}

func checkKeyLen(b []byte) (solana.PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return solana.PrivateKey(ed25519.PrivateKey(b)), nil
}

func encodePrivateKey(k solana.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(k)
}
