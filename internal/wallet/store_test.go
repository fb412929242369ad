package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aman-zulfiqar/solana-bundler/internal/errs"
	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIterations = 1000

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:          path,
		Password:      "correct horse battery staple",
		KDFIterations: testIterations,
		KeygenWorkers: 4,
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestOpen_RequiresPassword(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestGenerateWallets_DistinctKeys(t *testing.T) {
	s := newTestStore(t, "")

	for _, n := range []int{1, 17, 1000} {
		before := s.Len()
		got, err := s.GenerateWallets(context.Background(), n)
		require.NoError(t, err)
		require.Len(t, got, n)

		seen := make(map[solana.PublicKey]bool, n)
		for _, w := range got {
			assert.False(t, seen[w.PublicKey], "duplicate key %s", w.PublicKey)
			seen[w.PublicKey] = true
		}
		assert.Equal(t, before+n, s.Len())
	}
}

func TestGenerateWallets_Labels(t *testing.T) {
	s := newTestStore(t, "")
	got, err := s.GenerateWallets(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Wallet 1", got[0].Label)
	assert.Equal(t, "Wallet 3", got[2].Label)
}

func TestGenerateWallets_OutOfRange(t *testing.T) {
	s := newTestStore(t, "")
	for _, n := range []int{0, -1, 1001} {
		_, err := s.GenerateWallets(context.Background(), n)
		assert.ErrorIs(t, err, errs.ErrValidation, "n=%d", n)
	}
	assert.Zero(t, s.Len())
}

func TestGenerateWallets_FailureLeavesStoreUntouched(t *testing.T) {
	var calls int32
	s, err := Open(Config{
		Password:      "pw",
		KDFIterations: testIterations,
		Logger:        quietLogger(),
		NewKey: func() (solana.PrivateKey, error) {
			if atomic.AddInt32(&calls, 1) == 3 {
				return nil, errors.New("entropy exhausted")
			}
			return solana.NewRandomPrivateKey()
		},
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GenerateWallets(context.Background(), 5)
	require.Error(t, err)
	assert.Zero(t, s.Len())
}

func TestPersist_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.enc")
	s := newTestStore(t, path)

	_, err := s.GenerateWallets(context.Background(), 5)
	require.NoError(t, err)
	w, err := s.AddWallet(context.Background(), "sniper")
	require.NoError(t, err)
	require.NoError(t, s.UpdateWalletBalance(w.PublicKey, 1.25))

	reopened := newTestStore(t, path)
	assert.Equal(t, s.Wallets(), reopened.Wallets())
}

func TestPersist_WrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.enc")
	s := newTestStore(t, path)
	_, err := s.GenerateWallets(context.Background(), 2)
	require.NoError(t, err)

	_, err = Open(Config{Path: path, Password: "wrong", KDFIterations: testIterations, Logger: quietLogger()})
	assert.ErrorIs(t, err, errs.ErrEncryption)
}

func TestPersist_TamperedBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.enc")
	s := newTestStore(t, path)
	_, err := s.GenerateWallets(context.Background(), 1)
	require.NoError(t, err)

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(string(blob))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(raw)), 0o600))

	_, err = Open(Config{Path: path, Password: "correct horse battery staple", KDFIterations: testIterations, Logger: quietLogger()})
	assert.ErrorIs(t, err, errs.ErrEncryption)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestStore(t, "")
	_, err := src.GenerateWallets(context.Background(), 4)
	require.NoError(t, err)
	require.NoError(t, src.UpdateWalletLabel(src.Wallets()[1].PublicKey, "dev"))
	require.NoError(t, src.UpdateWalletBalance(src.Wallets()[2].PublicKey, 0.5))

	blob, err := src.ExportWallets()
	require.NoError(t, err)

	dst := newTestStore(t, "")
	n, err := dst.ImportWallets(blob)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, src.Wallets(), dst.Wallets())
}

func TestImport_PlainJSONAndNoDedup(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	plain, err := json.Marshal([]record{{
		PublicKey:  key.PublicKey().String(),
		PrivateKey: key.String(),
		Label:      "imported",
		Balance:    2,
	}})
	require.NoError(t, err)

	s := newTestStore(t, "")
	n, err := s.ImportWallets(string(plain))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ImportWallets(string(plain))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}

func TestImport_LabelRules(t *testing.T) {
	rec := func(label string) record {
		key, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		return record{PrivateKey: key.String(), Label: label}
	}
	s := newTestStore(t, "")
	_, err := s.AddWallet(context.Background(), "funder")
	require.NoError(t, err)

	plain, err := json.Marshal([]record{rec(""), rec("  keeper  "), rec("   ")})
	require.NoError(t, err)
	_, err = s.ImportWallets(string(plain))
	require.NoError(t, err)

	var labels []string
	for _, w := range s.Wallets() {
		labels = append(labels, w.Label)
	}
	assert.Equal(t, []string{"funder", "Wallet 2", "keeper", "Wallet 4"}, labels)

	plain, err = json.Marshal([]record{rec("ok"), rec(strings.Repeat("x", MaxLabelLength+1))})
	require.NoError(t, err)
	_, err = s.ImportWallets(string(plain))
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, 4, s.Len())
}

func TestOnChange_ReportsAddedAndRemoved(t *testing.T) {
	s := newTestStore(t, "")
	var added, removed []solana.PublicKey
	s.OnChange(func(a, r []solana.PublicKey) {
		added = append(added, a...)
		removed = append(removed, r...)
	})

	one, err := s.AddWallet(context.Background(), "one")
	require.NoError(t, err)
	batch, err := s.GenerateWallets(context.Background(), 2)
	require.NoError(t, err)
	require.NoError(t, s.RemoveWallet(one.PublicKey))
	assert.Error(t, s.RemoveWallet(one.PublicKey))

	assert.Equal(t, []solana.PublicKey{one.PublicKey, batch[0].PublicKey, batch[1].PublicKey}, added)
	assert.Equal(t, []solana.PublicKey{one.PublicKey}, removed)
}

func TestImport_Garbage(t *testing.T) {
	s := newTestStore(t, "")
	_, err := s.ImportWallets("definitely not a wallet export")
	assert.ErrorIs(t, err, errs.ErrEncryption)
	assert.Zero(t, s.Len())
}

func TestSeal_NonDeterministicAndNoPlaintext(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	secret := encodePrivateKey(key)
	plain := []byte(`[{"privateKey":"` + secret + `"}]`)

	a, err := seal(plain, "pw", testIterations)
	require.NoError(t, err)
	b, err := seal(plain, "pw", testIterations)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for _, blob := range []string{a, b} {
		got, err := open(blob, "pw", testIterations)
		require.NoError(t, err)
		assert.Equal(t, plain, got)

		raw, err := base64.StdEncoding.DecodeString(blob)
		require.NoError(t, err)
		assert.False(t, strings.Contains(blob, secret))
		assert.False(t, strings.Contains(string(raw), secret))
		assert.False(t, strings.Contains(blob, key.String()))
	}
}

func TestLabelValidation(t *testing.T) {
	s := newTestStore(t, "")
	_, err := s.AddWallet(context.Background(), "   ")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = s.AddWallet(context.Background(), strings.Repeat("x", MaxLabelLength+1))
	assert.ErrorIs(t, err, errs.ErrValidation)

	w, err := s.AddWallet(context.Background(), strings.Repeat("x", MaxLabelLength))
	require.NoError(t, err)
	assert.ErrorIs(t, s.UpdateWalletLabel(w.PublicKey, ""), errs.ErrValidation)
}

func TestRemoveWallet(t *testing.T) {
	s := newTestStore(t, "")
	got, err := s.GenerateWallets(context.Background(), 2)
	require.NoError(t, err)

	require.NoError(t, s.RemoveWallet(got[0].PublicKey))
	assert.Equal(t, 1, s.Len())
	assert.ErrorIs(t, s.RemoveWallet(got[0].PublicKey), errs.ErrValidation)
}

func TestUpdateWalletBalance_Invalid(t *testing.T) {
	s := newTestStore(t, "")
	w, err := s.AddWallet(context.Background(), "a")
	require.NoError(t, err)
	assert.ErrorIs(t, s.UpdateWalletBalance(w.PublicKey, -1), errs.ErrValidation)
}

func TestSignTransaction(t *testing.T) {
	s := newTestStore(t, "")
	w, err := s.AddWallet(context.Background(), "payer")
	require.NoError(t, err)

	tx, err := solana.NewTransaction([]solana.Instruction{
		solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
			{PublicKey: w.PublicKey, IsSigner: true, IsWritable: true},
		}, []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}),
	}, solana.Hash{}, solana.TransactionPayer(w.PublicKey))
	require.NoError(t, err)

	require.NoError(t, s.SignTransaction(tx, w.PublicKey))
	require.Len(t, tx.Signatures, 1)
	require.NoError(t, tx.VerifySignatures())

	// re-signing replaces instead of appending
	require.NoError(t, s.SignTransaction(tx, w.PublicKey))
	assert.Len(t, tx.Signatures, 1)

	stranger, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	assert.ErrorIs(t, s.SignTransaction(tx, stranger.PublicKey()), errs.ErrValidation)
}
