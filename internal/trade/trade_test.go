package trade

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSystemTransferIx(t *testing.T) {
	from, to := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	ix := NewSystemTransferIx(from, to, 42)

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[:4]))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[4:]))
	assert.True(t, ix.ProgramID().Equals(solana.SystemProgramID))

	accs := ix.Accounts()
	require.Len(t, accs, 2)
	assert.True(t, accs[0].IsSigner)
	assert.False(t, accs[1].IsSigner)
}

func TestNewComputeUnitPriceIx(t *testing.T) {
	ix := NewComputeUnitPriceIx(5000)
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(3), data[0])
	assert.Equal(t, uint64(5000), binary.LittleEndian.Uint64(data[1:]))
}

func TestNewTipIx_UsesTipAccount(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	ix := NewTipIx(payer, 10_000)
	to := ix.Accounts()[1].PublicKey
	assert.Contains(t, JitoTipAccounts, to)
}

func TestTransferBuilder(t *testing.T) {
	w := solana.NewWallet().PublicKey()
	pool := Pool{ID: solana.NewWallet().PublicKey(), BaseMint: solana.NewWallet().PublicKey(), QuoteMint: NativeMint}

	ixs, err := TransferBuilder{PriorityFee: 1}.BuildSwap(context.Background(), pool, Leg{Wallet: w, Side: SideBuy, Amount: 1000})
	require.NoError(t, err)
	require.Len(t, ixs, 3)

	tx, err := NewTransaction(ixs, w, solana.Hash{})
	require.NoError(t, err)
	assert.True(t, tx.Message.AccountKeys[0].Equals(w))

	_, err = TransferBuilder{}.BuildSwap(context.Background(), pool, Leg{Wallet: w, Side: "hold", Amount: 1})
	assert.Error(t, err)
	_, err = TransferBuilder{}.BuildSwap(context.Background(), pool, Leg{Wallet: w, Side: SideSell})
	assert.Error(t, err)
}
