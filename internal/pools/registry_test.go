package pools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aman-zulfiqar/solana-bundler/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePools(t *testing.T, cfgs []PoolConfig) string {
	t.Helper()
	b, err := json.Marshal(cfgs)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pools.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestLoadRegistry_Resolve(t *testing.T) {
	base := solana.NewWallet().PublicKey()
	id := solana.NewWallet().PublicKey()
	path := writePools(t, []PoolConfig{{Name: "MEME-SOL", PoolID: id.String(), BaseMint: base.String()}})

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	p, err := r.ResolvePool(context.Background(), base, trade.NativeMint)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "static", p.Source)

	// reversed pair resolves to the same pool
	p, err = r.ResolvePool(context.Background(), trade.NativeMint, base)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)

	byName, err := r.FindPoolByName("MEME-SOL")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
}

func TestLoadRegistry_BadKey(t *testing.T) {
	path := writePools(t, []PoolConfig{{Name: "broken", PoolID: "not-base58!", BaseMint: "x"}})
	_, err := LoadRegistry(path)
	assert.Error(t, err)
}

func TestRegistry_NotFound(t *testing.T) {
	_, err := NewRegistry().ResolvePool(context.Background(), solana.NewWallet().PublicKey(), trade.NativeMint)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestChain_FallsThrough(t *testing.T) {
	base := solana.NewWallet().PublicKey()
	want := trade.Pool{ID: solana.NewWallet().PublicKey(), BaseMint: base, QuoteMint: trade.NativeMint}

	c := NewChain(nil, NewRegistry(), NewRegistry(want))
	got, err := c.ResolvePool(context.Background(), base, trade.NativeMint)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewChain(nil, NewRegistry()).ResolvePool(context.Background(), solana.NewWallet().PublicKey(), trade.NativeMint)
	assert.ErrorIs(t, err, ErrNotFound)
}
