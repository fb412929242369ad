package trade

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/gagliardetto/solana-go"
)

var (
	ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	MemoProgramID          = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// JitoTipAccounts are the block engine's published tip recipients
var JitoTipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4bVNa1xJZmCkrhGnVw6nNYS"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// NewSystemTransferIx builds a SystemProgram transfer instruction.
func NewSystemTransferIx(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	// u32 instruction index (2 = Transfer), u64 lamports
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	accounts := []*solana.AccountMeta{
		{PublicKey: from, IsSigner: true, IsWritable: true},
		{PublicKey: to, IsSigner: false, IsWritable: true},
	}
	return solana.NewInstruction(solana.SystemProgramID, accounts, data)
}

// NewComputeUnitPriceIx sets the priority fee in micro-lamports per compute unit
func NewComputeUnitPriceIx(microLamports uint64) solana.Instruction {
	data := make([]byte, 1+8)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// NewTipIx pays lamports from payer to a randomly chosen block engine tip account
func NewTipIx(payer solana.PublicKey, lamports uint64) solana.Instruction {
	to := JitoTipAccounts[rand.IntN(len(JitoTipAccounts))]
	return NewSystemTransferIx(payer, to, lamports)
}

// NewMemoIx attaches text to a transaction. The signer must sign the transaction.
func NewMemoIx(signer solana.PublicKey, text string) solana.Instruction {
	return solana.NewInstruction(MemoProgramID, solana.AccountMetaSlice{
		{PublicKey: signer, IsSigner: true, IsWritable: false},
	}, []byte(text))
}
