package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Token program instruction discriminants (single byte, followed by
// little-endian fields). The layouts are identical for spl-token and
// token-2022; only the owning program differs, which is why these are
// encoded here instead of through the spl-token builder bound to one
// program ID.
const (
	tokenInstructionTransferChecked = 12

	ataInstructionCreateIdempotent = 1
)

// deriveTokenAccount derives the associated token account for a wallet and
// mint under the given token program.
func deriveTokenAccount(wallet, mint, tokenProgramID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		wallet.Bytes(),
		tokenProgramID.Bytes(),
		mint.Bytes(),
	}, solana.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account for %s: %w", wallet, err)
	}
	return addr, nil
}

// newCreateTokenAccountInstruction builds an idempotent associated token
// account creation, safe to include even if the account already exists.
func newCreateTokenAccountInstruction(payer, wallet, mint, tokenProgramID solana.PublicKey) (solana.Instruction, error) {
	ata, err := deriveTokenAccount(wallet, mint, tokenProgramID)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(wallet, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(tokenProgramID, false, false),
	}, []byte{ataInstructionCreateIdempotent}), nil
}

// newTokenTransferInstruction builds a TransferChecked from the owner's
// associated token account to the recipient's.
func newTokenTransferInstruction(owner, recipient solana.PublicKey, tok TokenConfig, amount uint64) (solana.Instruction, error) {
	programID := tok.Program.ID()

	source, err := deriveTokenAccount(owner, tok.Mint, programID)
	if err != nil {
		return nil, err
	}
	dest, err := deriveTokenAccount(recipient, tok.Mint, programID)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 1+8+1)
	data[0] = tokenInstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = tok.Decimals

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(tok.Mint, false, false),
		solana.NewAccountMeta(dest, true, false),
		solana.NewAccountMeta(owner, false, true),
	}, data), nil
}
