package tracker

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// methodDiscriminator returns the 8-byte Anchor method tag for an
// instruction name.
func methodDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// accountDiscriminator returns the 8-byte Anchor account tag for an account
// struct name. The engine only uses it when encoding fixtures; decoding
// dispatches on length alone.
func accountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:8]
}

// Amounts carries the per-token transfer amounts recorded by one
// update instruction. Native is the one-time bonus paid in the chain's
// native token.
type Amounts struct {
	XNM    uint64
	XBLK   uint64
	XUNI   uint64
	Native uint64
}

// IsZero reports whether no token carries a positive amount.
func (a Amounts) IsZero() bool {
	return a.XNM == 0 && a.XBLK == 0 && a.XUNI == 0 && a.Native == 0
}

// Sum returns the combined base-unit amount across all tokens.
func (a Amounts) Sum() uint64 {
	return a.XNM + a.XBLK + a.XUNI + a.Native
}

func (a Amounts) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], a.XNM)
	binary.LittleEndian.PutUint64(buf[8:16], a.XBLK)
	binary.LittleEndian.PutUint64(buf[16:24], a.XUNI)
	binary.LittleEndian.PutUint64(buf[24:32], a.Native)
}

// NewInitializeStateInstruction builds the one-time global state setup
// instruction.
func NewInitializeStateInstruction(programID, authority solana.PublicKey) (solana.Instruction, error) {
	statePDA, _, err := DeriveStatePDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive state pda: %w", err)
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(statePDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, methodDiscriminator("initialize_state")), nil
}

// NewCreateRunInstruction builds the create_run instruction for the given
// run ID (previous run counter + 1).
func NewCreateRunInstruction(programID, authority solana.PublicKey, runID uint64, dryRun bool) (solana.Instruction, error) {
	statePDA, _, err := DeriveStatePDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive state pda: %w", err)
	}
	runPDA, _, err := DeriveRunPDA(programID, runID)
	if err != nil {
		return nil, fmt.Errorf("derive run pda: %w", err)
	}

	data := make([]byte, 8+1)
	copy(data[:8], methodDiscriminator("create_run"))
	if dryRun {
		data[8] = 1
	}

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(statePDA, true, false),
		solana.NewAccountMeta(runPDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// NewUpdateRunTotalsInstruction builds the run finalization instruction.
func NewUpdateRunTotalsInstruction(programID, authority solana.PublicKey, runID uint64, totalRecipients uint32, totalAmount uint64) (solana.Instruction, error) {
	statePDA, _, err := DeriveStatePDA(programID)
	if err != nil {
		return nil, fmt.Errorf("derive state pda: %w", err)
	}
	runPDA, _, err := DeriveRunPDA(programID, runID)
	if err != nil {
		return nil, fmt.Errorf("derive run pda: %w", err)
	}

	data := make([]byte, 8+4+8)
	copy(data[:8], methodDiscriminator("update_run_totals"))
	binary.LittleEndian.PutUint32(data[8:12], totalRecipients)
	binary.LittleEndian.PutUint64(data[12:20], totalAmount)

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(statePDA, false, false),
		solana.NewAccountMeta(runPDA, true, false),
	}, data), nil
}

// NewInitializeRecordInstruction builds the bare record creation instruction
// (zeroed totals).
func NewInitializeRecordInstruction(programID, authority, wallet solana.PublicKey, ethAddress [EthAddressLen]byte) (solana.Instruction, error) {
	recordPDA, _, err := DeriveRecordPDA(programID, wallet, ethAddress)
	if err != nil {
		return nil, fmt.Errorf("derive record pda: %w", err)
	}

	data := make([]byte, 8+EthAddressLen)
	copy(data[:8], methodDiscriminator("initialize_record"))
	copy(data[8:], ethAddress[:])

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(wallet, false, false),
		solana.NewAccountMeta(recordPDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}

// NewUpdateRecordInstruction builds the cumulative-total increment for an
// existing record.
func NewUpdateRecordInstruction(programID, authority, wallet solana.PublicKey, ethAddress [EthAddressLen]byte, amounts Amounts) (solana.Instruction, error) {
	recordPDA, _, err := DeriveRecordPDA(programID, wallet, ethAddress)
	if err != nil {
		return nil, fmt.Errorf("derive record pda: %w", err)
	}

	data := make([]byte, 8+4*8)
	copy(data[:8], methodDiscriminator("update_record"))
	amounts.encode(data[8:])

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(recordPDA, true, false),
	}, data), nil
}

// NewInitializeAndUpdateInstruction builds the combined create-and-increment
// instruction used the first time a pair receives a distribution.
func NewInitializeAndUpdateInstruction(programID, authority, wallet solana.PublicKey, ethAddress [EthAddressLen]byte, amounts Amounts) (solana.Instruction, error) {
	recordPDA, _, err := DeriveRecordPDA(programID, wallet, ethAddress)
	if err != nil {
		return nil, fmt.Errorf("derive record pda: %w", err)
	}

	data := make([]byte, 8+EthAddressLen+4*8)
	copy(data[:8], methodDiscriminator("initialize_and_update"))
	copy(data[8:8+EthAddressLen], ethAddress[:])
	amounts.encode(data[8+EthAddressLen:])

	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(wallet, false, false),
		solana.NewAccountMeta(recordPDA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data), nil
}
