package tracker

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

var (
	seedState  = []byte("state")
	seedRun    = []byte("run")
	seedRecord = []byte("airdrop_record")
)

// recordSeedEthLen is how many leading bytes of the ETH address participate
// in record address derivation. PDA seeds are capped at 32 bytes each, so
// the 42-byte address is truncated; the wallet seed disambiguates the rest.
const recordSeedEthLen = 20

// DefaultProgramID is the deployed airdrop tracker program.
var DefaultProgramID = solana.MustPublicKeyFromBase58("JAzubT5NSiyRkLgaFRTkrdLGzzMb57CVhMhdDCiqoRu6")

// DeriveStatePDA derives the singleton global state address.
func DeriveStatePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedState}, programID)
}

// DeriveRunPDA derives the address of one run's audit record.
func DeriveRunPDA(programID solana.PublicKey, runID uint64) (solana.PublicKey, uint8, error) {
	runBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(runBytes, runID)
	return solana.FindProgramAddress([][]byte{seedRun, runBytes}, programID)
}

// DeriveRecordPDA derives the address of a (wallet, ETH address) pair's
// record. Pure function of its inputs: recomputing always yields the same
// location, with no lookup table.
func DeriveRecordPDA(programID, wallet solana.PublicKey, ethAddress [EthAddressLen]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{
		seedRecord,
		wallet.Bytes(),
		ethAddress[:recordSeedEthLen],
	}, programID)
}

// EthAddressBytes converts an ETH address string to its fixed-width on-chain
// form, zero-padded on the right. Over-long input is truncated.
func EthAddressBytes(eth string) [EthAddressLen]byte {
	var b [EthAddressLen]byte
	copy(b[:], eth)
	return b
}
