// Package tracker encodes and decodes the on-chain airdrop tracker program's
// accounts and instructions. Every account is prefixed by an 8-byte Anchor
// discriminator; all multi-byte integers are little-endian; byte-array fields
// are fixed-length and zero-padded, never length-prefixed.
package tracker

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	discriminatorLen = 8

	// EthAddressLen is the fixed on-chain width of the ASCII ETH address
	// ("0x" + 40 hex chars).
	EthAddressLen = 42

	// GlobalStateLen is discriminator + authority + run counter + bump.
	GlobalStateLen = discriminatorLen + 32 + 8 + 1

	// RunLen is discriminator + run id + run date + recipients + amount +
	// dry run flag + bump.
	RunLen = discriminatorLen + 8 + 8 + 4 + 8 + 1 + 1

	// RecordLenLegacy is the first-generation record: a single undifferentiated
	// cumulative total.
	RecordLenLegacy = discriminatorLen + 32 + EthAddressLen + 8 + 8 + 1

	// RecordLenCurrent is the multi-token record: XNM and XBLK ledgers plus
	// six reserved u64 slots.
	RecordLenCurrent = discriminatorLen + 32 + EthAddressLen + 8 + 8 + 6*8 + 8 + 1
)

// ErrMalformedAccount reports account data whose length matches no known
// schema generation.
type ErrMalformedAccount struct {
	Kind string
	Len  int
}

func (e *ErrMalformedAccount) Error() string {
	return fmt.Sprintf("malformed %s account: unexpected length %d", e.Kind, e.Len)
}

// GlobalState is the singleton run-counter account at the "state" PDA.
type GlobalState struct {
	Authority  solana.PublicKey
	RunCounter uint64
	Bump       uint8
}

// Run is one distribution run's on-chain audit record.
type Run struct {
	RunID           uint64
	RunDate         int64
	TotalRecipients uint32
	TotalAmount     uint64
	DryRun          bool
	Bump            uint8
}

// Record is the normalized in-memory shape of a per-recipient record. Both
// on-chain generations decode into it; Legacy marks the 99-byte layout, whose
// single total is carried entirely in XNM.
type Record struct {
	Wallet     solana.PublicKey
	EthAddress [EthAddressLen]byte

	XNM  uint64
	XBLK uint64
	XUNI uint64

	// NativePaid is the cumulative one-time native bonus, stored in the
	// current layout's first reserved slot.
	NativePaid uint64

	Reserved [4]uint64

	LastUpdated int64
	Bump        uint8
	Legacy      bool
}

// Eth returns the record's ETH address as a string, trimmed of zero padding.
func (r *Record) Eth() string {
	b := r.EthAddress[:]
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b)
}

// Total returns the sum of all cumulative token ledgers, excluding the
// native bonus.
func (r *Record) Total() uint64 {
	return r.XNM + r.XBLK + r.XUNI
}

// DecodeGlobalState decodes the global state account.
func DecodeGlobalState(data []byte) (*GlobalState, error) {
	if len(data) != GlobalStateLen {
		return nil, &ErrMalformedAccount{Kind: "global state", Len: len(data)}
	}
	s := &GlobalState{}
	copy(s.Authority[:], data[8:40])
	s.RunCounter = binary.LittleEndian.Uint64(data[40:48])
	s.Bump = data[48]
	return s, nil
}

// EncodeGlobalState encodes the global state account, discriminator included.
func EncodeGlobalState(s *GlobalState) []byte {
	data := make([]byte, GlobalStateLen)
	copy(data[:8], accountDiscriminator("GlobalState"))
	copy(data[8:40], s.Authority[:])
	binary.LittleEndian.PutUint64(data[40:48], s.RunCounter)
	data[48] = s.Bump
	return data
}

// DecodeRun decodes an airdrop run account.
func DecodeRun(data []byte) (*Run, error) {
	if len(data) != RunLen {
		return nil, &ErrMalformedAccount{Kind: "run", Len: len(data)}
	}
	r := &Run{}
	r.RunID = binary.LittleEndian.Uint64(data[8:16])
	r.RunDate = int64(binary.LittleEndian.Uint64(data[16:24]))
	r.TotalRecipients = binary.LittleEndian.Uint32(data[24:28])
	r.TotalAmount = binary.LittleEndian.Uint64(data[28:36])
	r.DryRun = data[36] != 0
	r.Bump = data[37]
	return r, nil
}

// EncodeRun encodes an airdrop run account, discriminator included.
func EncodeRun(r *Run) []byte {
	data := make([]byte, RunLen)
	copy(data[:8], accountDiscriminator("AirdropRun"))
	binary.LittleEndian.PutUint64(data[8:16], r.RunID)
	binary.LittleEndian.PutUint64(data[16:24], uint64(r.RunDate))
	binary.LittleEndian.PutUint32(data[24:28], r.TotalRecipients)
	binary.LittleEndian.PutUint64(data[28:36], r.TotalAmount)
	if r.DryRun {
		data[36] = 1
	}
	data[37] = r.Bump
	return data
}

// DecodeRecord decodes a per-recipient record, dispatching on length to
// select the legacy or current layout.
func DecodeRecord(data []byte) (*Record, error) {
	switch len(data) {
	case RecordLenLegacy:
		return decodeLegacyRecord(data), nil
	case RecordLenCurrent:
		return decodeCurrentRecord(data), nil
	default:
		return nil, &ErrMalformedAccount{Kind: "record", Len: len(data)}
	}
}

func decodeLegacyRecord(data []byte) *Record {
	r := &Record{Legacy: true}
	copy(r.Wallet[:], data[8:40])
	copy(r.EthAddress[:], data[40:82])
	// The legacy generation predates per-token ledgers; its single total is
	// treated as entirely XNM and never rewritten in place.
	r.XNM = binary.LittleEndian.Uint64(data[82:90])
	r.LastUpdated = int64(binary.LittleEndian.Uint64(data[90:98]))
	r.Bump = data[98]
	return r
}

func decodeCurrentRecord(data []byte) *Record {
	r := &Record{}
	copy(r.Wallet[:], data[8:40])
	copy(r.EthAddress[:], data[40:82])
	r.XNM = binary.LittleEndian.Uint64(data[82:90])
	r.XBLK = binary.LittleEndian.Uint64(data[90:98])
	r.NativePaid = binary.LittleEndian.Uint64(data[98:106])
	r.XUNI = binary.LittleEndian.Uint64(data[106:114])
	for i := range r.Reserved {
		off := 114 + i*8
		r.Reserved[i] = binary.LittleEndian.Uint64(data[off : off+8])
	}
	r.LastUpdated = int64(binary.LittleEndian.Uint64(data[146:154]))
	r.Bump = data[154]
	return r
}

// EncodeRecord encodes a record in the current 155-byte layout,
// discriminator included. Legacy records are never re-encoded.
func EncodeRecord(r *Record) []byte {
	data := make([]byte, RecordLenCurrent)
	copy(data[:8], accountDiscriminator("AirdropRecord"))
	copy(data[8:40], r.Wallet[:])
	copy(data[40:82], r.EthAddress[:])
	binary.LittleEndian.PutUint64(data[82:90], r.XNM)
	binary.LittleEndian.PutUint64(data[90:98], r.XBLK)
	binary.LittleEndian.PutUint64(data[98:106], r.NativePaid)
	binary.LittleEndian.PutUint64(data[106:114], r.XUNI)
	for i, v := range r.Reserved {
		off := 114 + i*8
		binary.LittleEndian.PutUint64(data[off:off+8], v)
	}
	binary.LittleEndian.PutUint64(data[146:154], uint64(r.LastUpdated))
	data[154] = r.Bump
	return data
}

// EncodeLegacyRecord encodes a record in the legacy 99-byte layout. Used by
// tests and fixtures; the engine never writes this layout.
func EncodeLegacyRecord(r *Record) []byte {
	data := make([]byte, RecordLenLegacy)
	copy(data[:8], accountDiscriminator("AirdropRecord"))
	copy(data[8:40], r.Wallet[:])
	copy(data[40:82], r.EthAddress[:])
	binary.LittleEndian.PutUint64(data[82:90], r.XNM)
	binary.LittleEndian.PutUint64(data[90:98], uint64(r.LastUpdated))
	data[98] = r.Bump
	return data
}
