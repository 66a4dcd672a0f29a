package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/x1-labs/xenblocks-airdrop/internal/logger"
	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

// fakeLedger is an in-memory LedgerClient. Sent transactions have their
// tracker and token instructions applied against the account map, so tests
// can assert what a rerun would observe on chain.
type fakeLedger struct {
	mu sync.Mutex

	programID solana.PublicKey

	// accounts maps address to raw account bytes; presence is existence.
	accounts map[solana.PublicKey][]byte

	payerLamports uint64

	// tokenBalances tracks payer token account balances by address.
	tokenBalances map[solana.PublicKey]uint64

	// transfers accumulates token amounts by destination token account and
	// lamports by destination wallet.
	transfers map[solana.PublicKey]uint64

	sentTxs   []*solana.Transaction
	simulated int

	simErr  error
	simLogs []string

	// sendErr fails every send after the first allowSends succeed.
	sendErr    error
	allowSends int

	unitsConsumed uint64
}

func newFakeLedger(programID solana.PublicKey) *fakeLedger {
	return &fakeLedger{
		programID:     programID,
		accounts:      make(map[solana.PublicKey][]byte),
		tokenBalances: make(map[solana.PublicKey]uint64),
		transfers:     make(map[solana.PublicKey]uint64),
		payerLamports: 10_000_000_000,
		unitsConsumed: 150_000,
	}
}

func (f *fakeLedger) setRecord(record *tracker.Record) {
	addr, _, err := tracker.DeriveRecordPDA(f.programID, record.Wallet, record.EthAddress)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.Legacy {
		f.accounts[addr] = tracker.EncodeLegacyRecord(record)
	} else {
		f.accounts[addr] = tracker.EncodeRecord(record)
	}
}

func (f *fakeLedger) getRecord(t *testing.T, wallet solana.PublicKey, eth [tracker.EthAddressLen]byte) *tracker.Record {
	t.Helper()
	addr, _, err := tracker.DeriveRecordPDA(f.programID, wallet, eth)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.accounts[addr]
	if !ok {
		return nil
	}
	record, err := tracker.DecodeRecord(data)
	require.NoError(t, err)
	return record
}

func (f *fakeLedger) GetMultipleAccountsWithOpts(_ context.Context, addrs []solana.PublicKey, _ *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rpc.Account, len(addrs))
	for i, addr := range addrs {
		if data, ok := f.accounts[addr]; ok {
			out[i] = &rpc.Account{Data: accountData(data)}
		}
	}
	return &rpc.GetMultipleAccountsResult{Value: out}, nil
}

func (f *fakeLedger) GetProgramAccountsWithOpts(_ context.Context, _ solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out rpc.GetProgramAccountsResult
	for addr, data := range f.accounts {
		if opts != nil && !matchesFilters(data, opts.Filters) {
			continue
		}
		out = append(out, &rpc.KeyedAccount{
			Pubkey:  addr,
			Account: &rpc.Account{Data: accountData(data)},
		})
	}
	return out, nil
}

func matchesFilters(data []byte, filters []rpc.RPCFilter) bool {
	for _, f := range filters {
		if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
			return false
		}
	}
	return true
}

func (f *fakeLedger) GetBalance(_ context.Context, _ solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rpc.GetBalanceResult{Value: f.payerLamports}, nil
}

func (f *fakeLedger) GetTokenAccountBalance(_ context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: strconv.FormatUint(f.tokenBalances[account], 10)},
	}, nil
}

func (f *fakeLedger) GetLatestBlockhash(_ context.Context, _ rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	var hash solana.Hash
	_, _ = rand.Read(hash[:])
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: hash, LastValidBlockHeight: 1000},
	}, nil
}

func (f *fakeLedger) SimulateTransactionWithOpts(_ context.Context, _ *solana.Transaction, _ *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated++
	if f.simErr != nil {
		return &rpc.SimulateTransactionResponse{
			Value: &rpc.SimulateTransactionResult{Err: f.simErr.Error(), Logs: f.simLogs},
		}, nil
	}
	units := f.unitsConsumed
	return &rpc.SimulateTransactionResponse{
		Value: &rpc.SimulateTransactionResult{UnitsConsumed: &units},
	}, nil
}

func (f *fakeLedger) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil && len(f.sentTxs) >= f.allowSends {
		return solana.Signature{}, f.sendErr
	}
	f.sentTxs = append(f.sentTxs, tx)
	f.applyLocked(tx)

	var sig solana.Signature
	_, _ = rand.Read(sig[:])
	return sig, nil
}

func (f *fakeLedger) GetSignatureStatuses(_ context.Context, _ bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	out := make([]*rpc.SignatureStatusesResult, len(sigs))
	for i := range sigs {
		out[i] = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
	}
	return &rpc.GetSignatureStatusesResult{Value: out}, nil
}

// applyLocked executes a sent transaction's instructions against the
// account map, mirroring what the tracker program and the token programs
// would do on chain.
func (f *fakeLedger) applyLocked(tx *solana.Transaction) {
	msg := tx.Message
	for _, ix := range msg.Instructions {
		program := msg.AccountKeys[ix.ProgramIDIndex]
		accounts := make([]solana.PublicKey, len(ix.Accounts))
		for i, idx := range ix.Accounts {
			accounts[i] = msg.AccountKeys[idx]
		}
		data := []byte(ix.Data)

		switch {
		case program.Equals(f.programID):
			f.applyTrackerLocked(accounts, data)
		case program.Equals(solana.SPLAssociatedTokenAccountProgramID):
			// Idempotent creation: accounts[1] is the token account.
			if _, ok := f.accounts[accounts[1]]; !ok {
				f.accounts[accounts[1]] = []byte("token-account")
			}
		case program.Equals(solana.TokenProgramID) || program.Equals(solana.Token2022ProgramID):
			if len(data) >= 9 && data[0] == tokenInstructionTransferChecked {
				amount := binary.LittleEndian.Uint64(data[1:9])
				f.tokenBalances[accounts[0]] -= amount
				f.transfers[accounts[2]] += amount
			}
		case program.Equals(solana.SystemProgramID):
			if len(data) >= 12 && binary.LittleEndian.Uint32(data[0:4]) == 2 {
				f.transfers[accounts[1]] += binary.LittleEndian.Uint64(data[4:12])
			}
		}
	}
}

func (f *fakeLedger) applyTrackerLocked(accounts []solana.PublicKey, data []byte) {
	if len(data) < 8 {
		return
	}
	switch {
	case methodTagIs(data, "initialize_state"):
		f.accounts[accounts[1]] = tracker.EncodeGlobalState(&tracker.GlobalState{Authority: accounts[0]})

	case methodTagIs(data, "create_run"):
		state, err := tracker.DecodeGlobalState(f.accounts[accounts[1]])
		if err != nil {
			return
		}
		state.RunCounter++
		f.accounts[accounts[1]] = tracker.EncodeGlobalState(state)
		f.accounts[accounts[2]] = tracker.EncodeRun(&tracker.Run{RunID: state.RunCounter, DryRun: data[8] == 1})

	case methodTagIs(data, "update_run_totals"):
		run, err := tracker.DecodeRun(f.accounts[accounts[2]])
		if err != nil {
			return
		}
		run.TotalRecipients = binary.LittleEndian.Uint32(data[8:12])
		run.TotalAmount = binary.LittleEndian.Uint64(data[12:20])
		f.accounts[accounts[2]] = tracker.EncodeRun(run)

	case methodTagIs(data, "initialize_and_update"):
		record := &tracker.Record{Wallet: accounts[1]}
		copy(record.EthAddress[:], data[8:8+tracker.EthAddressLen])
		applyAmounts(record, data[8+tracker.EthAddressLen:])
		f.accounts[accounts[2]] = tracker.EncodeRecord(record)

	case methodTagIs(data, "update_record"):
		record, err := tracker.DecodeRecord(f.accounts[accounts[1]])
		if err != nil {
			return
		}
		applyAmounts(record, data[8:])
		record.Legacy = false
		f.accounts[accounts[1]] = tracker.EncodeRecord(record)
	}
}

// accountData wraps raw account bytes the way the RPC encodes them, so
// GetBinary on the consumer side round-trips.
func accountData(raw []byte) *rpc.DataBytesOrJSON {
	payload, err := json.Marshal([]string{base64.StdEncoding.EncodeToString(raw), "base64"})
	if err != nil {
		panic(err)
	}
	var data rpc.DataBytesOrJSON
	if err := data.UnmarshalJSON(payload); err != nil {
		panic(err)
	}
	return &data
}

func methodTagIs(data []byte, name string) bool {
	if len(data) < 8 {
		return false
	}
	sum := sha256.Sum256([]byte("global:" + name))
	for i := 0; i < 8; i++ {
		if data[i] != sum[i] {
			return false
		}
	}
	return true
}

func applyAmounts(record *tracker.Record, data []byte) {
	record.XNM += binary.LittleEndian.Uint64(data[0:8])
	record.XBLK += binary.LittleEndian.Uint64(data[8:16])
	record.XUNI += binary.LittleEndian.Uint64(data[16:24])
	record.NativePaid += binary.LittleEndian.Uint64(data[24:32])
}

func testPayer(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// newTestEngine builds an engine against a fresh fake ledger with XNM and
// XBLK enabled and the payer funded for both.
func newTestEngine(t *testing.T, mutate func(cfg *Config)) (*Engine, *fakeLedger) {
	t.Helper()

	programID := tracker.DefaultProgramID
	ledger := newFakeLedger(programID)
	payer := testPayer(t)

	xnmMint := testPayer(t).PublicKey()
	xblkMint := testPayer(t).PublicKey()

	cfg := Config{
		Logger:    logger.NewTest(),
		RPC:       ledger,
		Payer:     payer,
		ProgramID: programID,
		Tokens: []TokenConfig{
			{Symbol: TokenXNM, Mint: xnmMint, Decimals: 9, Program: TokenProgramSPL},
			{Symbol: TokenXBLK, Mint: xblkMint, Decimals: 9, Program: TokenProgramSPL},
		},
		BatchSize:           5,
		Concurrency:         2,
		FeeBufferMultiplier: 1.2,
		Retry:               retry.Config{MaxAttempts: 1},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	// Fund the payer's token accounts generously unless the test set its
	// own balances.
	for _, tok := range cfg.Tokens {
		ata, err := deriveTokenAccount(payer.PublicKey(), tok.Mint, tok.Program.ID())
		require.NoError(t, err)
		if _, ok := ledger.tokenBalances[ata]; !ok {
			ledger.tokenBalances[ata] = 1 << 62
		}
	}

	eng, err := New(cfg)
	require.NoError(t, err)
	return eng, ledger
}
