package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

// snapshot is the pre-fetched on-chain state for one run: every known
// pair's record, plus bulk existence answers for arbitrary accounts.
// Absence is not an error; a missing record means "new recipient, zero
// prior total".
type snapshot struct {
	records map[pairKey]*tracker.Record
}

func (s *snapshot) record(key pairKey) *tracker.Record {
	return s.records[key]
}

func (s *snapshot) exists(key pairKey) bool {
	_, ok := s.records[key]
	return ok
}

// fetchSnapshot bulk-reads the record accounts for all pairs, batching
// addresses per RPC call. Malformed accounts are skipped with a warning,
// never fatal.
func (e *Engine) fetchSnapshot(ctx context.Context, pairs []pairKey) (*snapshot, error) {
	snap := &snapshot{records: make(map[pairKey]*tracker.Record, len(pairs))}

	addrs := make([]solana.PublicKey, 0, len(pairs))
	for _, pair := range pairs {
		addr, _, err := tracker.DeriveRecordPDA(e.cfg.ProgramID, pair.Wallet, pair.Eth)
		if err != nil {
			return nil, fmt.Errorf("derive record pda for %s: %w", pair.Wallet, err)
		}
		addrs = append(addrs, addr)
	}

	for start := 0; start < len(addrs); start += accountFetchBatchSize {
		end := min(start+accountFetchBatchSize, len(addrs))

		var result *rpc.GetMultipleAccountsResult
		err := retry.Do(ctx, e.cfg.Retry, func() error {
			var err error
			result, err = e.rpc.GetMultipleAccountsWithOpts(ctx, addrs[start:end], &rpc.GetMultipleAccountsOpts{
				Commitment: rpc.CommitmentConfirmed,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch record accounts [%d:%d]: %w", start, end, err)
		}

		for i, acct := range result.Value {
			if acct == nil {
				continue // no record yet for this pair
			}
			pair := pairs[start+i]

			record, err := tracker.DecodeRecord(acct.Data.GetBinary())
			if err != nil {
				e.log.Warn("engine/snapshot: skipping malformed record account",
					"address", addrs[start+i], "wallet", pair.Wallet, "error", err)
				continue
			}
			snap.records[pair] = record
		}
	}

	e.log.Debug("engine/snapshot: fetched records", "pairs", len(pairs), "found", len(snap.records))
	return snap, nil
}

// fetchExistenceSet bulk-checks which of the given accounts exist. Used for
// the single pre-pass that decides which token accounts need creating.
func (e *Engine) fetchExistenceSet(ctx context.Context, addrs []solana.PublicKey) (map[solana.PublicKey]bool, error) {
	existing := make(map[solana.PublicKey]bool, len(addrs))

	for start := 0; start < len(addrs); start += accountFetchBatchSize {
		end := min(start+accountFetchBatchSize, len(addrs))

		var result *rpc.GetMultipleAccountsResult
		err := retry.Do(ctx, e.cfg.Retry, func() error {
			var err error
			result, err = e.rpc.GetMultipleAccountsWithOpts(ctx, addrs[start:end], &rpc.GetMultipleAccountsOpts{
				Commitment: rpc.CommitmentConfirmed,
				DataSlice:  &rpc.DataSlice{Offset: uint64Ptr(0), Length: uint64Ptr(0)},
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch accounts [%d:%d]: %w", start, end, err)
		}

		for i, acct := range result.Value {
			if acct != nil {
				existing[addrs[start+i]] = true
			}
		}
	}

	return existing, nil
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}
