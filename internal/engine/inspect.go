package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

// InitializeState creates the global run-counter account. A no-op when the
// account already exists.
func (e *Engine) InitializeState(ctx context.Context) error {
	statePDA, _, err := tracker.DeriveStatePDA(e.cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("engine: derive state pda: %w", err)
	}

	state, err := e.fetchGlobalState(ctx, statePDA)
	if err != nil {
		return err
	}
	if state != nil {
		e.log.Info("engine: global state already initialized",
			"address", statePDA, "authority", state.Authority, "run_counter", state.RunCounter)
		return nil
	}

	initIx, err := tracker.NewInitializeStateInstruction(e.cfg.ProgramID, e.cfg.Payer.PublicKey())
	if err != nil {
		return fmt.Errorf("engine: build initialize_state: %w", err)
	}
	if e.cfg.DryRun {
		e.log.Info("engine: dry run, global state would be initialized", "address", statePDA)
		return nil
	}
	if err := e.submitAndConfirm(ctx, []solana.Instruction{initIx}); err != nil {
		return fmt.Errorf("engine: initialize state: %w", err)
	}
	e.log.Info("engine: global state initialized", "address", statePDA)
	return nil
}

// ListRecords scans the tracker program for every record account, both
// generations, sorted by ETH address.
func (e *Engine) ListRecords(ctx context.Context) ([]*tracker.Record, error) {
	var records []*tracker.Record
	for _, size := range []uint64{tracker.RecordLenLegacy, tracker.RecordLenCurrent} {
		var result rpc.GetProgramAccountsResult
		err := retry.Do(ctx, e.cfg.Retry, func() error {
			var err error
			result, err = e.rpc.GetProgramAccountsWithOpts(ctx, e.cfg.ProgramID, &rpc.GetProgramAccountsOpts{
				Commitment: rpc.CommitmentConfirmed,
				Filters:    []rpc.RPCFilter{{DataSize: size}},
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("engine: scan record accounts of size %d: %w", size, err)
		}

		for _, keyed := range result {
			record, err := tracker.DecodeRecord(keyed.Account.Data.GetBinary())
			if err != nil {
				e.log.Warn("engine: skipping undecodable record account", "address", keyed.Pubkey, "error", err)
				continue
			}
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Eth() < records[j].Eth()
	})
	return records, nil
}

// RunInfo reads the audit record of one past run.
func (e *Engine) RunInfo(ctx context.Context, runID uint64) (*tracker.Run, error) {
	runPDA, _, err := tracker.DeriveRunPDA(e.cfg.ProgramID, runID)
	if err != nil {
		return nil, fmt.Errorf("engine: derive run pda: %w", err)
	}

	var result *rpc.GetMultipleAccountsResult
	err = retry.Do(ctx, e.cfg.Retry, func() error {
		var err error
		result, err = e.rpc.GetMultipleAccountsWithOpts(ctx, []solana.PublicKey{runPDA}, &rpc.GetMultipleAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("engine: fetch run %d: %w", runID, err)
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, fmt.Errorf("engine: run %d not found", runID)
	}

	run, err := tracker.DecodeRun(result.Value[0].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("engine: decode run %d: %w", runID, err)
	}
	return run, nil
}
