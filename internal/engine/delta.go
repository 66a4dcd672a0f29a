package engine

import (
	"github.com/gagliardetto/solana-go"

	"github.com/x1-labs/xenblocks-airdrop/internal/amount"
	"github.com/x1-labs/xenblocks-airdrop/internal/leaderboard"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

// computePending derives the pending set: for every feed row, the
// non-negative per-token shortfall between the leaderboard balance and the
// on-chain cumulative total. Pure function of its inputs; rerunning with an
// unchanged feed and snapshot yields identical output. The ledger is the
// only accumulator.
func (e *Engine) computePending(miners []leaderboard.Miner, snap *snapshot) []Pending {
	pending := make([]Pending, 0, len(miners))
	seen := make(map[pairKey]bool, len(miners))

	for _, miner := range miners {
		wallet, err := solana.PublicKeyFromBase58(miner.SolAddress)
		if err != nil {
			e.log.Warn("engine/delta: skipping miner with invalid wallet",
				"account", miner.Account, "solAddress", miner.SolAddress, "error", err)
			continue
		}

		key := pairKey{Wallet: wallet, Eth: tracker.EthAddressBytes(miner.Account)}
		if seen[key] {
			e.log.Warn("engine/delta: skipping duplicate feed row", "account", miner.Account)
			continue
		}
		seen[key] = true

		record := snap.record(key)
		amounts := e.deltaFor(miner, record)
		if amounts.IsZero() {
			continue
		}

		pending = append(pending, Pending{
			Wallet:       wallet,
			Eth:          key.Eth,
			Amounts:      amounts,
			RecordExists: snap.exists(key),
		})
	}

	return pending
}

// deltaFor computes one recipient's outstanding amounts. record may be nil
// (new recipient). Deltas floor at zero: on-chain totals ahead of the feed
// are never clawed back.
func (e *Engine) deltaFor(miner leaderboard.Miner, record *tracker.Record) tracker.Amounts {
	var prior tracker.Record
	if record != nil {
		prior = *record
	}

	var out tracker.Amounts
	currentXNM := uint64(0)

	if tok, ok := e.cfg.token(TokenXNM); ok {
		currentXNM = amount.Parse(miner.XNM, feedScale, tok.Decimals)
		out.XNM = flooredDelta(currentXNM, prior.XNM)
	}
	if tok, ok := e.cfg.token(TokenXBLK); ok {
		out.XBLK = flooredDelta(amount.Parse(miner.XBLK, feedScale, tok.Decimals), prior.XBLK)
	}
	if tok, ok := e.cfg.token(TokenXUNI); ok {
		out.XUNI = flooredDelta(amount.Parse(miner.XUNI, feedScale, tok.Decimals), prior.XUNI)
	}

	out.Native = e.bonusFor(currentXNM, prior.NativePaid)
	return out
}

// bonusFor computes the remaining one-time native bonus. Monotone and
// idempotent: once the full amount has been paid the result stays zero.
func (e *Engine) bonusFor(currentXNM, alreadyPaid uint64) uint64 {
	if !e.cfg.Bonus.Enabled {
		return 0
	}
	if currentXNM < e.cfg.Bonus.MinBalanceThreshold {
		return 0
	}
	return flooredDelta(e.cfg.Bonus.Amount, alreadyPaid)
}

func flooredDelta(current, previous uint64) uint64 {
	if current <= previous {
		return 0
	}
	return current - previous
}
