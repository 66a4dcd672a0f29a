package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/x1-labs/xenblocks-airdrop/internal/leaderboard"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

func TestAirdrop_Delta_NewRecipientGetsFullAmount(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	miner := leaderboard.Miner{
		Account:    "0x1111111111111111111111111111111111111111",
		SolAddress: testPayer(t).PublicKey().String(),
		XNM:        "2E+18",
		XBLK:       "1.5E+18",
	}

	amounts := eng.deltaFor(miner, nil)
	require.Equal(t, uint64(2_000_000_000), amounts.XNM)
	require.Equal(t, uint64(1_500_000_000), amounts.XBLK)
	require.Zero(t, amounts.XUNI) // XUNI not enabled in the test config
	require.Zero(t, amounts.Native)
}

func TestAirdrop_Delta_PaysOnlyTheShortfall(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	miner := leaderboard.Miner{
		Account:    "0x1111111111111111111111111111111111111111",
		SolAddress: testPayer(t).PublicKey().String(),
		XNM:        "5E+18",
	}
	record := &tracker.Record{XNM: 3_000_000_000}

	amounts := eng.deltaFor(miner, record)
	require.Equal(t, uint64(2_000_000_000), amounts.XNM)
}

func TestAirdrop_Delta_OnChainAheadOfFeedFloorsAtZero(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	miner := leaderboard.Miner{
		Account:    "0x1111111111111111111111111111111111111111",
		SolAddress: testPayer(t).PublicKey().String(),
		XNM:        "1E+18",
	}
	record := &tracker.Record{XNM: 9_000_000_000}

	amounts := eng.deltaFor(miner, record)
	require.True(t, amounts.IsZero())
}

func TestAirdrop_Delta_LegacyTotalCountsTowardXNM(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	miner := leaderboard.Miner{
		Account:    "0x1111111111111111111111111111111111111111",
		SolAddress: testPayer(t).PublicKey().String(),
		XNM:        "4E+18",
	}
	record := &tracker.Record{XNM: 4_000_000_000, Legacy: true}

	amounts := eng.deltaFor(miner, record)
	require.Zero(t, amounts.XNM)
}

func TestAirdrop_Delta_MalformedFeedBalanceTreatedAsZero(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	miner := leaderboard.Miner{
		Account:    "0x1111111111111111111111111111111111111111",
		SolAddress: testPayer(t).PublicKey().String(),
		XNM:        "not-a-number",
		XBLK:       "3E+18",
	}

	amounts := eng.deltaFor(miner, nil)
	require.Zero(t, amounts.XNM)
	require.Equal(t, uint64(3_000_000_000), amounts.XBLK)
}

func TestAirdrop_Delta_BonusPaidOnceAboveThreshold(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, func(cfg *Config) {
		cfg.Bonus = BonusConfig{
			Enabled:             true,
			Amount:              500_000_000,
			MinBalanceThreshold: 1_000_000_000,
		}
	})

	require.Zero(t, eng.bonusFor(999_999_999, 0), "below threshold")
	require.Equal(t, uint64(500_000_000), eng.bonusFor(1_000_000_000, 0), "at threshold, unpaid")
	require.Equal(t, uint64(200_000_000), eng.bonusFor(2_000_000_000, 300_000_000), "partial prior payment")
	require.Zero(t, eng.bonusFor(2_000_000_000, 500_000_000), "already paid in full")
}

func TestAirdrop_Delta_BonusDisabledByDefault(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	require.Zero(t, eng.bonusFor(1<<60, 0))
}

func TestAirdrop_Delta_ComputePendingSkipsBadRows(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)
	wallet := testPayer(t).PublicKey()

	miners := []leaderboard.Miner{
		{Account: "0x1111111111111111111111111111111111111111", SolAddress: wallet.String(), XNM: "2E+18"},
		{Account: "0x2222222222222222222222222222222222222222", SolAddress: "not-a-wallet", XNM: "2E+18"},
		// Duplicate pair, must not produce a second payment.
		{Account: "0x1111111111111111111111111111111111111111", SolAddress: wallet.String(), XNM: "9E+18"},
		// Zero delta, excluded entirely.
		{Account: "0x3333333333333333333333333333333333333333", SolAddress: testPayer(t).PublicKey().String(), XNM: "0"},
	}

	pending := eng.computePending(miners, &snapshot{records: map[pairKey]*tracker.Record{}})
	require.Len(t, pending, 1)
	require.Equal(t, wallet, pending[0].Wallet)
	require.Equal(t, uint64(2_000_000_000), pending[0].Amounts.XNM)
	require.False(t, pending[0].RecordExists)
}

func TestAirdrop_Delta_ComputePendingIsDeterministic(t *testing.T) {
	t.Parallel()

	eng, _ := newTestEngine(t, nil)

	miners := []leaderboard.Miner{
		{Account: "0x1111111111111111111111111111111111111111", SolAddress: testPayer(t).PublicKey().String(), XNM: "2E+18"},
		{Account: "0x2222222222222222222222222222222222222222", SolAddress: testPayer(t).PublicKey().String(), XBLK: "7E+18"},
	}
	snap := &snapshot{records: map[pairKey]*tracker.Record{}}

	first := eng.computePending(miners, snap)
	second := eng.computePending(miners, snap)
	require.Equal(t, first, second)
}
