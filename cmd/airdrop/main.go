package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/x1-labs/xenblocks-airdrop/internal/amount"
	"github.com/x1-labs/xenblocks-airdrop/internal/engine"
	"github.com/x1-labs/xenblocks-airdrop/internal/leaderboard"
	"github.com/x1-labs/xenblocks-airdrop/internal/logger"
	"github.com/x1-labs/xenblocks-airdrop/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local operation; flags and env vars win.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Ledger configuration
	rpcURLFlag := flag.String("rpc-url", rpc.MainNetBeta_RPC, "ledger RPC endpoint (or set RPC_URL env var)")
	payerKeypairFlag := flag.String("payer-keypair", "", "path to the payer keypair file (or set PAYER_KEYPAIR env var)")
	programIDFlag := flag.String("program-id", tracker.DefaultProgramID.String(), "airdrop tracker program address (or set PROGRAM_ID env var)")

	// Token configuration
	xnmMintFlag := flag.String("xnm-mint", "", "XNM mint address (or set XNM_MINT env var)")
	xblkMintFlag := flag.String("xblk-mint", "", "XBLK mint address (or set XBLK_MINT env var)")
	xuniMintFlag := flag.String("xuni-mint", "", "XUNI mint address (or set XUNI_MINT env var)")
	tokenDecimalsFlag := flag.Uint8("token-decimals", 9, "on-chain decimals shared by all mints")
	tokenProgramFlag := flag.String("token-program", string(engine.TokenProgramSPL), "token program owning the mints (spl-token, token-2022)")

	// Leaderboard configuration
	leaderboardURLFlag := flag.String("leaderboard-url", "", "XenBlocks leaderboard API base URL (or set LEADERBOARD_URL env var)")
	leaderboardPageSizeFlag := flag.Int("leaderboard-page-size", leaderboard.MaxPageSize, "rows per leaderboard API page")
	leaderboardRPSFlag := flag.Float64("leaderboard-rps", 4, "leaderboard API request rate limit")

	// Distribution options
	dryRunFlag := flag.Bool("dry-run", false, "validate and report without sending any transaction")
	batchSizeFlag := flag.Int("batch-size", 4, "recipients per atomic batch transaction")
	concurrencyFlag := flag.Int("concurrency", 4, "batches in flight at once")
	minFeeBalanceFlag := flag.Uint64("min-fee-balance", 100_000_000, "payer lamport floor kept in reserve for fees")
	feeBufferFlag := flag.Float64("fee-buffer", 1.2, "multiplier applied to simulated fee estimates")
	computeUnitPriceFlag := flag.Uint64("compute-unit-price", 0, "priority fee in micro-lamports per compute unit")

	// One-time native bonus
	bonusAmountFlag := flag.Uint64("bonus-amount", 0, "one-time native bonus in lamports (0 disables)")
	bonusThresholdFlag := flag.Uint64("bonus-threshold", 0, "XNM base-unit balance required to qualify for the bonus")

	// Commands
	initStateFlag := flag.Bool("init-state", false, "initialize the global run counter account and exit")
	listRecordsFlag := flag.Bool("list-records", false, "print every on-chain distribution record and exit")
	runInfoFlag := flag.Uint64("run-info", 0, "print one run's audit record and exit")

	metricsAddrFlag := flag.String("metrics-addr", "", "listen address for Prometheus metrics (empty disables)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	for env, target := range map[string]*string{
		"RPC_URL":         rpcURLFlag,
		"PAYER_KEYPAIR":   payerKeypairFlag,
		"PROGRAM_ID":      programIDFlag,
		"XNM_MINT":        xnmMintFlag,
		"XBLK_MINT":       xblkMintFlag,
		"XUNI_MINT":       xuniMintFlag,
		"LEADERBOARD_URL": leaderboardURLFlag,
	} {
		if v := os.Getenv(env); v != "" {
			*target = v
		}
	}
	if os.Getenv("DRY_RUN") == "true" {
		*dryRunFlag = true
	}

	if *payerKeypairFlag == "" {
		return fmt.Errorf("--payer-keypair is required")
	}
	payer, err := solana.PrivateKeyFromSolanaKeygenFile(*payerKeypairFlag)
	if err != nil {
		return fmt.Errorf("load payer keypair: %w", err)
	}
	programID, err := solana.PublicKeyFromBase58(*programIDFlag)
	if err != nil {
		return fmt.Errorf("parse program id: %w", err)
	}

	tokenProgram := engine.TokenProgram(*tokenProgramFlag)
	switch tokenProgram {
	case engine.TokenProgramSPL, engine.TokenProgram2022:
	default:
		return fmt.Errorf("unknown token program %q", *tokenProgramFlag)
	}

	var tokens []engine.TokenConfig
	for _, tok := range []struct {
		symbol engine.Token
		mint   string
	}{
		{engine.TokenXNM, *xnmMintFlag},
		{engine.TokenXBLK, *xblkMintFlag},
		{engine.TokenXUNI, *xuniMintFlag},
	} {
		if tok.mint == "" {
			continue
		}
		mint, err := solana.PublicKeyFromBase58(tok.mint)
		if err != nil {
			return fmt.Errorf("parse %s mint: %w", strings.ToLower(string(tok.symbol)), err)
		}
		tokens = append(tokens, engine.TokenConfig{
			Symbol:   tok.symbol,
			Mint:     mint,
			Decimals: *tokenDecimalsFlag,
			Program:  tokenProgram,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddrFlag != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: *metricsAddrFlag, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("airdrop: metrics listening", "addr", *metricsAddrFlag)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("airdrop: metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	eng, err := engine.New(engine.Config{
		Logger:                        log,
		RPC:                           rpc.New(*rpcURLFlag),
		Payer:                         payer,
		ProgramID:                     programID,
		Tokens:                        tokens,
		DryRun:                        *dryRunFlag,
		BatchSize:                     *batchSizeFlag,
		Concurrency:                   *concurrencyFlag,
		MinFeeBalance:                 *minFeeBalanceFlag,
		FeeBufferMultiplier:           *feeBufferFlag,
		ComputeUnitPriceMicroLamports: *computeUnitPriceFlag,
		Bonus: engine.BonusConfig{
			Enabled:             *bonusAmountFlag > 0,
			Amount:              *bonusAmountFlag,
			MinBalanceThreshold: *bonusThresholdFlag,
		},
	})
	if err != nil {
		return err
	}

	if *initStateFlag {
		return eng.InitializeState(ctx)
	}

	if *listRecordsFlag {
		records, err := eng.ListRecords(ctx)
		if err != nil {
			return err
		}
		for _, record := range records {
			generation := "current"
			if record.Legacy {
				generation = "legacy"
			}
			fmt.Printf("%-42s  %-44s  xnm=%-16s xblk=%-16s xuni=%-16s bonus=%-12d %s\n",
				record.Eth(), record.Wallet,
				amount.Format(record.XNM, *tokenDecimalsFlag),
				amount.Format(record.XBLK, *tokenDecimalsFlag),
				amount.Format(record.XUNI, *tokenDecimalsFlag),
				record.NativePaid, generation)
		}
		log.Info("airdrop: listed records", "count", len(records))
		return nil
	}

	if *runInfoFlag > 0 {
		info, err := eng.RunInfo(ctx, *runInfoFlag)
		if err != nil {
			return err
		}
		fmt.Printf("run %d: recipients=%d amount=%s dry_run=%t date=%s\n",
			info.RunID, info.TotalRecipients,
			amount.Format(info.TotalAmount, *tokenDecimalsFlag),
			info.DryRun, time.Unix(info.RunDate, 0).UTC().Format(time.RFC3339))
		return nil
	}

	if *leaderboardURLFlag == "" {
		return fmt.Errorf("--leaderboard-url is required")
	}
	feed, err := leaderboard.NewClient(leaderboard.ClientConfig{
		Logger:            log,
		BaseURL:           *leaderboardURLFlag,
		PageSize:          *leaderboardPageSizeFlag,
		RequestsPerSecond: *leaderboardRPSFlag,
	})
	if err != nil {
		return fmt.Errorf("build leaderboard client: %w", err)
	}

	miners, err := feed.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch leaderboard: %w", err)
	}
	log.Info("airdrop: leaderboard fetched", "miners", len(miners))

	summary, err := eng.Run(ctx, miners)
	if err != nil {
		return err
	}
	if summary.FailedCount > 0 {
		return fmt.Errorf("run %d finished with %d of %d recipients unpaid", summary.RunID, summary.FailedCount, summary.PendingCount)
	}
	return nil
}
