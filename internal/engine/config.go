package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
)

// Token identifies one distributable SPL token.
type Token string

const (
	TokenXNM  Token = "XNM"
	TokenXBLK Token = "XBLK"
	TokenXUNI Token = "XUNI"
)

// TokenProgram selects which token program owns a mint.
type TokenProgram string

const (
	TokenProgramSPL  TokenProgram = "spl-token"
	TokenProgram2022 TokenProgram = "token-2022"
)

// ID returns the on-chain program address for the variant.
func (p TokenProgram) ID() solana.PublicKey {
	if p == TokenProgram2022 {
		return solana.Token2022ProgramID
	}
	return solana.TokenProgramID
}

// TokenConfig describes one enabled token: its mint, its on-chain decimals,
// and which token program owns it.
type TokenConfig struct {
	Symbol   Token
	Mint     solana.PublicKey
	Decimals uint8
	Program  TokenProgram
}

// BonusConfig gates the one-time native-token bonus. A recipient qualifies
// once its current XNM balance reaches MinBalanceThreshold; the bonus is paid
// at most once per record lifetime, tracked on-chain.
type BonusConfig struct {
	Enabled bool

	// Amount is the full one-time bonus in native base units.
	Amount uint64

	// MinBalanceThreshold is the XNM balance floor, in XNM base units at the
	// on-chain scale.
	MinBalanceThreshold uint64
}

const (
	// feedScale is the decimal scale of leaderboard balance strings.
	feedScale = 18

	// maxComputeUnitLimit is the ledger's per-transaction compute ceiling.
	maxComputeUnitLimit = 1_400_000

	// signatureFeeLamports is the flat per-signature fee.
	signatureFeeLamports = 5_000

	// accountFetchBatchSize caps addresses per bulk account read.
	accountFetchBatchSize = 100
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	RPC    LedgerClient

	// Payer signs and funds every transaction; it is also the tracker
	// program's authority.
	Payer solana.PrivateKey

	ProgramID solana.PublicKey

	// Tokens is the enabled token set, in distribution order.
	Tokens []TokenConfig

	DryRun      bool
	BatchSize   int
	Concurrency int

	// MinFeeBalance is the payer lamport floor required before any batch is
	// attempted.
	MinFeeBalance uint64

	// FeeBufferMultiplier pads simulated fees to absorb estimation variance.
	FeeBufferMultiplier float64

	// ComputeUnitPriceMicroLamports is the priority fee attached to every
	// batch transaction.
	ComputeUnitPriceMicroLamports uint64

	Bonus BonusConfig

	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Payer == nil {
		return errors.New("payer keypair is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if len(cfg.Tokens) == 0 {
		return errors.New("at least one token is required")
	}
	for _, tok := range cfg.Tokens {
		if tok.Mint.IsZero() {
			return fmt.Errorf("token %s: mint is required", tok.Symbol)
		}
	}
	if cfg.BatchSize < 1 {
		return errors.New("batch size must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if cfg.FeeBufferMultiplier < 1.0 {
		return errors.New("fee buffer multiplier must be >= 1.0")
	}
	return nil
}

func (cfg *Config) setDefaults() {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
}

// token returns the config for a symbol, or false if that token is not
// enabled.
func (cfg *Config) token(symbol Token) (TokenConfig, bool) {
	for _, tok := range cfg.Tokens {
		if tok.Symbol == symbol {
			return tok, true
		}
	}
	return TokenConfig{}, false
}
