package orchestrator

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/realms"
)

type Mode int

const (
	ModeUnset Mode = iota
	ModeCreate
	ModeRecover
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeRecover:
		return "recover"
	default:
		return "unset"
	}
}

// Step names a unit of work a failed run resumes at.
type Step string

const (
	StepDiscover     Step = "discover"
	StepGenerate     Step = "generate"
	StepDerive       Step = "derive"
	StepSplit        Step = "split"
	StepRegister     Step = "register"
	StepPersist      Step = "persist"
	StepFetch        Step = "fetch"
	StepRecoverShare Step = "recover_share"
	StepDecrypt      Step = "decrypt"
	StepVault        Step = "vault"
)

const PinLength = 4

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// Failure describes why the orchestrator is in FAILED.
type Failure struct {
	Kind    interfaces.ErrorKind
	Message string
	Step    Step

	// Terminal failures (PIN lockout) cannot be retried.
	Terminal         bool
	GuessesRemaining int

	Err *interfaces.Error
}

// Outcome is the result of a completed run. Mnemonic is sensitive and must
// not be logged or persisted by the caller.
type Outcome struct {
	Mode     Mode
	WalletID string
	Wallet   *interfaces.Wallet
	Mnemonic string
}

type Config struct {
	AppID        string `yaml:"app_id"`
	ContextInfo  string `yaml:"context_info"`
	GuessLimit   int    `yaml:"guess_limit"`
	AccountIndex uint32 `yaml:"account_index"`
}

func DefaultConfig() Config {
	return Config{
		AppID:       interfaces.DefaultAppID,
		ContextInfo: realms.DefaultContextInfo,
		GuessLimit:  realms.DefaultGuessLimit,
	}
}

// ShareStoreFactory binds a share store to a signed-in session.
type ShareStoreFactory interface {
	ForSession(identity interfaces.Identity, tokens *realms.TokenCache) (interfaces.ShareStore, error)
}

// SeedVault is the local password vault the orchestrator writes to on completion.
type SeedVault interface {
	Store(ctx context.Context, walletID string, seed []byte, password string) error
}

type Dependencies struct {
	Backups interfaces.BackupStore
	Shares  ShareStoreFactory
	Vault   SeedVault
	Wallets interfaces.WalletDeriver
	Log     *slog.Logger
}

// Session is the signed-in identity and the state that lives exactly as long
// as it does.
type Session struct {
	Identity interfaces.Identity
	Tokens   *realms.TokenCache

	shares interfaces.ShareStore
}

type createProgress struct {
	mnemonic   string
	wallet     *interfaces.Wallet
	envelope   *interfaces.Envelope
	shareA     interfaces.KeyShare
	shareB     interfaces.KeyShare
	registered bool
	persisted  bool
}

type recoverProgress struct {
	walletID string
	record   *interfaces.BackupRecord
	shareB   *interfaces.KeyShare
	mnemonic string
	wallet   *interfaces.Wallet
}
