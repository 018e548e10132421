package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/seedless-backup/cryptoutils"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/localvault"
	"github.com/ruteri/seedless-backup/realms"
	"golang.org/x/sync/singleflight"
)

// Orchestrator drives wallet creation and recovery for one user session.
//
// Input events (SignIn, Discover, Choose, EnterPIN, ConfirmPIN, EnterPassword)
// advance the FSM; Run executes the create or recover sequence. A failed run
// resumes at the step that failed. Concurrent Run calls share one execution
// and once COMPLETE every Run returns the first outcome.
type Orchestrator struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger
	fsm  *FSM

	group singleflight.Group

	mu         sync.Mutex
	session    *Session
	mode       Mode
	discovered []interfaces.BackupSummary
	pending    []byte
	pin        []byte
	password   string
	failure    *Failure
	outcome    *Outcome
	create     createProgress
	recover    recoverProgress
}

func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.AppID == "" {
		cfg.AppID = interfaces.DefaultAppID
	}
	if cfg.ContextInfo == "" {
		cfg.ContextInfo = realms.DefaultContextInfo
	}
	if cfg.GuessLimit <= 0 {
		cfg.GuessLimit = realms.DefaultGuessLimit
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  log,
		fsm:  NewFSM(),
	}
}

func (o *Orchestrator) State() State {
	return o.fsm.Current()
}

func (o *Orchestrator) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// Failure returns the reason for the FAILED state, or nil.
func (o *Orchestrator) Failure() *Failure {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failure == nil {
		return nil
	}
	f := *o.failure
	return &f
}

// Session returns the active session, or nil when signed out.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Discovered returns the backups found for the signed-in identity.
func (o *Orchestrator) Discovered() []interfaces.BackupSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]interfaces.BackupSummary(nil), o.discovered...)
}

// SignIn opens a session for identity. The session owns a fresh token cache.
func (o *Orchestrator) SignIn(identity interfaces.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if state := o.fsm.Current(); state != StateSignedOut {
		return &ErrInvalidTransition{From: state, To: StateProfileConfirmed}
	}

	tokens := realms.NewTokenCache()
	shares, err := o.deps.Shares.ForSession(identity, tokens)
	if err != nil {
		return interfaces.AsError(err, interfaces.KindAuthFailure, "could not start session")
	}

	if err := o.fsm.To(StateProfileConfirmed); err != nil {
		return err
	}
	o.session = &Session{Identity: identity, Tokens: tokens, shares: shares}

	o.log.Info("Signed in", slog.String("uid", identity.UID))
	return nil
}

// Discover lists existing backups. Any backup forces recovery and skips CHOOSE.
func (o *Orchestrator) Discover(ctx context.Context) error {
	o.mu.Lock()
	state := o.fsm.Current()
	retrying := state == StateFailed && o.failure != nil && o.failure.Step == StepDiscover
	if state != StateProfileConfirmed && !retrying {
		o.mu.Unlock()
		return &ErrInvalidTransition{From: state, To: StateDiscovering}
	}
	if err := o.fsm.To(StateDiscovering); err != nil {
		o.mu.Unlock()
		return err
	}
	o.failure = nil
	uid := o.session.Identity.UID
	o.mu.Unlock()

	summaries, err := o.deps.Backups.ListBackups(ctx, o.cfg.AppID, uid)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err != nil {
		return o.failLocked(StepDiscover, interfaces.AsError(err, interfaces.KindRepositoryError, "could not look up existing backups"))
	}

	o.discovered = summaries
	if len(summaries) > 0 {
		if len(summaries) > 1 {
			o.log.Warn("Multiple backups found for identity, using the oldest",
				slog.String("uid", uid),
				slog.Int("count", len(summaries)),
				slog.String("wallet_id", summaries[0].WalletID))
		}
		o.mode = ModeRecover
		return o.fsm.To(StatePinEntry)
	}
	return o.fsm.To(StateChoose)
}

// Choose picks create or recover when discovery found nothing to force recovery.
func (o *Orchestrator) Choose(mode Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if state := o.fsm.Current(); state != StateChoose {
		return &ErrInvalidTransition{From: state, To: StatePinEntry}
	}
	switch mode {
	case ModeCreate:
	case ModeRecover:
		if len(o.discovered) == 0 {
			return interfaces.ValidationError("no backup exists for this account")
		}
	default:
		return interfaces.ValidationError("unknown mode %d", mode)
	}

	o.mode = mode
	return o.fsm.To(StatePinEntry)
}

// EnterPIN accepts a 4-digit PIN. Creation asks for confirmation; recovery
// moves on to the password. After a WrongPin failure a new PIN is accepted
// from FAILED and the next Run retries share recovery.
func (o *Orchestrator) EnterPIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return interfaces.ValidationError("PIN must be exactly %d digits", PinLength)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch state := o.fsm.Current(); {
	case state == StatePinEntry && o.mode == ModeCreate:
		o.pending = []byte(pin)
		return o.fsm.To(StatePinConfirm)

	case state == StatePinEntry && o.mode == ModeRecover:
		o.setPinLocked([]byte(pin))
		return o.fsm.To(StatePasswordEntry)

	case state == StateFailed && o.failure != nil && o.failure.Kind == interfaces.KindWrongPin:
		o.setPinLocked([]byte(pin))
		o.failure = nil
		return o.fsm.To(StatePasswordEntry)

	case state == StateFailed && o.failure != nil && o.failure.Terminal:
		return o.failure.Err

	default:
		return &ErrInvalidTransition{From: state, To: StatePinConfirm}
	}
}

// ConfirmPIN must repeat the PIN from EnterPIN. A mismatch returns to PIN_ENTRY.
func (o *Orchestrator) ConfirmPIN(pin string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if state := o.fsm.Current(); state != StatePinConfirm {
		return &ErrInvalidTransition{From: state, To: StatePasswordEntry}
	}

	if pin != string(o.pending) {
		cryptoutils.WipeBytes(o.pending)
		o.pending = nil
		if err := o.fsm.To(StatePinEntry); err != nil {
			return err
		}
		return interfaces.ValidationError("PINs do not match")
	}

	o.setPinLocked(o.pending)
	o.pending = nil
	return o.fsm.To(StatePasswordEntry)
}

// EnterPassword sets the local vault password. Validation happens before any
// network call.
func (o *Orchestrator) EnterPassword(password, confirm string) error {
	if err := localvault.ValidatePassword(password); err != nil {
		return err
	}
	if password != confirm {
		return interfaces.ValidationError("passwords do not match")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if state := o.fsm.Current(); state != StatePasswordEntry {
		return &ErrInvalidTransition{From: state, To: StatePasswordEntry}
	}
	o.password = password
	return nil
}

// Run executes the create or recover sequence from PASSWORD_ENTRY. A failed
// run is resumed with Retry; Run from FAILED is an invalid transition.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	return o.guardedRun(ctx, false)
}

func (o *Orchestrator) guardedRun(ctx context.Context, resume bool) (*Outcome, error) {
	v, err, _ := o.group.Do("run", func() (interface{}, error) {
		return o.run(ctx, resume)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

// Retry resumes a failed run at the failed step. Lockout is not retryable.
// A failed discovery is re-run and yields a nil outcome.
func (o *Orchestrator) Retry(ctx context.Context) (*Outcome, error) {
	o.mu.Lock()
	state, failure := o.fsm.Current(), o.failure
	o.mu.Unlock()

	if state != StateFailed || failure == nil {
		return nil, &ErrInvalidTransition{From: state, To: StateReconstructing}
	}
	if failure.Terminal {
		return nil, failure.Err
	}
	if failure.Step == StepDiscover {
		if err := o.Discover(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return o.guardedRun(ctx, true)
}

// SignOut ends the session: the token cache is cleared and all in-memory
// secrets are dropped. Not allowed while a run is in flight.
func (o *Orchestrator) SignOut() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.fsm.Reset(); err != nil {
		return err
	}

	if o.session != nil {
		o.session.Tokens.Clear()
		o.log.Info("Signed out", slog.String("uid", o.session.Identity.UID))
	}
	o.session = nil
	o.mode = ModeUnset
	o.discovered = nil
	cryptoutils.WipeBytes(o.pending)
	cryptoutils.WipeBytes(o.pin)
	o.pending, o.pin = nil, nil
	o.password = ""
	o.failure = nil
	o.outcome = nil
	o.create = createProgress{}
	o.recover = recoverProgress{}
	return nil
}

func (o *Orchestrator) setPinLocked(pin []byte) {
	cryptoutils.WipeBytes(o.pin)
	o.pin = pin
}

// failLocked records the failure and moves to FAILED. Returns the typed error.
func (o *Orchestrator) failLocked(step Step, err *interfaces.Error) error {
	o.failure = &Failure{
		Kind:             err.Kind,
		Message:          err.Message,
		Step:             step,
		Terminal:         !err.Kind.Retryable(),
		GuessesRemaining: err.GuessesRemaining,
		Err:              err,
	}
	if transitionErr := o.fsm.To(StateFailed); transitionErr != nil {
		return errors.Join(err, fmt.Errorf("recording failure: %w", transitionErr))
	}

	attrs := []any{
		slog.String("step", string(step)),
		slog.String("kind", err.Kind.String()),
		"err", err,
	}
	if o.failure.Terminal {
		o.log.Error("Orchestration failed permanently", attrs...)
	} else {
		o.log.Warn("Orchestration step failed", attrs...)
	}
	return err
}
