package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/seedless-backup/cryptoutils"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/metrics"
)

// stepError tags a typed error with the step that produced it.
type stepError struct {
	step Step
	err  *interfaces.Error
}

func fail(step Step, err error, fallback interfaces.ErrorKind, message string) *stepError {
	return &stepError{step: step, err: interfaces.AsError(err, fallback, message)}
}

// run starts from PASSWORD_ENTRY, or from FAILED when resume is set.
func (o *Orchestrator) run(ctx context.Context, resume bool) (*Outcome, error) {
	o.mu.Lock()
	switch state := o.fsm.Current(); state {
	case StateComplete:
		outcome := o.outcome
		o.mu.Unlock()
		return outcome, nil
	case StatePasswordEntry:
		if o.password == "" {
			o.mu.Unlock()
			return nil, interfaces.ValidationError("a local password is required")
		}
	case StateFailed:
		if !resume || o.failure == nil || o.failure.Step == StepDiscover {
			o.mu.Unlock()
			return nil, &ErrInvalidTransition{From: state, To: StateReconstructing}
		}
		if o.failure.Terminal {
			err := o.failure.Err
			o.mu.Unlock()
			return nil, err
		}
		if o.failure.Kind == interfaces.KindWrongPin {
			o.mu.Unlock()
			return nil, interfaces.ValidationError("enter the PIN again before retrying")
		}
	default:
		o.mu.Unlock()
		return nil, &ErrInvalidTransition{From: state, To: StateReconstructing}
	}

	if err := o.fsm.To(StateReconstructing); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.failure = nil
	mode := o.mode
	sess := o.session
	pin := append([]byte(nil), o.pin...)
	password := o.password
	o.mu.Unlock()
	defer cryptoutils.WipeBytes(pin)

	o.log.Info("Starting run", slog.String("mode", mode.String()), slog.String("uid", sess.Identity.UID))

	var (
		outcome *Outcome
		serr    *stepError
	)
	switch mode {
	case ModeCreate:
		outcome, serr = o.runCreate(ctx, sess, pin, password)
	case ModeRecover:
		outcome, serr = o.runRecover(ctx, sess, pin, password)
	default:
		serr = &stepError{step: StepDiscover, err: interfaces.ValidationError("no mode selected")}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if serr != nil {
		metrics.OrchestratorRuns.WithLabelValues(mode.String(), serr.err.Kind.String()).Inc()
		return nil, o.failLocked(serr.step, serr.err)
	}

	if err := o.fsm.To(StateComplete); err != nil {
		return nil, err
	}
	o.outcome = outcome
	o.password = ""
	cryptoutils.WipeBytes(o.pin)
	o.pin = nil

	metrics.OrchestratorRuns.WithLabelValues(mode.String(), "ok").Inc()
	o.log.Info("Run complete", slog.String("mode", mode.String()), slog.String("wallet_id", outcome.WalletID))
	return outcome, nil
}

// runCreate generates a wallet, splits its envelope key between the realms
// and the backup store, then seals the seed locally. Completed steps are kept
// in o.create so a retry skips them.
func (o *Orchestrator) runCreate(ctx context.Context, sess *Session, pin []byte, password string) (*Outcome, *stepError) {
	p := &o.create

	if p.mnemonic == "" {
		mnemonic, err := o.deps.Wallets.GenerateMnemonic()
		if err != nil {
			return nil, fail(StepGenerate, err, interfaces.KindIntegrityFailure, "could not generate a wallet")
		}
		p.mnemonic = mnemonic
	}

	if p.wallet == nil {
		wallet, err := o.deps.Wallets.ImportWallet(ctx, p.mnemonic, o.cfg.AccountIndex)
		if err != nil {
			return nil, fail(StepDerive, err, interfaces.KindIntegrityFailure, "could not derive wallet accounts")
		}
		p.wallet = wallet
	}

	if p.envelope == nil {
		padded, err := cryptoutils.Pad([]byte(p.mnemonic), cryptoutils.PadWidth)
		if err != nil {
			return nil, fail(StepSplit, err, interfaces.KindIntegrityFailure, "could not prepare the backup")
		}
		envelope, shares, err := cryptoutils.EncryptAndSplit(padded, interfaces.Threshold, interfaces.TotalShares)
		cryptoutils.WipeBytes(padded)
		if err != nil {
			return nil, fail(StepSplit, err, interfaces.KindIntegrityFailure, "could not encrypt the backup")
		}
		p.envelope, p.shareA, p.shareB = envelope, shares[0], shares[1]
		p.registered, p.persisted = false, false
	}

	if !p.registered {
		if err := sess.shares.Register(ctx, pin, p.shareB.Bytes, o.cfg.ContextInfo, o.cfg.GuessLimit); err != nil {
			return nil, fail(StepRegister, err, interfaces.KindQuorumTimeout, "could not register the PIN-protected share")
		}
		p.registered = true
	}

	if !p.persisted {
		key := interfaces.BackupKey{AppID: o.cfg.AppID, UID: sess.Identity.UID, WalletID: p.wallet.WalletID}
		payload := &interfaces.BackupPayload{
			EncryptedMnemonic: *p.envelope,
			BackendKeyShare:   p.shareA.Bytes,
			ShareBLength:      len(p.shareB.Bytes),
			WalletID:          p.wallet.WalletID,
			CreatedAt:         time.Now().UTC(),
			Threshold:         interfaces.Threshold,
			TotalShares:       interfaces.TotalShares,
			Architecture:      interfaces.BackupArchitecture,
		}
		err := o.deps.Backups.PutBackup(ctx, key, payload, interfaces.IdempotencyKeyFor(key.UID, key.WalletID))
		if err != nil {
			// The realms hold a share that no backup references until this step succeeds.
			o.log.Warn("Share registered but backup not persisted",
				slog.String("uid", key.UID),
				slog.String("wallet_id", key.WalletID),
				"err", err)
			return nil, fail(StepPersist, err, interfaces.KindRepositoryError, "could not save the backup")
		}
		p.persisted = true
	}

	if serr := o.sealLocally(ctx, StepVault, p.wallet.WalletID, p.mnemonic, password); serr != nil {
		return nil, serr
	}

	return &Outcome{
		Mode:     ModeCreate,
		WalletID: p.wallet.WalletID,
		Wallet:   p.wallet,
		Mnemonic: p.mnemonic,
	}, nil
}

// runRecover fetches the backup, recovers Share B through the realms and
// decrypts the mnemonic. A decryption failure drops the fetched record and
// share so the next attempt starts from a fresh fetch.
func (o *Orchestrator) runRecover(ctx context.Context, sess *Session, pin []byte, password string) (*Outcome, *stepError) {
	p := &o.recover

	if p.record == nil {
		o.mu.Lock()
		discovered := o.discovered
		o.mu.Unlock()
		if len(discovered) == 0 {
			return nil, fail(StepFetch, interfaces.NewError(interfaces.KindRepositoryError, "no backup to recover from", nil), interfaces.KindRepositoryError, "")
		}
		p.walletID = discovered[0].WalletID

		key := interfaces.BackupKey{AppID: o.cfg.AppID, UID: sess.Identity.UID, WalletID: p.walletID}
		record, exists, err := o.deps.Backups.GetBackup(ctx, key)
		if err != nil {
			return nil, fail(StepFetch, err, interfaces.KindRepositoryError, "could not fetch the backup")
		}
		if !exists {
			return nil, fail(StepFetch, interfaces.NewError(interfaces.KindRepositoryError, "the backup no longer exists",
				fmt.Errorf("%s: %w", key, interfaces.ErrBackupNotFound)), interfaces.KindRepositoryError, "")
		}
		if err := record.Payload.Validate(); err != nil {
			return nil, fail(StepFetch, interfaces.NewError(interfaces.KindIntegrityFailure, "the backup is corrupted", err), interfaces.KindIntegrityFailure, "")
		}
		p.record = record
	}

	if p.shareB == nil {
		padded, err := sess.shares.Recover(ctx, pin, o.cfg.ContextInfo)
		if err != nil {
			return nil, fail(StepRecoverShare, err, interfaces.KindQuorumTimeout, "could not recover the PIN-protected share")
		}
		n := p.record.Payload.ShareBLength
		if n < 2 || n > len(padded) {
			return nil, fail(StepRecoverShare, interfaces.NewError(interfaces.KindShareMismatch, "key shares do not belong together",
				fmt.Errorf("share B length %d, recovered %d bytes", n, len(padded))), interfaces.KindShareMismatch, "")
		}
		share := make([]byte, n)
		copy(share, padded[:n])
		cryptoutils.WipeBytes(padded)
		p.shareB = &interfaces.KeyShare{Index: int(share[n-1]), Bytes: share}
	}

	if p.mnemonic == "" {
		backendShare := p.record.Payload.BackendKeyShare
		shares := []interfaces.KeyShare{
			{Index: int(backendShare[len(backendShare)-1]), Bytes: backendShare},
			*p.shareB,
		}
		plaintext, err := cryptoutils.CombineAndDecrypt(&p.record.Payload.EncryptedMnemonic, shares, interfaces.Threshold)
		if err == nil {
			var mnemonic []byte
			mnemonic, err = cryptoutils.Unpad(plaintext)
			cryptoutils.WipeBytes(plaintext)
			if err == nil {
				p.mnemonic = string(mnemonic)
			}
		}
		if err != nil {
			p.record, p.shareB = nil, nil
			return nil, fail(StepDecrypt, err, interfaces.KindIntegrityFailure, "the backup could not be decrypted")
		}
	}

	if p.wallet == nil {
		wallet, err := o.deps.Wallets.ImportWallet(ctx, p.mnemonic, o.cfg.AccountIndex)
		if err != nil {
			return nil, fail(StepDerive, err, interfaces.KindIntegrityFailure, "the recovered phrase is not a valid wallet")
		}
		if wallet.WalletID != p.walletID {
			o.log.Warn("Recovered wallet id differs from backup record, keeping record id",
				slog.String("record_wallet_id", p.walletID),
				slog.String("derived_wallet_id", wallet.WalletID))
			wallet.WalletID = p.walletID
		}
		p.wallet = wallet
	}

	if serr := o.sealLocally(ctx, StepVault, p.walletID, p.mnemonic, password); serr != nil {
		return nil, serr
	}

	return &Outcome{
		Mode:     ModeRecover,
		WalletID: p.walletID,
		Wallet:   p.wallet,
		Mnemonic: p.mnemonic,
	}, nil
}

func (o *Orchestrator) sealLocally(ctx context.Context, step Step, walletID, mnemonic, password string) *stepError {
	if o.deps.Vault == nil {
		return nil
	}
	seed, err := o.deps.Wallets.Seed(mnemonic)
	if err != nil {
		return fail(step, err, interfaces.KindIntegrityFailure, "could not derive the wallet seed")
	}
	defer cryptoutils.WipeBytes(seed)

	if err := o.deps.Vault.Store(ctx, walletID, seed, password); err != nil {
		return fail(step, err, interfaces.KindRepositoryError, "could not save the wallet locally")
	}
	return nil
}
