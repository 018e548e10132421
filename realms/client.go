package realms

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/seedless-backup/cryptoutils"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/metrics"
)

// Client is the session-scoped PIN-gated share store. It fans every operation
// out to all configured realms concurrently and succeeds once enough realms
// agree, so a minority of failing realms does not fail the call.
//
// Secrets are zero-padded to MaxSecretSize and Shamir-split across realms with
// the recover threshold; each registration carries a random version so shares
// of different registrations are never combined.
type Client struct {
	cfg      *Config
	conns    map[string]interfaces.RealmConn
	issuer   interfaces.TokenIssuer
	identity interfaces.Identity
	email    string
	tokens   *TokenCache
	log      *slog.Logger
}

type realmOutcome struct {
	realmID string
	resp    *interfaces.RealmRecoverResponse
	err     error
}

func NewClient(cfg *Config, conns map[string]interfaces.RealmConn, issuer interfaces.TokenIssuer, identity interfaces.Identity, tokens *TokenCache, log *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, realm := range cfg.Realms {
		if conns[realm.ID] == nil {
			return nil, fmt.Errorf("no connection for realm %s", realm.ID)
		}
	}
	if tokens == nil {
		return nil, errors.New("token cache is required")
	}
	email, err := interfaces.NormalizeEmail(identity.Email)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		conns:    conns,
		issuer:   issuer,
		identity: identity,
		email:    email,
		tokens:   tokens,
		log:      log,
	}, nil
}

// Register binds secret to pin on every realm. It returns once
// RegisterThreshold realms acknowledged; the rest finish in the background.
func (c *Client) Register(ctx context.Context, pin, secret []byte, contextInfo string, guessLimit int) error {
	if len(pin) == 0 {
		return interfaces.ValidationError("PIN is required")
	}
	if len(secret) == 0 || len(secret) > c.cfg.MaxSecretSize {
		return interfaces.ValidationError("secret must be between 1 and %d bytes", c.cfg.MaxSecretSize)
	}
	if guessLimit < 1 {
		return interfaces.ValidationError("guess limit must be positive")
	}

	padded := make([]byte, c.cfg.MaxSecretSize)
	copy(padded, secret)
	defer cryptoutils.WipeBytes(padded)

	shares, err := c.shareOut(padded)
	if err != nil {
		return err
	}

	version := make([]byte, 16)
	if _, err := rand.Read(version); err != nil {
		return fmt.Errorf("failed to generate registration version: %w", err)
	}

	proofs := c.pinProofs(pin, contextInfo)
	secretID := SecretID(contextInfo)

	start := time.Now()
	callCtx, release := c.detachedCalls(ctx)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	results := c.fanOut(callCtx, "register", func(ctx context.Context, i int, realm RealmConfig, conn interfaces.RealmConn, token string) (*interfaces.RealmRecoverResponse, error) {
		return nil, conn.Register(ctx, token, secretID, &interfaces.RealmRegisterRequest{
			Version:    version,
			Share:      shares[i].Bytes,
			PinProof:   proofs[realm.ID],
			GuessLimit: guessLimit,
		})
	})

	if err := c.awaitQuorum(ctx, "register", results, release); err != nil {
		return err
	}

	c.log.Info("Registered key share with realms",
		slog.Int("realms", len(c.cfg.Realms)),
		slog.Int("guess_limit", guessLimit),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Recover returns the registered secret zero-padded to MaxSecretSize. Callers
// truncate it to the length they recorded at registration.
func (c *Client) Recover(ctx context.Context, pin []byte, contextInfo string) ([]byte, error) {
	if len(pin) == 0 {
		return nil, interfaces.ValidationError("PIN is required")
	}

	proofs := c.pinProofs(pin, contextInfo)
	secretID := SecretID(contextInfo)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	results := c.fanOut(ctx, "recover", func(ctx context.Context, _ int, realm RealmConfig, conn interfaces.RealmConn, token string) (*interfaces.RealmRecoverResponse, error) {
		return conn.Recover(ctx, token, secretID, &interfaces.RealmRecoverRequest{
			PinProof: proofs[realm.ID],
		})
	})

	// Failures are only classified once every realm answered, so the reported
	// remaining-guess count reflects all realms.
	n := len(c.cfg.Realms)
	threshold := c.cfg.RecoverThreshold
	groups := make(map[string][]interfaces.KeyShare)
	var failures []realmOutcome

	for received := 0; received < n; {
		select {
		case res := <-results:
			received++
			if res.err != nil {
				failures = append(failures, res)
			} else if share, err := c.shareFrom(res.resp); err != nil {
				failures = append(failures, realmOutcome{realmID: res.realmID, err: err})
			} else {
				version := hex.EncodeToString(res.resp.Version)
				groups[version] = append(groups[version], share)
				if len(groups[version]) >= threshold {
					secret, err := c.combine(groups[version])
					if err != nil {
						return nil, err
					}
					c.log.Info("Recovered key share from realms",
						slog.Int("responses", received),
						slog.Duration("duration", time.Since(start)))
					return secret, nil
				}
			}
		case <-ctx.Done():
			return nil, c.classify("recover", failures, ctx.Err())
		}
	}

	return nil, c.classify("recover", failures, nil)
}

// Delete removes the registration under contextInfo from every realm.
func (c *Client) Delete(ctx context.Context, contextInfo string) error {
	secretID := SecretID(contextInfo)

	callCtx, release := c.detachedCalls(ctx)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	results := c.fanOut(callCtx, "delete", func(ctx context.Context, _ int, _ RealmConfig, conn interfaces.RealmConn, token string) (*interfaces.RealmRecoverResponse, error) {
		return nil, conn.Delete(ctx, token, secretID)
	})

	if err := c.awaitQuorum(ctx, "delete", results, release); err != nil {
		return err
	}
	c.log.Info("Deleted key share registration", slog.String("secret_id", secretID))
	return nil
}

type realmCall func(ctx context.Context, i int, realm RealmConfig, conn interfaces.RealmConn, token string) (*interfaces.RealmRecoverResponse, error)

// fanOut runs call against every realm concurrently. The returned channel is
// buffered so stragglers never block after the caller stops reading.
func (c *Client) fanOut(ctx context.Context, op string, call realmCall) <-chan realmOutcome {
	results := make(chan realmOutcome, len(c.cfg.Realms))
	for i, realm := range c.cfg.Realms {
		go func() {
			resp, err := c.callRealm(ctx, i, realm, call)
			metrics.RealmRequests.WithLabelValues(realm.ID, op, realmResult(err)).Inc()
			if err != nil {
				c.log.Debug("Realm call failed", slog.String("realm", realm.ID), slog.String("op", op), "err", err)
			}
			results <- realmOutcome{realmID: realm.ID, resp: resp, err: err}
		}()
	}
	return results
}

// callRealm authenticates and performs call, refreshing the token once if the realm rejects it.
func (c *Client) callRealm(ctx context.Context, i int, realm RealmConfig, call realmCall) (*interfaces.RealmRecoverResponse, error) {
	conn := c.conns[realm.ID]

	token, err := c.authenticate(ctx, realm.ID)
	if err != nil {
		return nil, err
	}

	resp, err := call(ctx, i, realm, conn, token)
	if !errors.Is(err, ErrUnauthorized) {
		return resp, err
	}

	c.tokens.Invalidate(realm.ID)
	if token, err = c.authenticate(ctx, realm.ID); err != nil {
		return nil, err
	}
	return call(ctx, i, realm, conn, token)
}

// authenticate returns the session's token for realmID, fetching it on first use.
func (c *Client) authenticate(ctx context.Context, realmID string) (string, error) {
	if token, ok := c.tokens.Get(realmID); ok {
		return token, nil
	}

	token, err := c.issuer.IssueToken(ctx, realmID, c.identity)
	if err != nil {
		return "", interfaces.NewError(interfaces.KindAuthFailure, "could not authenticate with the key servers", err)
	}
	c.tokens.Put(realmID, token)
	return token, nil
}

// pinProofs derives the per-realm PIN proofs up front so realm calls never
// touch the access key after it is wiped.
func (c *Client) pinProofs(pin []byte, contextInfo string) map[string][]byte {
	accessKey := cryptoutils.DeriveAccessKey(pin, c.email, contextInfo, c.cfg.PinKDF)
	defer cryptoutils.WipeBytes(accessKey)

	proofs := make(map[string][]byte, len(c.cfg.Realms))
	for _, realm := range c.cfg.Realms {
		proofs[realm.ID] = cryptoutils.RealmPinProof(accessKey, realm.ID)
	}
	return proofs
}

// detachedCalls returns a context for realm writes that outlives the caller,
// bounded by the realm deadline, so realms still in flight once quorum is
// reached can finish.
func (c *Client) detachedCalls(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Deadline)
}

// awaitQuorum returns once RegisterThreshold realms succeeded, once too many
// failed, or at the deadline. Realms still outstanding are drained in the
// background and release is called when the last one reports.
func (c *Client) awaitQuorum(ctx context.Context, op string, results <-chan realmOutcome, release context.CancelFunc) error {
	n := len(c.cfg.Realms)
	threshold := c.cfg.RegisterThreshold
	successes := 0
	var failures []realmOutcome

	for received := 0; received < n; received++ {
		select {
		case res := <-results:
			if res.err != nil {
				failures = append(failures, res)
				if len(failures) > n-threshold {
					release()
					return c.classify(op, failures, nil)
				}
				continue
			}
			successes++
			if successes >= threshold {
				if pending := n - received - 1; pending > 0 {
					go c.drainStragglers(op, results, pending, release)
				} else {
					release()
				}
				return nil
			}
		case <-ctx.Done():
			release()
			return c.classify(op, failures, ctx.Err())
		}
	}
	release()
	return nil
}

func (c *Client) drainStragglers(op string, results <-chan realmOutcome, pending int, release context.CancelFunc) {
	defer release()

	for range pending {
		res := <-results
		if res.err != nil {
			c.log.Warn("Realm failed after quorum",
				slog.String("realm", res.realmID),
				slog.String("op", op),
				"err", res.err)
			continue
		}
		c.log.Debug("Realm completed after quorum",
			slog.String("realm", res.realmID),
			slog.String("op", op))
	}
}

func (c *Client) threshold(op string) int {
	if op == "recover" {
		return c.cfg.RecoverThreshold
	}
	return c.cfg.RegisterThreshold
}

// classify turns per-realm failures into a single typed error for the operation.
func (c *Client) classify(op string, failures []realmOutcome, deadlineErr error) *interfaces.Error {
	tolerable := len(c.cfg.Realms) - c.threshold(op)

	var locked, auth, notRegistered int
	var wrongPin *interfaces.Error
	causes := make([]error, 0, len(failures)+1)
	if deadlineErr != nil {
		causes = append(causes, deadlineErr)
	}

	for _, f := range failures {
		causes = append(causes, fmt.Errorf("%s: %w", f.realmID, f.err))

		var typed *interfaces.Error
		switch {
		case errors.As(f.err, &typed) && typed.Kind == interfaces.KindLocked:
			locked++
		case errors.As(f.err, &typed) && typed.Kind == interfaces.KindWrongPin:
			if wrongPin == nil || typed.GuessesRemaining < wrongPin.GuessesRemaining {
				wrongPin = typed
			}
		case errors.As(f.err, &typed) && typed.Kind == interfaces.KindAuthFailure, errors.Is(f.err, ErrUnauthorized):
			auth++
		case errors.Is(f.err, ErrNotRegistered):
			notRegistered++
		}
	}
	cause := errors.Join(causes...)

	switch {
	case locked > tolerable:
		return interfaces.NewError(interfaces.KindLocked,
			"your PIN backup is locked after too many incorrect attempts", cause)
	case wrongPin != nil:
		e := interfaces.WrongPinError(wrongPin.GuessesRemaining)
		e.Err = cause
		return e
	case auth > tolerable:
		return interfaces.NewError(interfaces.KindAuthFailure, "could not authenticate with the key servers", cause)
	case notRegistered > tolerable:
		return interfaces.NewError(interfaces.KindShareMismatch, "no PIN backup is registered for this account", cause)
	default:
		return interfaces.NewError(interfaces.KindQuorumTimeout, "could not reach enough key servers, try again", cause)
	}
}

func (c *Client) shareOut(padded []byte) ([]interfaces.KeyShare, error) {
	n := len(c.cfg.Realms)
	if c.cfg.RecoverThreshold >= 2 {
		return cryptoutils.SplitSecret(padded, n, c.cfg.RecoverThreshold)
	}

	// A single realm suffices to recover, so each realm holds the whole secret.
	shares := make([]interfaces.KeyShare, n)
	for i := range shares {
		shares[i] = interfaces.KeyShare{Index: i, Bytes: bytes.Clone(padded)}
	}
	return shares, nil
}

func (c *Client) shareFrom(resp *interfaces.RealmRecoverResponse) (interfaces.KeyShare, error) {
	if resp == nil || len(resp.Version) == 0 || len(resp.Share) == 0 {
		return interfaces.KeyShare{}, errors.New("empty realm response")
	}
	if c.cfg.RecoverThreshold < 2 {
		return interfaces.KeyShare{Bytes: resp.Share}, nil
	}
	if len(resp.Share) != c.cfg.MaxSecretSize+1 {
		return interfaces.KeyShare{}, fmt.Errorf("realm share has %d bytes", len(resp.Share))
	}
	return interfaces.KeyShare{Index: int(resp.Share[len(resp.Share)-1]), Bytes: resp.Share}, nil
}

func (c *Client) combine(shares []interfaces.KeyShare) ([]byte, error) {
	if c.cfg.RecoverThreshold < 2 {
		return shares[0].Bytes, nil
	}
	return cryptoutils.CombineShares(shares, c.cfg.RecoverThreshold)
}

func realmResult(err error) string {
	switch kind := interfaces.KindOf(err); {
	case err == nil:
		return "ok"
	case kind != 0:
		return kind.String()
	default:
		return "error"
	}
}
