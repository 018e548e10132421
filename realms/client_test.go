package realms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruteri/seedless-backup/cryptoutils"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// testIssuer issues "realm|email" tokens and counts issuance.
type testIssuer struct {
	issued atomic.Int32
	err    error
}

func (i *testIssuer) IssueToken(ctx context.Context, realmID string, identity interfaces.Identity) (string, error) {
	if i.err != nil {
		return "", i.err
	}
	email, err := interfaces.NormalizeEmail(identity.Email)
	if err != nil {
		return "", err
	}
	i.issued.Add(1)
	return realmID + "|" + email, nil
}

type testVerifier struct{}

func (testVerifier) Verify(token, realmID string) (string, error) {
	realm, subject, ok := strings.Cut(token, "|")
	if !ok || realm != realmID {
		return "", errors.New("bad token")
	}
	return subject, nil
}

type failingConn struct{ err error }

func (c failingConn) Register(context.Context, string, string, *interfaces.RealmRegisterRequest) error {
	return c.err
}

func (c failingConn) Recover(context.Context, string, string, *interfaces.RealmRecoverRequest) (*interfaces.RealmRecoverResponse, error) {
	return nil, c.err
}

func (c failingConn) Delete(context.Context, string, string) error { return c.err }

type blockingConn struct{}

func (blockingConn) Register(ctx context.Context, _, _ string, _ *interfaces.RealmRegisterRequest) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingConn) Recover(ctx context.Context, _, _ string, _ *interfaces.RealmRecoverRequest) (*interfaces.RealmRecoverResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingConn) Delete(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// rejectOnceConn rejects the first token it sees, then delegates.
type rejectOnceConn struct {
	interfaces.RealmConn
	rejected atomic.Bool
}

func (c *rejectOnceConn) Register(ctx context.Context, token, secretID string, req *interfaces.RealmRegisterRequest) error {
	if c.rejected.CompareAndSwap(false, true) {
		return ErrUnauthorized
	}
	return c.RealmConn.Register(ctx, token, secretID, req)
}

// delayedConn holds registrations for delay before delegating.
type delayedConn struct {
	interfaces.RealmConn
	delay time.Duration
}

func (c delayedConn) Register(ctx context.Context, token, secretID string, req *interfaces.RealmRegisterRequest) error {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.RealmConn.Register(ctx, token, secretID, req)
}

type testEnv struct {
	cfg     *Config
	oracles map[string]*Oracle
	conns   map[string]interfaces.RealmConn
	issuer  *testIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PinKDF = cryptoutils.PinKDFParams{Time: 1, MemoryKiB: 1024, Threads: 1}
	cfg.Deadline = 2 * time.Second

	env := &testEnv{
		cfg:     cfg,
		oracles: make(map[string]*Oracle),
		issuer:  &testIssuer{},
	}
	for _, id := range []string{"realm-a", "realm-b", "realm-c"} {
		cfg.Realms = append(cfg.Realms, RealmConfig{ID: id})
		env.oracles[id] = NewOracle(id, testLog)
	}
	env.conns = Connect(cfg, func(realm RealmConfig) interfaces.RealmConn {
		return NewLocalConn(env.oracles[realm.ID], testVerifier{})
	})
	return env
}

func (e *testEnv) client(t *testing.T, email string) (*Client, *TokenCache) {
	t.Helper()
	tokens := NewTokenCache()
	c, err := NewClient(e.cfg, e.conns, e.issuer, interfaces.Identity{UID: "uid-1", Email: email}, tokens, testLog)
	require.NoError(t, err)
	return c, tokens
}

func testSecret() []byte {
	return bytes.Repeat([]byte{0xab, 0xcd, 0xef}, 11) // 33 bytes, the size of an envelope key share
}

func TestRegisterRecover(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()

	secret := testSecret()
	require.NoError(t, c.Register(ctx, []byte("1234"), secret, DefaultContextInfo, DefaultGuessLimit))

	recovered, err := c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.NoError(t, err)
	require.Len(t, recovered, env.cfg.MaxSecretSize)
	assert.Equal(t, secret, recovered[:len(secret)])
	assert.Equal(t, make([]byte, env.cfg.MaxSecretSize-len(secret)), recovered[len(secret):])
}

func TestRecoverWithNormalizedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	registrar, _ := env.client(t, " User@Example.com ")
	require.NoError(t, registrar.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))

	recoverer, _ := env.client(t, "user@example.com")
	recovered, err := recoverer.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.NoError(t, err)
	assert.Equal(t, testSecret(), recovered[:len(testSecret())])
}

func TestWrongPinCountsDown(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, 5))

	for attempt, want := range []int{4, 3, 2} {
		_, err := c.Recover(ctx, []byte("9999"), DefaultContextInfo)
		require.ErrorIs(t, err, interfaces.ErrWrongPin, "attempt %d", attempt+1)

		var typed *interfaces.Error
		require.True(t, errors.As(err, &typed))
		assert.Equal(t, want, typed.GuessesRemaining)
	}

	recovered, err := c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.NoError(t, err)
	assert.Equal(t, testSecret(), recovered[:len(testSecret())])
}

func TestLockoutIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, 3))

	for i := 0; i < 2; i++ {
		_, err := c.Recover(ctx, []byte("0000"), DefaultContextInfo)
		require.ErrorIs(t, err, interfaces.ErrWrongPin)
	}

	_, err := c.Recover(ctx, []byte("0000"), DefaultContextInfo)
	require.ErrorIs(t, err, interfaces.ErrLocked)

	_, err = c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.ErrorIs(t, err, interfaces.ErrLocked)
	assert.False(t, interfaces.KindOf(err).Retryable())
}

func TestMinorityRealmFailure(t *testing.T) {
	env := newTestEnv(t)
	env.conns["realm-c"] = failingConn{err: errors.New("connection refused")}
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))

	recovered, err := c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.NoError(t, err)
	assert.Equal(t, testSecret(), recovered[:len(testSecret())])
}

func TestMajorityRealmFailure(t *testing.T) {
	env := newTestEnv(t)
	env.conns["realm-b"] = failingConn{err: errors.New("connection refused")}
	env.conns["realm-c"] = failingConn{err: errors.New("connection refused")}
	c, _ := env.client(t, "user@example.com")

	err := c.Register(context.Background(), []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit)
	require.ErrorIs(t, err, interfaces.ErrQuorumTimeout)
	assert.True(t, interfaces.KindOf(err).Retryable())
}

func TestQuorumDeadline(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Deadline = 100 * time.Millisecond
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))

	env.conns["realm-b"] = blockingConn{}
	env.conns["realm-c"] = blockingConn{}
	c, _ = env.client(t, "user@example.com")

	start := time.Now()
	_, err := c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.ErrorIs(t, err, interfaces.ErrQuorumTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegisterReturnsAtQuorum(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Deadline = 1500 * time.Millisecond
	env.conns["realm-c"] = blockingConn{}
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	start = time.Now()
	require.NoError(t, c.Delete(ctx, DefaultContextInfo))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRegisterStragglerCompletes(t *testing.T) {
	env := newTestEnv(t)
	realmC := env.conns["realm-c"]
	env.conns["realm-c"] = delayedConn{RealmConn: realmC, delay: 200 * time.Millisecond}
	c, _ := env.client(t, "user@example.com")
	require.NoError(t, c.Register(context.Background(), []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))

	// Recovery without realm-a needs realm-c's share, which lands after Register returned.
	conns := map[string]interfaces.RealmConn{
		"realm-a": failingConn{err: errors.New("connection refused")},
		"realm-b": env.conns["realm-b"],
		"realm-c": realmC,
	}
	recoverer, err := NewClient(env.cfg, conns, env.issuer, interfaces.Identity{UID: "uid-1", Email: "user@example.com"}, NewTokenCache(), testLog)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		recovered, err := recoverer.Recover(context.Background(), []byte("1234"), DefaultContextInfo)
		return err == nil && bytes.Equal(testSecret(), recovered[:len(testSecret())])
	}, time.Second, 50*time.Millisecond)
}

func TestAuthFailure(t *testing.T) {
	env := newTestEnv(t)
	env.issuer.err = errors.New("issuer unavailable")
	c, tokens := env.client(t, "user@example.com")

	err := c.Register(context.Background(), []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit)
	require.ErrorIs(t, err, interfaces.ErrAuthFailure)
	assert.Equal(t, 0, tokens.Len())
}

func TestTokensCachedPerSession(t *testing.T) {
	env := newTestEnv(t)
	c, tokens := env.client(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))
	require.Eventually(t, func() bool { return tokens.Len() == 3 }, time.Second, 10*time.Millisecond)
	_, err := c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.NoError(t, err)

	assert.Equal(t, 3, tokens.Len())
	assert.Equal(t, int32(3), env.issuer.issued.Load())

	tokens.Clear()
	assert.Equal(t, 0, tokens.Len())
}

func TestRejectedTokenIsRefreshed(t *testing.T) {
	env := newTestEnv(t)
	env.conns["realm-a"] = &rejectOnceConn{RealmConn: env.conns["realm-a"]}
	c, _ := env.client(t, "user@example.com")

	require.NoError(t, c.Register(context.Background(), []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))
	assert.Eventually(t, func() bool { return env.issuer.issued.Load() == 4 }, time.Second, 10*time.Millisecond)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()

	err := c.Register(ctx, []byte("1234"), make([]byte, env.cfg.MaxSecretSize+1), DefaultContextInfo, DefaultGuessLimit)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	err = c.Register(ctx, nil, testSecret(), DefaultContextInfo, DefaultGuessLimit)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	err = c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, 0)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	assert.Equal(t, int32(0), env.issuer.issued.Load())
}

func TestContextInfoNamespaces(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))

	_, err := c.Recover(ctx, []byte("1234"), "other_context")
	assert.ErrorIs(t, err, interfaces.ErrShareMismatch)
}

func TestReRegisterOverwrites(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, []byte("1111"), []byte("first"), DefaultContextInfo, DefaultGuessLimit))
	require.NoError(t, c.Register(ctx, []byte("2222"), []byte("second"), DefaultContextInfo, DefaultGuessLimit))

	_, err := c.Recover(ctx, []byte("1111"), DefaultContextInfo)
	assert.ErrorIs(t, err, interfaces.ErrWrongPin)

	recovered, err := c.Recover(ctx, []byte("2222"), DefaultContextInfo)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), recovered[:6])
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()
	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))

	require.NoError(t, c.Delete(ctx, DefaultContextInfo))

	_, err := c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	assert.ErrorIs(t, err, interfaces.ErrShareMismatch)
}

func TestSingleRealmThresholdOne(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Realms = env.cfg.Realms[:1]
	env.cfg.RegisterThreshold = 1
	env.cfg.RecoverThreshold = 1
	c, _ := env.client(t, "user@example.com")
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, []byte("1234"), testSecret(), DefaultContextInfo, DefaultGuessLimit))
	recovered, err := c.Recover(ctx, []byte("1234"), DefaultContextInfo)
	require.NoError(t, err)
	assert.Equal(t, testSecret(), recovered[:len(testSecret())])
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "realms.yaml")
	yamlConfig := `
realms:
  - id: realm-a
    address: https://a.realms.example.com
  - id: realm-b
    address: https://b.realms.example.com
  - id: realm-c
    address: https://c.realms.example.com
register_threshold: 3
recover_threshold: 2
deadline: 15s
token_issuer_url: https://issuer.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Realms, 3)
	assert.Equal(t, 3, cfg.RegisterThreshold)
	assert.Equal(t, 2, cfg.RecoverThreshold)
	assert.Equal(t, 15*time.Second, cfg.Deadline)
	assert.Equal(t, DefaultMaxSecretSize, cfg.MaxSecretSize)
	assert.Equal(t, DefaultAppName, cfg.AppName)
	assert.Equal(t, cryptoutils.DefaultPinKDF, cfg.PinKDF)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no realms", mutate: func(c *Config) { c.Realms = nil }},
		{name: "duplicate realm", mutate: func(c *Config) { c.Realms = append(c.Realms, c.Realms[0]) }},
		{name: "register threshold too high", mutate: func(c *Config) { c.RegisterThreshold = 4 }},
		{name: "recover above register", mutate: func(c *Config) { c.RegisterThreshold = 2; c.RecoverThreshold = 3 }},
		{name: "zero secret size", mutate: func(c *Config) { c.MaxSecretSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			for i := 0; i < 3; i++ {
				cfg.Realms = append(cfg.Realms, RealmConfig{ID: fmt.Sprintf("realm-%d", i)})
			}
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
