package tokenhandler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority() *Authority {
	return NewAuthority(DefaultIssuer, time.Hour, map[string][]byte{
		"realm-a": bytes.Repeat([]byte{0xaa}, 32),
		"realm-b": bytes.Repeat([]byte{0xbb}, 32),
	})
}

func setupServer(t *testing.T) (*httptest.Server, *Authority) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authority := newTestAuthority()

	r := chi.NewRouter()
	NewHandler(authority, []string{"Jelli Wallet"}, logger).RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, authority
}

func TestIssueAndVerify(t *testing.T) {
	server, authority := setupServer(t)
	client := NewClient(server.URL, "Jelli Wallet")

	token, err := client.IssueToken(context.Background(), "realm-a", interfaces.Identity{UID: "u1", Email: " User@Example.com "})
	require.NoError(t, err)

	subject, err := authority.Verify(token, "realm-a")
	require.NoError(t, err)
	assert.Equal(t, Subject("Jelli Wallet", "user@example.com"), subject)

	_, err = authority.Verify(token, "realm-b")
	assert.Error(t, err, "token must not verify for another realm")
}

func TestSubjectStableAcrossEmailForms(t *testing.T) {
	server, authority := setupServer(t)
	client := NewClient(server.URL, "Jelli Wallet")
	ctx := context.Background()

	t1, err := client.IssueToken(ctx, "realm-b", interfaces.Identity{Email: " User@Example.com "})
	require.NoError(t, err)
	t2, err := client.IssueToken(ctx, "realm-b", interfaces.Identity{Email: "user@example.com"})
	require.NoError(t, err)

	s1, err := authority.Verify(t1, "realm-b")
	require.NoError(t, err)
	s2, err := authority.Verify(t2, "realm-b")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestCreateJWTRejections(t *testing.T) {
	server, _ := setupServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown realm", body: `{"realmId":"realm-z","email":"a@b.c","source":"google_auth","appName":"Jelli Wallet"}`},
		{name: "bad source", body: `{"realmId":"realm-a","email":"a@b.c","source":"password","appName":"Jelli Wallet"}`},
		{name: "unknown app", body: `{"realmId":"realm-a","email":"a@b.c","source":"google_auth","appName":"Other"}`},
		{name: "blank email", body: `{"realmId":"realm-a","email":"  ","source":"google_auth","appName":"Jelli Wallet"}`},
		{name: "malformed", body: `{"realmId":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/create-jwt", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestClientReportsIssuerErrors(t *testing.T) {
	server, _ := setupServer(t)
	client := NewClient(server.URL, "Jelli Wallet")

	_, err := client.IssueToken(context.Background(), "realm-z", interfaces.Identity{Email: "user@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestVerifyRejectsExpiredAndForged(t *testing.T) {
	authority := newTestAuthority()
	expired := NewAuthority(DefaultIssuer, -time.Minute, map[string][]byte{"realm-a": bytes.Repeat([]byte{0xaa}, 32)})

	token, _, err := expired.IssueToken("realm-a", "subject")
	require.NoError(t, err)
	_, err = authority.Verify(token, "realm-a")
	assert.Error(t, err)

	forger := NewAuthority(DefaultIssuer, time.Hour, map[string][]byte{"realm-a": bytes.Repeat([]byte{0x01}, 32)})
	token, _, err = forger.IssueToken("realm-a", "subject")
	require.NoError(t, err)
	_, err = authority.Verify(token, "realm-a")
	assert.Error(t, err)

	_, _, err = authority.IssueToken("realm-z", "subject")
	assert.ErrorIs(t, err, ErrUnknownRealm)
}
