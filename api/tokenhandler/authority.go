package tokenhandler

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultIssuer = "seedless-token-issuer"

var ErrUnknownRealm = errors.New("unknown realm")

// Authority signs and verifies per-realm HS256 tokens. Each realm has its own
// key, so a realm can only verify tokens minted for it.
type Authority struct {
	issuer string
	ttl    time.Duration
	keys   map[string][]byte
}

func NewAuthority(issuer string, ttl time.Duration, keys map[string][]byte) *Authority {
	return &Authority{issuer: issuer, ttl: ttl, keys: keys}
}

// Subject derives the stable realm-side user key from the app name and normalized email.
func Subject(appName, normalizedEmail string) string {
	sum := sha256.Sum256([]byte(appName + ":" + normalizedEmail))
	return hex.EncodeToString(sum[:])
}

func (a *Authority) HasRealm(realmID string) bool {
	_, ok := a.keys[realmID]
	return ok
}

func (a *Authority) IssueToken(realmID, subject string) (string, time.Time, error) {
	key, ok := a.keys[realmID]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrUnknownRealm, realmID)
	}

	now := time.Now()
	exp := now.Add(a.ttl)
	claims := jwt.MapClaims{
		"iss": a.issuer,
		"sub": subject,
		"aud": realmID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"jti": randomJTI(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	return signed, exp, err
}

// Verify checks a token minted for realmID and returns its subject.
func (a *Authority) Verify(tokenStr, realmID string) (string, error) {
	key, ok := a.keys[realmID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRealm, realmID)
	}

	keyFunc := func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}

	tok, err := jwt.Parse(tokenStr, keyFunc,
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(realmID),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := tok.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

func randomJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
