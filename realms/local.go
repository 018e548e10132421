package realms

import (
	"context"

	"github.com/ruteri/seedless-backup/interfaces"
)

// TokenVerifier resolves a realm token to the subject it was issued for.
type TokenVerifier interface {
	Verify(token, realmID string) (subject string, err error)
}

// LocalConn is an in-process interfaces.RealmConn backed directly by an Oracle.
type LocalConn struct {
	oracle   *Oracle
	verifier TokenVerifier
}

func NewLocalConn(oracle *Oracle, verifier TokenVerifier) *LocalConn {
	return &LocalConn{oracle: oracle, verifier: verifier}
}

func (c *LocalConn) subject(token string) (string, error) {
	subject, err := c.verifier.Verify(token, c.oracle.RealmID())
	if err != nil {
		return "", ErrUnauthorized
	}
	return subject, nil
}

func (c *LocalConn) Register(ctx context.Context, token, secretID string, req *interfaces.RealmRegisterRequest) error {
	subject, err := c.subject(token)
	if err != nil {
		return err
	}
	return c.oracle.Register(subject, secretID, req)
}

func (c *LocalConn) Recover(ctx context.Context, token, secretID string, req *interfaces.RealmRecoverRequest) (*interfaces.RealmRecoverResponse, error) {
	subject, err := c.subject(token)
	if err != nil {
		return nil, err
	}
	return c.oracle.Recover(subject, secretID, req.PinProof)
}

func (c *LocalConn) Delete(ctx context.Context, token, secretID string) error {
	subject, err := c.subject(token)
	if err != nil {
		return err
	}
	return c.oracle.Delete(subject, secretID)
}
