package realms

import (
	"log/slog"

	"github.com/ruteri/seedless-backup/interfaces"
)

// Factory builds session-scoped clients over a fixed set of realm connections.
type Factory struct {
	cfg    *Config
	conns  map[string]interfaces.RealmConn
	issuer interfaces.TokenIssuer
	log    *slog.Logger
}

func NewFactory(cfg *Config, conns map[string]interfaces.RealmConn, issuer interfaces.TokenIssuer, log *slog.Logger) *Factory {
	return &Factory{cfg: cfg, conns: conns, issuer: issuer, log: log}
}

// ForSession returns a share store bound to identity that caches tokens in tokens.
func (f *Factory) ForSession(identity interfaces.Identity, tokens *TokenCache) (interfaces.ShareStore, error) {
	client, err := NewClient(f.cfg, f.conns, f.issuer, identity, tokens, f.log.With("uid", identity.UID))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Connect builds a connection per configured realm with dial.
func Connect(cfg *Config, dial func(RealmConfig) interfaces.RealmConn) map[string]interfaces.RealmConn {
	conns := make(map[string]interfaces.RealmConn, len(cfg.Realms))
	for _, realm := range cfg.Realms {
		conns[realm.ID] = dial(realm)
	}
	return conns
}
