package flags

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/seedless-backup/api"
	"github.com/ruteri/seedless-backup/common"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String("log-service"),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// WaitForSignal blocks until SIGINT or SIGTERM.
func WaitForSignal(logger *slog.Logger) {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var RealmConfigFlag = &cli.StringFlag{
	Name:    "realm-config",
	EnvVars: []string{"SEEDLESS_REALM_CONFIG"},
	Usage:   "YAML file describing realms, thresholds and the token issuer",
}

var PrimaryBackupFlag = &cli.StringFlag{
	Name:    "primary-backup",
	EnvVars: []string{"SEEDLESS_PRIMARY_BACKUP"},
	Value:   "http://127.0.0.1:8080",
	Usage:   "primary backup backend URI (http(s)://, mongodb://, s3://, vault://, file://, memory://)",
}

var SecondaryBackupFlag = &cli.StringFlag{
	Name:    "secondary-backup",
	EnvVars: []string{"SEEDLESS_SECONDARY_BACKUP"},
	Usage:   "secondary backup backend URI, consulted when the primary is down or has no record",
}

var AppIDFlag = &cli.StringFlag{
	Name:  "app-id",
	Value: "jelli-wallet",
	Usage: "application namespace for backup records",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to report not-ready before shutting down",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

// ServerFlags returns the flags every server binary accepts.
func ServerFlags(service string, extra ...cli.Flag) []cli.Flag {
	out := append([]cli.Flag{ListenAddrFlag, LogServiceFlagFn(service)}, CommonFlags...)
	return append(out, extra...)
}

var RealmKeysFlag = &cli.StringSliceFlag{
	Name:     "realm-key",
	EnvVars:  []string{"SEEDLESS_REALM_KEYS"},
	Required: true,
	Usage:    "realm token signing key as realmId=hex (repeatable)",
}

var TokenIssuerFlag = &cli.StringFlag{
	Name:  "token-issuer",
	Value: "seedless-token-issuer",
	Usage: "issuer claim of realm tokens",
}

// ParseRealmKeys reads realmId=hexkey pairs. Keys must be at least 32 bytes.
func ParseRealmKeys(values []string) (map[string][]byte, error) {
	keys := make(map[string][]byte, len(values))
	for _, v := range values {
		id, encoded, ok := strings.Cut(v, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("realm key %q is not realmId=hex", redact(v))
		}
		key, err := hex.DecodeString(encoded)
		if err != nil || len(key) < 32 {
			return nil, fmt.Errorf("realm key for %s must be at least 32 hex-encoded bytes", id)
		}
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("duplicate realm key for %s", id)
		}
		keys[id] = key
	}
	return keys, nil
}

func redact(v string) string {
	if id, _, ok := strings.Cut(v, "="); ok {
		return id + "=..."
	}
	return "..."
}
