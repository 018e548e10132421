package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig is shared by the backup, realm and token servers.
type HTTPServerConfig struct {
	ListenAddr string

	// MetricsAddr serves Prometheus metrics. Empty disables the listener.
	MetricsAddr string

	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long Shutdown reports not-ready before closing
	// listeners, so load balancers stop sending new sessions.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}
