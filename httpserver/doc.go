/*
Package httpserver runs the HTTP services of the backup system: the backup
data API, a realm and the token issuer.

A Server wraps one or more RouteRegistrar handlers with request logging and
adds the operational endpoints every binary exposes:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready
  - GET /undrain - Mark server as ready

Prometheus metrics are served on a separate listener when MetricsAddr is set.

# Example Usage

	store, _ := storage.NewFactory(logger).Fallback(ctx, primaryURI, secondaryURI)
	server := httpserver.New(cfg, backuphandler.NewHandler(store, logger))
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
