/*
Package api holds the HTTP surface of the backup system.

  - backuphandler - the backup data API (PUT/GET/list of backup records)
  - realmhandler - one PIN-gated realm and its HTTP client
  - tokenhandler - the per-realm token issuer and its HTTP client

HTTPServerConfig configures the shared server in package httpserver.
*/
package api
