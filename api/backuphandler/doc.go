// Package backuphandler serves the backup persistence protocol:
//
//	PUT /v1/apps/{app_id}/backups/{uid}/wallets/{wallet_id}   Idempotency-Key required
//	GET /v1/apps/{app_id}/backups/{uid}/wallets/{wallet_id}   404 when missing
//	GET /v1/apps/{app_id}/backups/{uid}/wallets               [{wallet_id, created_at}]
//
// storage.DataAPIBackend is the matching client.
package backuphandler
