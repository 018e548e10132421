// Package main (cmd/backupserver) serves the backup data API.
//
// Records are written to the primary backend and fall back to the secondary
// when the primary is unavailable; reads that miss on one backend are
// confirmed against the other. Both backends are given as URIs:
//
//	backupserver --primary-backup mongodb://db:27017/seedless \
//	             --secondary-backup s3://backups/seedless?region=eu-west-1
package main
