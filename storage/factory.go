package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/seedless-backup/interfaces"
)

// Factory creates backup stores from URI strings and composes them into a
// fallback chain.
type Factory struct {
	log *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{log: logger}
}

// StoreFor creates a backup store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory://name - in-process store
//   - file:///absolute/path or file://./relative/path
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=http://minio:9000
//   - vault://[TOKEN@]host:port/mount/path[?tls=false]
//   - mongodb://... or mongodb+srv://... with the database as path and ?collection=
//   - http(s)://host[:port] - backup data API
func (f *Factory) StoreFor(ctx context.Context, locationURI string) (interfaces.BackupStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		name := u.Host
		if name == "" {
			name = "memory"
		}
		return NewMemoryStore(name), nil
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	case "mongodb", "mongodb+srv":
		return f.createMongoBackend(ctx, u)
	case "http", "https":
		return NewDataAPIBackend(u.String(), f.log), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// Fallback creates a FallbackStore from an ordered list of location URIs, the
// first being the primary. Unlike the store itself, a URI that fails to parse
// or connect is a configuration error.
func (f *Factory) Fallback(ctx context.Context, locationURIs ...string) (*FallbackStore, error) {
	backends := make([]interfaces.BackupStore, 0, len(locationURIs))
	for _, uri := range locationURIs {
		if uri == "" {
			continue
		}
		backend, err := f.StoreFor(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", redactURI(uri), err)
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no backup backends configured")
	}

	return NewFallbackStore(backends, f.log), nil
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (f *Factory) createS3Backend(u *url.URL) (interfaces.BackupStore, error) {
	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}

	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
		f.log.Debug("Using embedded S3 credentials")
	}

	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createVaultBackend creates a Vault KV v2 backend.
// URI format: vault://[TOKEN@]vault.example.com:8200/secret/seedless
// The first path segment is the mount, the rest the data path. TLS is used
// unless ?tls=false.
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.BackupStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in Vault URI", interfaces.ErrInvalidLocationURI)
	}

	mount, dataPath, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if mount == "" {
		mount = "secret"
	}
	if dataPath == "" {
		dataPath = "seedless"
	}

	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}

	var token string
	if u.User != nil {
		token = u.User.Username()
	}

	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, u.Host), mount, dataPath, token, f.log)
}

// createMongoBackend connects to MongoDB. The URI path names the database
// (default "seedless"); ?collection= overrides the collection.
func (f *Factory) createMongoBackend(ctx context.Context, u *url.URL) (interfaces.BackupStore, error) {
	dbName := strings.Trim(u.Path, "/")
	if dbName == "" {
		dbName = "seedless"
	}

	query := u.Query()
	collName := query.Get("collection")
	query.Del("collection")

	connURI := *u
	connURI.RawQuery = query.Encode()

	return NewMongoBackend(ctx, connURI.String(), dbName, collName, f.log)
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (f *Factory) createFileBackend(u *url.URL) (interfaces.BackupStore, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}

	return NewFileBackend(path, f.log)
}

func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}
