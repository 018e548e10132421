package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/seedless-backup/interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultMongoCollection = "backups"

type mongoBackup struct {
	ID        string    `bson:"_id"`
	AppID     string    `bson:"app_id"`
	UID       string    `bson:"uid"`
	WalletID  string    `bson:"wallet_id"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	Record    []byte    `bson:"record"`
}

// MongoBackend stores backup records in a MongoDB collection, one document per wallet.
type MongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
	name   string
	log    *slog.Logger

	mu sync.Mutex
}

// NewMongoBackend connects to uri and verifies the connection with a ping.
func NewMongoBackend(ctx context.Context, uri, dbName, collName string, log *slog.Logger) (*MongoBackend, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if collName == "" {
		collName = DefaultMongoCollection
	}

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := cli.Database(dbName).Collection(collName)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "app_id", Value: 1}, {Key: "uid", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		log.Warn("Failed to create backup listing index", "err", err)
	}

	return &MongoBackend{
		client: cli,
		coll:   coll,
		name:   fmt.Sprintf("mongo-%s-%s", dbName, collName),
		log:    log,
	}, nil
}

func (m *MongoBackend) PutBackup(ctx context.Context, key interfaces.BackupKey, payload *interfaces.BackupPayload, idempotencyKey string) error {
	rec, err := newRecord(key, payload, idempotencyKey)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.find(ctx, key)
	if err != nil && !errors.Is(err, interfaces.ErrBackupNotFound) {
		return err
	}
	if isReplay(existing, rec) {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = m.coll.ReplaceOne(ctx,
		bson.M{"_id": key.String()},
		mongoBackup{
			ID:        key.String(),
			AppID:     key.AppID,
			UID:       key.UID,
			WalletID:  key.WalletID,
			CreatedAt: rec.Payload.CreatedAt,
			UpdatedAt: time.Now().UTC(),
			Record:    data,
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert backup: %w", err)
	}

	m.log.Debug("Stored backup in mongo", slog.String("key", key.String()))
	return nil
}

func (m *MongoBackend) ListBackups(ctx context.Context, appID, uid string) ([]interfaces.BackupSummary, error) {
	if err := validateListArgs(appID, uid); err != nil {
		return nil, err
	}

	cur, err := m.coll.Find(ctx,
		bson.M{"app_id": appID, "uid": uid},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer cur.Close(ctx)

	var docs []mongoBackup
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode backups: %w", err)
	}

	records := make([]*interfaces.BackupRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeMongoBackup(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return summarize(records), nil
}

func (m *MongoBackend) GetBackup(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	rec, err := m.find(ctx, key)
	if errors.Is(err, interfaces.ErrBackupNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (m *MongoBackend) Available(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.client.Ping(pctx, nil); err != nil {
		m.log.Debug("Mongo backend unavailable", "err", err)
		return false
	}
	return true
}

func (m *MongoBackend) Name() string {
	return m.name
}

func (m *MongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoBackend) find(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, error) {
	var doc mongoBackup
	err := m.coll.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backup: %w", err)
	}
	return decodeMongoBackup(doc)
}

func decodeMongoBackup(doc mongoBackup) (*interfaces.BackupRecord, error) {
	var rec interfaces.BackupRecord
	if err := json.Unmarshal(doc.Record, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", doc.ID, err)
	}
	return &rec, nil
}
