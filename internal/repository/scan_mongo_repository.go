package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// ScanMongoRepository stores Bluetooth scans as documents.
type ScanMongoRepository struct {
	coll *mongo.Collection
}

// NewScanMongoRepository constructs the repository over the given collection.
func NewScanMongoRepository(coll *mongo.Collection) *ScanMongoRepository {
	return &ScanMongoRepository{coll: coll}
}

// EnsureIndexes creates the idempotency and window lookup indexes.
func (r *ScanMongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "device_id", Value: 1}, {Key: "session_id", Value: 1}, {Key: "round_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("scan_idempotency"),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("scan_session_window"),
		},
	})
	if err != nil {
		return fmt.Errorf("create scan indexes: %w", err)
	}
	return nil
}

// Insert appends a scan. A duplicate idempotency key is reported as not inserted.
func (r *ScanMongoRepository) Insert(ctx context.Context, scan *models.BluetoothScan) (bool, error) {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now().UTC()
	}
	if _, err := r.coll.InsertOne(ctx, scan); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert bluetooth scan document: %w", err)
	}
	return true, nil
}

// ListBySessionWindow returns scans of a session with timestamp in [from, to].
func (r *ScanMongoRepository) ListBySessionWindow(ctx context.Context, sessionID string, from, to time.Time) ([]models.BluetoothScan, error) {
	filter := bson.M{
		"session_id": sessionID,
		"timestamp":  bson.M{"$gte": from, "$lte": to},
	}
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find bluetooth scans: %w", err)
	}
	defer cur.Close(ctx)

	var scans []models.BluetoothScan
	if err := cur.All(ctx, &scans); err != nil {
		return nil, fmt.Errorf("decode bluetooth scans: %w", err)
	}
	return scans, nil
}
