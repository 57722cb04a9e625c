package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// ScanRepository is the Postgres-backed append-only store of Bluetooth scans.
type ScanRepository struct {
	db *sqlx.DB
}

// NewScanRepository constructs the repository.
func NewScanRepository(db *sqlx.DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Insert appends a scan. Duplicates of the idempotency key are ignored and reported as not inserted.
func (r *ScanRepository) Insert(ctx context.Context, scan *models.BluetoothScan) (bool, error) {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO bluetooth_scans (id, device_id, submitter_user_id, session_id, round_id, timestamp, scanned_devices, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (device_id, session_id, round_id, timestamp) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, scan.ID, scan.DeviceID, scan.SubmitterUserID, scan.SessionID, scan.RoundID, scan.Timestamp, scan.ScannedDevices, scan.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert bluetooth scan: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bluetooth scan rows affected: %w", err)
	}
	return rows == 1, nil
}

// ListBySessionWindow returns scans of a session with timestamp in [from, to].
func (r *ScanRepository) ListBySessionWindow(ctx context.Context, sessionID string, from, to time.Time) ([]models.BluetoothScan, error) {
	const query = `SELECT id, device_id, submitter_user_id, session_id, round_id, timestamp, scanned_devices, created_at
FROM bluetooth_scans WHERE session_id = $1 AND timestamp BETWEEN $2 AND $3 ORDER BY timestamp`
	var scans []models.BluetoothScan
	if err := r.db.SelectContext(ctx, &scans, query, sessionID, from, to); err != nil {
		return nil, fmt.Errorf("list bluetooth scans: %w", err)
	}
	return scans, nil
}
