package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-engine/internal/models"
)

func TestScanRepositoryInsertIsIdempotent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScanRepository(db)

	ts := time.Date(2024, 3, 4, 10, 2, 0, 0, time.UTC)
	scan := &models.BluetoothScan{
		DeviceID:       "dev-1",
		SessionID:      "sess-1",
		RoundID:        "round-1",
		Timestamp:      ts,
		ScannedDevices: models.ScannedDevices{{MacAddress: "AA:BB:CC:DD:EE:FF", RSSI: -60}},
	}

	query := regexp.QuoteMeta("ON CONFLICT (device_id, session_id, round_id, timestamp) DO NOTHING")
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), scan)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *scan
	dup.ID = ""
	inserted, err = repo.Insert(context.Background(), &dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRepositoryListBySessionWindow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScanRepository(db)

	from := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	to := from.Add(15 * time.Minute)
	rows := sqlmock.NewRows([]string{"id", "device_id", "submitter_user_id", "session_id", "round_id", "timestamp", "scanned_devices", "created_at"}).
		AddRow("scan-1", "dev-1", "stu-1", "sess-1", "round-1", from.Add(time.Minute), []byte(`[{"macAddress":"AA:BB:CC:DD:EE:FF","rssi":-65}]`), from)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bluetooth_scans WHERE session_id = $1 AND timestamp BETWEEN $2 AND $3")).
		WithArgs("sess-1", from, to).
		WillReturnRows(rows)

	scans, err := repo.ListBySessionWindow(context.Background(), "sess-1", from, to)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	require.Len(t, scans[0].ScannedDevices, 1)
	assert.Equal(t, -65, scans[0].ScannedDevices[0].RSSI)
	require.NoError(t, mock.ExpectationsWereMet())
}
