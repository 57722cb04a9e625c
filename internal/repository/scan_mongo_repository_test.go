package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/noah-isme/attendance-engine/internal/models"
)

func TestScanMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	ts := time.Date(2024, 3, 4, 10, 2, 0, 0, time.UTC)
	newScan := func() *models.BluetoothScan {
		return &models.BluetoothScan{
			DeviceID:       "dev-1",
			SessionID:      "sess-1",
			RoundID:        "round-1",
			Timestamp:      ts,
			ScannedDevices: models.ScannedDevices{{MacAddress: "AA:BB:CC:DD:EE:FF", RSSI: -65}},
		}
	}

	mt.Run("insert", func(mt *mtest.T) {
		repo := NewScanMongoRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		inserted, err := repo.Insert(context.Background(), newScan())
		require.NoError(mt, err)
		assert.True(mt, inserted)
	})

	mt.Run("duplicate is ignored", func(mt *mtest.T) {
		repo := NewScanMongoRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		inserted, err := repo.Insert(context.Background(), newScan())
		require.NoError(mt, err)
		assert.False(mt, inserted)
	})

	mt.Run("list window", func(mt *mtest.T) {
		repo := NewScanMongoRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "scan-1"},
			{Key: "device_id", Value: "dev-1"},
			{Key: "session_id", Value: "sess-1"},
			{Key: "round_id", Value: "round-1"},
			{Key: "timestamp", Value: primitive.NewDateTimeFromTime(ts)},
			{Key: "scanned_devices", Value: bson.A{
				bson.D{{Key: "mac_address", Value: "AA:BB:CC:DD:EE:FF"}, {Key: "rssi", Value: -65}},
			}},
		}))

		scans, err := repo.ListBySessionWindow(context.Background(), "sess-1", ts.Add(-time.Minute), ts.Add(time.Minute))
		require.NoError(mt, err)
		require.Len(mt, scans, 1)
		assert.Equal(mt, "dev-1", scans[0].DeviceID)
		require.Len(mt, scans[0].ScannedDevices, 1)
		assert.Equal(mt, -65, scans[0].ScannedDevices[0].RSSI)
	})
}
