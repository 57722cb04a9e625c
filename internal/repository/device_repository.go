package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// DeviceRepository reads registered devices.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs the repository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// ListActiveByUsers returns the active device of each listed user.
func (r *DeviceRepository) ListActiveByUsers(ctx context.Context, userIDs []string) ([]models.Device, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id, user_id, mac_address, status, registered_at FROM devices
WHERE status = ? AND user_id IN (?)`, models.DeviceStatusActive, userIDs)
	if err != nil {
		return nil, fmt.Errorf("build device query: %w", err)
	}
	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list active devices: %w", err)
	}
	return devices, nil
}

// FindByID returns a device by its ID.
func (r *DeviceRepository) FindByID(ctx context.Context, id string) (*models.Device, error) {
	const query = `SELECT id, user_id, mac_address, status, registered_at FROM devices WHERE id = $1`
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		return nil, err
	}
	return &device, nil
}
