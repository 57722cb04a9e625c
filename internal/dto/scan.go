package dto

import (
	"time"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// ProcessScanDataMessage is the inbound queue payload reported by a device.
type ProcessScanDataMessage struct {
	DeviceID        string                 `json:"deviceId" validate:"required"`
	SubmitterUserID string                 `json:"submitterUserId" validate:"required"`
	SessionID       string                 `json:"sessionId" validate:"required"`
	ScannedDevices  []models.ScannedDevice `json:"scannedDevices"`
	Timestamp       time.Time              `json:"timestamp" validate:"required"`
}

// ScanAccepted acknowledges a queued scan.
type ScanAccepted struct {
	SessionID string    `json:"sessionId"`
	DeviceID  string    `json:"deviceId"`
	QueuedAt  time.Time `json:"queuedAt"`
}
