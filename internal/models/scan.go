package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Plausible RSSI range in dBm.
const (
	MinRSSI = -100
	MaxRSSI = 0
)

// ScannedDevice is one peer observed by a reporting device.
type ScannedDevice struct {
	MacAddress string `json:"macAddress" bson:"mac_address"`
	RSSI       int    `json:"rssi" bson:"rssi"`
}

// ScannedDevices is persisted as a JSONB array.
type ScannedDevices []ScannedDevice

// Value marshals the observations to JSON for persistence.
func (s ScannedDevices) Value() (driver.Value, error) {
	if s == nil {
		s = ScannedDevices{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal scanned devices: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the observation list.
func (s *ScannedDevices) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ScannedDevices", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, s)
}

// BluetoothScan is one stored observation report. Idempotent on (device, session, round, timestamp).
type BluetoothScan struct {
	ID              string         `db:"id" json:"id" bson:"_id"`
	DeviceID        string         `db:"device_id" json:"device_id" bson:"device_id"`
	SubmitterUserID string         `db:"submitter_user_id" json:"submitter_user_id" bson:"submitter_user_id"`
	SessionID       string         `db:"session_id" json:"session_id" bson:"session_id"`
	RoundID         string         `db:"round_id" json:"round_id" bson:"round_id"`
	Timestamp       time.Time      `db:"timestamp" json:"timestamp" bson:"timestamp"`
	ScannedDevices  ScannedDevices `db:"scanned_devices" json:"scanned_devices" bson:"scanned_devices"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at" bson:"created_at"`
}

// ValidRSSI reports whether v is physically plausible.
func ValidRSSI(v int) bool {
	return v >= MinRSSI && v <= MaxRSSI
}

// NormalizeMAC accepts six hex octets separated by ':' or '-' and returns the upper-case colon form.
func NormalizeMAC(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if len(s) != 17 {
		return "", false
	}
	sep := s[2]
	if sep != ':' && sep != '-' {
		return "", false
	}
	out := make([]byte, 0, 17)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i%3 == 2 {
			if c != sep {
				return "", false
			}
			out = append(out, ':')
			continue
		}
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			out = append(out, c)
		case c >= 'a' && c <= 'f':
			out = append(out, c-'a'+'A')
		default:
			return "", false
		}
	}
	return string(out), true
}
