package models

import "time"

// DeviceStatus tracks whether a registered device may report scans.
type DeviceStatus string

const (
	DeviceStatusActive  DeviceStatus = "active"
	DeviceStatusRevoked DeviceStatus = "revoked"
)

// Device is a user's registered Bluetooth device. A user has at most one active device.
type Device struct {
	ID           string       `db:"id" json:"id"`
	UserID       string       `db:"user_id" json:"user_id"`
	MacAddress   string       `db:"mac_address" json:"mac_address"`
	Status       DeviceStatus `db:"status" json:"status"`
	RegisteredAt time.Time    `db:"registered_at" json:"registered_at"`
}

// ParticipantRole distinguishes the anchor from students in a session directory.
type ParticipantRole string

const (
	ParticipantAnchor  ParticipantRole = "anchor"
	ParticipantStudent ParticipantRole = "student"
)

// Participant is one device allowed to take part in a session's proximity graph.
type Participant struct {
	UserID     string          `json:"user_id"`
	DeviceID   string          `json:"device_id"`
	MacAddress string          `json:"mac_address"`
	Role       ParticipantRole `json:"role"`
}

// ParticipantDirectory is the session whitelist of devices.
type ParticipantDirectory struct {
	SessionID      string        `json:"session_id"`
	AnchorDeviceID string        `json:"anchor_device_id"`
	Participants   []Participant `json:"participants"`
}

// ByMac indexes participants by normalized MAC address.
func (d *ParticipantDirectory) ByMac() map[string]Participant {
	out := make(map[string]Participant, len(d.Participants))
	for _, p := range d.Participants {
		if mac, ok := NormalizeMAC(p.MacAddress); ok {
			out[mac] = p
		}
	}
	return out
}

// ByDevice indexes participants by device id.
func (d *ParticipantDirectory) ByDevice() map[string]Participant {
	out := make(map[string]Participant, len(d.Participants))
	for _, p := range d.Participants {
		out[p.DeviceID] = p
	}
	return out
}

// DeviceForUser returns the device of a student or the anchor.
func (d *ParticipantDirectory) DeviceForUser(userID string) (Participant, bool) {
	for _, p := range d.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}
