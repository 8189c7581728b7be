package model

import "time"

// Device is a field device identified by its client-certificate thumbprint.
type Device struct {
	ID         int64
	Thumbprint string // sha1 hex, lower-case, no separators; unique
	Subject    string
	Issuer     string
	Approved   bool
	Enabled    bool
	GroupID    *int64
	CreatedAt  time.Time
}

// Usable reports whether the device may reach the authenticated session state.
func (d *Device) Usable() bool {
	return d != nil && d.Approved && d.Enabled
}

// DeviceStateLog is one append-only telemetry snapshot. ReceivedAt is stamped
// by the gateway, DeviceTime is whatever clock the device reported.
type DeviceStateLog struct {
	ID               int64
	DeviceID         int64
	ReceivedAt       time.Time
	Temperature      *float64
	Usage            *float64
	FreeSpace        *float64
	Input1           *bool
	Input2           *bool
	Input3           *bool
	Output1          *bool
	Output2          *bool
	Output3          *bool
	RemainingSeconds *int64
	DeviceTime       *int64 // unix millis as reported by the device
}

// User is an operator account. PasswordHash is the client-side hash carried
// on the wire; it is compared for equality, never derived server-side.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
}
