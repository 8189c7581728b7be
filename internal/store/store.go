// Package store is the persistence contract behind the gateway: device
// identity and approval state, telemetry history and operator accounts,
// backed by Postgres behind a versioned schema-migration step.
package store

import (
	"context"
	"errors"

	"fleetgate/internal/model"
)

// ErrNotInitialized is returned by every operation invoked before Init.
var ErrNotInitialized = errors.New("store: Init has not been called")

// Store is the capability surface the orchestrators and the admin API use.
// Init must be called exactly once before any other operation; lookups
// return (nil, nil) for "not found" and an error only for database failures.
type Store interface {
	Init(ctx context.Context) error
	GetDeviceByCertificateThumbprint(ctx context.Context, thumbprint string) (*model.Device, error)
	SaveDevice(ctx context.Context, device *model.Device) (*model.Device, error)
	AddDeviceStateLog(ctx context.Context, entry *model.DeviceStateLog) error
	GetUser(ctx context.Context, username, passwordHash string) (*model.User, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
}
