package store

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetgate/internal/logging"
	"fleetgate/internal/model"
)

// Open opens a Postgres connection using the given DSN. Caller must call
// Close when done.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("store: empty database DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Postgres implements Store over database/sql with the pgx driver.
type Postgres struct {
	db            *sql.DB
	migrationsDir string
	log           *logging.Logger
	ready         atomic.Bool
}

func NewPostgres(db *sql.DB, migrationsDir string, log *logging.Logger) *Postgres {
	return &Postgres{db: db, migrationsDir: migrationsDir, log: log}
}

// Init runs the schema migration inside a single transaction. The gateway
// must not open listeners when Init fails.
func (s *Postgres) Init(ctx context.Context) error {
	applied, err := runMigrations(ctx, s.db, s.migrationsDir)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.log.Info("applied %d migration script(s)", applied)
	}
	s.ready.Store(true)
	return nil
}

func (s *Postgres) checkReady() error {
	if !s.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

const deviceColumns = "id, thumbprint, subject, issuer, approved, enabled, group_id, created_at"

func (s *Postgres) GetDeviceByCertificateThumbprint(ctx context.Context, thumbprint string) (*model.Device, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE thumbprint = $1", thumbprint)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SaveDevice inserts the device when ID is zero, updates it otherwise, and
// returns the persisted row.
func (s *Postgres) SaveDevice(ctx context.Context, device *model.Device) (*model.Device, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	saved := *device
	if device.ID == 0 {
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO devices (thumbprint, subject, issuer, approved, enabled, group_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			device.Thumbprint, device.Subject, device.Issuer,
			device.Approved, device.Enabled, device.GroupID, device.CreatedAt,
		).Scan(&saved.ID)
		if err != nil {
			return nil, err
		}
		return &saved, nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices
		 SET thumbprint = $2, subject = $3, issuer = $4, approved = $5, enabled = $6, group_id = $7
		 WHERE id = $1`,
		device.ID, device.Thumbprint, device.Subject, device.Issuer,
		device.Approved, device.Enabled, device.GroupID,
	)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Postgres) AddDeviceStateLog(ctx context.Context, entry *model.DeviceStateLog) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_state_logs
		 (device_id, received_at, temperature, usage, free_space,
		  input1, input2, input3, output1, output2, output3,
		  remaining_seconds, device_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.DeviceID, entry.ReceivedAt, entry.Temperature, entry.Usage, entry.FreeSpace,
		entry.Input1, entry.Input2, entry.Input3, entry.Output1, entry.Output2, entry.Output3,
		entry.RemainingSeconds, entry.DeviceTime,
	)
	return err
}

func (s *Postgres) GetUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, enabled, created_at
		 FROM users WHERE username = $1 AND password_hash = $2`,
		username, passwordHash,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Enabled, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) ListDevices(ctx context.Context) ([]model.Device, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*model.Device, error) {
	var d model.Device
	err := row.Scan(&d.ID, &d.Thumbprint, &d.Subject, &d.Issuer,
		&d.Approved, &d.Enabled, &d.GroupID, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
