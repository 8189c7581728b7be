package device

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"fleetgate/internal/logging"
	"fleetgate/internal/model"
	"fleetgate/internal/registry"
)

type fakeRegistry struct {
	attached []int64
}

func (f *fakeRegistry) Attach(id int64) bool {
	f.attached = append(f.attached, id)
	return true
}

type fakeStore struct {
	devices map[string]*model.Device
	saved   []*model.Device
	logs    []*model.DeviceStateLog
	nextID  int64

	lookupErr error
	saveErr   error
	logErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]*model.Device), nextID: 100}
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }

func (f *fakeStore) GetDeviceByCertificateThumbprint(ctx context.Context, thumbprint string) (*model.Device, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.devices[thumbprint], nil
}

func (f *fakeStore) SaveDevice(ctx context.Context, dev *model.Device) (*model.Device, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	if dev.ID == 0 {
		f.nextID++
		dev.ID = f.nextID
	}
	f.devices[dev.Thumbprint] = dev
	f.saved = append(f.saved, dev)
	return dev, nil
}

func (f *fakeStore) AddDeviceStateLog(ctx context.Context, entry *model.DeviceStateLog) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	return nil, nil
}

func (f *fakeStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	return nil, nil
}

func testCertificate(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "device-under-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert
}

func newTestOrchestrator() (*Orchestrator, *fakeRegistry, *fakeStore) {
	reg := &fakeRegistry{}
	st := newFakeStore()
	o := New(reg, st, logging.New("device/test"))
	return o, reg, st
}

func TestFirstContactProvisionsUnapprovedDevice(t *testing.T) {
	o, reg, st := newTestOrchestrator()
	cert := testCertificate(t)

	o.OnConnected(1, cert, "10.0.0.1")

	if len(st.saved) != 1 {
		t.Fatalf("saved %d devices, want 1", len(st.saved))
	}
	created := st.saved[0]
	if created.Approved || created.Enabled {
		t.Fatalf("new device must start unapproved and disabled: %+v", created)
	}
	if created.Thumbprint != registry.Thumbprint(cert) {
		t.Fatalf("thumbprint mismatch: %q", created.Thumbprint)
	}
	if created.Subject == "" || created.Issuer == "" {
		t.Fatalf("expected subject and issuer recorded: %+v", created)
	}

	if len(reg.attached) != 0 {
		t.Fatalf("unapproved device must not attach")
	}
	assertAuth(t, o, 1, false)
}

func TestUsableDeviceAuthenticatesAndAttaches(t *testing.T) {
	o, reg, st := newTestOrchestrator()
	cert := testCertificate(t)
	thumbprint := registry.Thumbprint(cert)
	st.devices[thumbprint] = &model.Device{ID: 7, Thumbprint: thumbprint, Approved: true, Enabled: true}

	o.OnConnected(1, cert, "10.0.0.1")

	if len(reg.attached) != 1 || reg.attached[0] != 1 {
		t.Fatalf("attached = %v, want [1]", reg.attached)
	}
	assertAuth(t, o, 1, true)

	var devID int64
	o.Sessions().With(1, func(s *Session) {
		if s.Device != nil {
			devID = s.Device.ID
		}
	})
	if devID != 7 {
		t.Fatalf("session device = %d, want 7", devID)
	}
}

func TestKnownButUnusableDeviceStaysUnauthenticated(t *testing.T) {
	for name, dev := range map[string]*model.Device{
		"approved only": {ID: 7, Approved: true, Enabled: false},
		"enabled only":  {ID: 7, Approved: false, Enabled: true},
		"neither":       {ID: 7},
	} {
		t.Run(name, func(t *testing.T) {
			o, reg, st := newTestOrchestrator()
			cert := testCertificate(t)
			dev.Thumbprint = registry.Thumbprint(cert)
			st.devices[dev.Thumbprint] = dev

			o.OnConnected(1, cert, "10.0.0.1")

			if len(reg.attached) != 0 {
				t.Fatalf("unusable device must not attach")
			}
			if len(st.saved) != 0 {
				t.Fatalf("known device must not be re-provisioned")
			}
			assertAuth(t, o, 1, false)
		})
	}
}

func TestMissingCertificateOrAddressStaysUnauthenticated(t *testing.T) {
	o, reg, _ := newTestOrchestrator()

	o.OnConnected(1, nil, "10.0.0.1")
	o.OnConnected(2, testCertificate(t), "")

	if len(reg.attached) != 0 {
		t.Fatalf("attached = %v, want none", reg.attached)
	}
	assertAuth(t, o, 1, false)
	assertAuth(t, o, 2, false)
	if o.Sessions().Len() != 2 {
		t.Fatalf("both sessions must be tracked for the reaper")
	}
}

func TestLookupFailureStaysUnauthenticated(t *testing.T) {
	o, reg, st := newTestOrchestrator()
	st.lookupErr = errors.New("db down")

	o.OnConnected(1, testCertificate(t), "10.0.0.1")

	if len(reg.attached) != 0 {
		t.Fatalf("lookup failure must not attach")
	}
	assertAuth(t, o, 1, false)
}

func TestStatusMessagePersistsStateLog(t *testing.T) {
	o, _, st := newTestOrchestrator()
	cert := testCertificate(t)
	thumbprint := registry.Thumbprint(cert)
	st.devices[thumbprint] = &model.Device{ID: 7, Thumbprint: thumbprint, Approved: true, Enabled: true}

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return fixed }

	o.OnConnected(1, cert, "10.0.0.1")
	o.OnMessage(1, []byte(`{
		"header": {"type": "device-status"},
		"body": {"temperature": 19.25, "output2": false, "deviceTime": 1700000000}
	}`))

	if len(st.logs) != 1 {
		t.Fatalf("persisted %d state logs, want 1", len(st.logs))
	}
	entry := st.logs[0]
	if entry.DeviceID != 7 {
		t.Fatalf("DeviceID = %d, want 7", entry.DeviceID)
	}
	if !entry.ReceivedAt.Equal(fixed) {
		t.Fatalf("ReceivedAt = %v, want %v", entry.ReceivedAt, fixed)
	}
	if entry.Temperature == nil || *entry.Temperature != 19.25 {
		t.Fatalf("Temperature = %v", entry.Temperature)
	}
	if entry.Output2 == nil || *entry.Output2 {
		t.Fatalf("Output2 = %v, want false", entry.Output2)
	}
	if entry.DeviceTime == nil || *entry.DeviceTime != 1700000000 {
		t.Fatalf("DeviceTime = %v", entry.DeviceTime)
	}
	if entry.Usage != nil || entry.Input1 != nil {
		t.Fatalf("absent fields must stay nil: %+v", entry)
	}

	var counted int64
	o.Sessions().With(1, func(s *Session) { counted = s.Received })
	if counted != 1 {
		t.Fatalf("Received = %d, want 1", counted)
	}
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	o, _, st := newTestOrchestrator()
	cert := testCertificate(t)
	thumbprint := registry.Thumbprint(cert)
	st.devices[thumbprint] = &model.Device{ID: 7, Thumbprint: thumbprint, Approved: true, Enabled: true}

	o.OnConnected(1, cert, "10.0.0.1")
	o.OnMessage(1, []byte("not json"))
	o.OnMessage(1, []byte(`{"header": {"type": "device-reboot"}, "body": {}}`))

	if len(st.logs) != 0 {
		t.Fatalf("no state logs expected, got %d", len(st.logs))
	}

	var counted int64
	o.Sessions().With(1, func(s *Session) { counted = s.Received })
	if counted != 2 {
		t.Fatalf("Received = %d, want 2", counted)
	}
}

func TestStateLogFailureKeepsSessionAlive(t *testing.T) {
	o, _, st := newTestOrchestrator()
	cert := testCertificate(t)
	thumbprint := registry.Thumbprint(cert)
	st.devices[thumbprint] = &model.Device{ID: 7, Thumbprint: thumbprint, Approved: true, Enabled: true}
	st.logErr = errors.New("insert failed")

	o.OnConnected(1, cert, "10.0.0.1")
	o.OnMessage(1, []byte(`{"header": {"type": "device-status"}, "body": {"usage": 0.5}}`))

	if o.Sessions().Len() != 1 {
		t.Fatalf("session must survive a persistence failure")
	}
	assertAuth(t, o, 1, true)
}

func TestClosedAndErroredSessionsAreRemoved(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	cert := testCertificate(t)

	o.OnConnected(1, cert, "10.0.0.1")
	o.OnConnected(2, cert, "10.0.0.2")

	o.OnClosed(1)
	o.OnError(2, errors.New("reset"))

	if o.Sessions().Len() != 0 {
		t.Fatalf("sessions remain after close: %d", o.Sessions().Len())
	}
}

func assertAuth(t *testing.T, o *Orchestrator, id int64, want bool) {
	t.Helper()
	var got bool
	ok := o.Sessions().With(id, func(s *Session) { got = s.Auth })
	if !ok {
		t.Fatalf("session %d not found", id)
	}
	if got != want {
		t.Fatalf("session %d auth = %v, want %v", id, got, want)
	}
}
