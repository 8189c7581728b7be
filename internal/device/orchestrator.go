// Package device runs the session and authentication workflow for the
// unattended device population. Devices never exchange credentials: identity
// is the client-certificate thumbprint, and a session authenticates iff the
// matching device row is approved and enabled.
package device

import (
	"context"
	"crypto/x509"
	"time"

	"fleetgate/internal/logging"
	"fleetgate/internal/model"
	"fleetgate/internal/protocol"
	"fleetgate/internal/registry"
	"fleetgate/internal/session"
	"fleetgate/internal/store"
)

// Registry is the transport capability the orchestrator drives. Attach is
// only called once a session reaches the authenticated state, so frames from
// not-yet-approved devices are never parsed.
type Registry interface {
	Attach(id int64) bool
}

// Session tracks one device connection.
type Session struct {
	session.State
	Device *model.Device // nil until identity resolution succeeds
}

type Orchestrator struct {
	reg      Registry
	store    store.Store
	log      *logging.Logger
	sessions *session.Table[*Session]
	now      func() time.Time
}

func New(reg Registry, st store.Store, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		reg:      reg,
		store:    st,
		log:      log,
		sessions: session.NewTable[*Session](),
		now:      time.Now,
	}
}

// Sessions exposes the session table for the reaper.
func (o *Orchestrator) Sessions() *session.Table[*Session] {
	return o.sessions
}

// OnConnected records the session and attempts identity resolution. A
// session that cannot resolve stays unauthenticated and is left for the
// reaper; the gateway never disconnects a device proactively.
func (o *Orchestrator) OnConnected(id int64, cert *x509.Certificate, remoteIP string) {
	now := o.now()
	thumbprint := registry.Thumbprint(cert)
	o.sessions.Put(id, &Session{State: session.State{
		ID:         id,
		AcceptedAt: now,
		RemoteIP:   remoteIP,
		Thumbprint: thumbprint,
	}})

	if remoteIP == "" {
		o.log.Warn("connection %d: no remote address, leaving unauthenticated", id)
		return
	}
	if thumbprint == "" {
		o.log.Warn("connection %d: no client certificate, leaving unauthenticated", id)
		return
	}

	o.resolve(id, thumbprint, cert, now)
}

func (o *Orchestrator) resolve(id int64, thumbprint string, cert *x509.Certificate, now time.Time) {
	ctx := context.Background()

	dev, err := o.store.GetDeviceByCertificateThumbprint(ctx, thumbprint)
	if err != nil {
		o.log.Error("connection %d: device lookup failed: %v", id, err)
		return
	}

	if dev == nil {
		// First contact: provision the row unapproved and leave the
		// session for the reaper.
		created, err := o.store.SaveDevice(ctx, &model.Device{
			Thumbprint: thumbprint,
			Subject:    cert.Subject.String(),
			Issuer:     cert.Issuer.String(),
			Approved:   false,
			Enabled:    false,
			CreatedAt:  now,
		})
		if err != nil {
			o.log.Error("connection %d: device provisioning failed: %v", id, err)
			return
		}
		o.log.Info("connection %d: new device %d (thumbprint %s) awaiting approval", id, created.ID, thumbprint)
		return
	}

	if !dev.Usable() {
		o.log.Info("connection %d: device %d not approved/enabled, leaving unauthenticated", id, dev.ID)
		return
	}

	// The lookup may have outlasted the connection; tolerate an evicted
	// session.
	ok := o.sessions.With(id, func(s *Session) {
		s.Auth = true
		s.Device = dev
	})
	if !ok {
		return
	}
	if !o.reg.Attach(id) {
		o.log.Warn("connection %d: closed before attach", id)
		return
	}
	o.log.Info("connection %d: device %d authenticated", id, dev.ID)
}

// OnMessage parses an envelope and dispatches on its type. Malformed frames
// and persistence failures are logged and dropped; the connection stays open.
func (o *Orchestrator) OnMessage(id int64, data []byte) {
	now := o.now()
	var deviceID int64
	ok := o.sessions.With(id, func(s *Session) {
		s.Received++
		s.LastMessageAt = now
		if s.Device != nil {
			deviceID = s.Device.ID
		}
	})
	if !ok {
		return
	}

	msg, err := protocol.DecodeDeviceMessage(data)
	if err != nil {
		o.log.Warn("connection %d: dropping frame: %v", id, err)
		return
	}

	switch body := msg.Body.(type) {
	case *protocol.DeviceStatusBody:
		o.ingestStatus(id, deviceID, body, now)
	default:
		// Unknown types from devices are silently ignored.
	}
}

func (o *Orchestrator) ingestStatus(id, deviceID int64, body *protocol.DeviceStatusBody, now time.Time) {
	if deviceID == 0 {
		return
	}
	entry := &model.DeviceStateLog{
		DeviceID:         deviceID,
		ReceivedAt:       now,
		Temperature:      body.Temperature,
		Usage:            body.Usage,
		FreeSpace:        body.FreeSpace,
		Input1:           body.Input1,
		Input2:           body.Input2,
		Input3:           body.Input3,
		Output1:          body.Output1,
		Output2:          body.Output2,
		Output3:          body.Output3,
		RemainingSeconds: body.RemainingSeconds,
		DeviceTime:       body.DeviceTime,
	}
	if err := o.store.AddDeviceStateLog(context.Background(), entry); err != nil {
		// Telemetry loss is non-fatal.
		o.log.Error("connection %d: state log append failed: %v", id, err)
	}
}

func (o *Orchestrator) OnClosed(id int64) {
	o.sessions.Delete(id)
}

func (o *Orchestrator) OnError(id int64, err error) {
	o.log.Warn("connection %d: socket error: %v", id, err)
	o.sessions.Delete(id)
}
