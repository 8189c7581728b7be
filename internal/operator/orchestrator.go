// Package operator runs the session and authentication workflow for the
// human operator population. Operators are reachable before authentication:
// the protocol requires the server-info push and the auth-request exchange on
// a fresh connection. Everything else is gated by an allow-list.
package operator

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync/atomic"
	"time"

	"fleetgate/internal/auth"
	"fleetgate/internal/logging"
	"fleetgate/internal/protocol"
	"fleetgate/internal/registry"
	"fleetgate/internal/session"
	"fleetgate/internal/store"
)

// tokenRandomLen is the number of random hex characters in an issued token.
const tokenRandomLen = 20

// Sender is the transport capability the orchestrator drives.
type Sender interface {
	Attach(id int64) bool
	SendJSON(payload any, id int64) int
}

// Session tracks one operator connection.
type Session struct {
	session.State
	Username    string
	Token       string
	Permissions []string // reserved, currently always empty

	UnauthMessages  int64
	UnknownMessages int64
}

// anonymousTypes are the message types processed before authentication.
var anonymousTypes = map[string]bool{
	protocol.TypeOperatorAuthRequest: true,
}

type Orchestrator struct {
	reg      Sender
	store    store.Store
	log      *logging.Logger
	sessions *session.Table[*Session]
	now      func() time.Time

	// tokenSeq makes issued tokens globally unique within this instance
	// even if the random suffix were to collide.
	tokenSeq atomic.Int64
}

func New(reg Sender, st store.Store, log *logging.Logger) *Orchestrator {
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

// OnConnected records the session, attaches immediately and pushes the
// server-info reply. A socket that already lost its remote address is left
// unattached for the reaper.
func (o *Orchestrator) OnConnected(id int64, cert *x509.Certificate, remoteIP string) {
	o.sessions.Put(id, &Session{State: session.State{
		ID:         id,
		AcceptedAt: o.now(),
		RemoteIP:   remoteIP,
		Thumbprint: registry.Thumbprint(cert),
	}})

	if remoteIP == "" {
		o.log.Warn("connection %d: no remote address, leaving unattached", id)
		return
	}

	if !o.reg.Attach(id) {
		o.log.Warn("connection %d: closed before attach", id)
		return
	}
	if o.reg.SendJSON(protocol.NewServerInfoReply(protocol.ServerVersion), id) > 0 {
		o.sessions.With(id, func(s *Session) { s.Sent++ })
	}
}

// OnMessage enforces the anonymous allow-list, then dispatches by type.
func (o *Orchestrator) OnMessage(id int64, data []byte) {
	now := o.now()
	var authenticated bool
	ok := o.sessions.With(id, func(s *Session) {
		s.Received++
		authenticated = s.Auth
	})
	if !ok {
		return
	}

	msg, err := protocol.DecodeOperatorMessage(data)
	if err != nil {
		o.log.Warn("connection %d: dropping frame: %v", id, err)
		return
	}

	if !anonymousTypes[msg.Header.Type] && !authenticated {
		o.sessions.With(id, func(s *Session) { s.UnauthMessages++ })
		return
	}

	o.sessions.With(id, func(s *Session) { s.LastMessageAt = now })

	switch body := msg.Body.(type) {
	case *protocol.AuthRequestBody:
		o.handleAuthRequest(id, msg.Header, body)
	default:
		o.sessions.With(id, func(s *Session) { s.UnknownMessages++ })
	}
}

func (o *Orchestrator) handleAuthRequest(id int64, header protocol.Header, body *protocol.AuthRequestBody) {
	user, err := o.store.GetUser(context.Background(), body.Username, body.PasswordHash)
	if err != nil {
		o.log.Error("connection %d: user lookup failed: %v", id, err)
		o.reply(id, protocol.NewAuthReply(header, false, ""))
		return
	}
	if user == nil || !user.Enabled {
		o.log.Info("connection %d: rejected credentials for %q", id, body.Username)
		o.reply(id, protocol.NewAuthReply(header, false, ""))
		return
	}

	token, err := o.mintToken()
	if err != nil {
		o.log.Error("connection %d: token mint failed: %v", id, err)
		o.reply(id, protocol.NewAuthReply(header, false, ""))
		return
	}

	ok := o.sessions.With(id, func(s *Session) {
		s.Auth = true
		s.Username = user.Username
		s.Token = token
	})
	if !ok {
		return
	}
	o.log.Info("connection %d: operator %q authenticated", id, user.Username)
	o.reply(id, protocol.NewAuthReply(header, true, token))
}

// mintToken concatenates a strictly increasing counter with fresh random hex.
// The counter guarantees uniqueness, the suffix unpredictability. Tokens are
// bearer values for the issuing session only.
func (o *Orchestrator) mintToken() (string, error) {
	seq := o.tokenSeq.Add(1)
	suffix, err := auth.RandomHex(tokenRandomLen)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s", seq, suffix), nil
}

func (o *Orchestrator) reply(id int64, payload protocol.Outbound) {
	if o.reg.SendJSON(payload, id) > 0 {
		o.sessions.With(id, func(s *Session) { s.Sent++ })
	}
}

func (o *Orchestrator) OnClosed(id int64) {
	o.sessions.Delete(id)
}

func (o *Orchestrator) OnError(id int64, err error) {
	o.log.Warn("connection %d: socket error: %v", id, err)
	o.sessions.Delete(id)
}
