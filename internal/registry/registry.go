// Package registry terminates WebSocket connections for one client
// population and presents them as identity-keyed send/close operations plus
// lifecycle events. It makes no trust decisions: client certificates are
// extracted and handed to the event handler as-is.
package registry

import (
	"crypto/x509"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fleetgate/internal/logging"
)

const (
	maxPayload   int64         = 5 * 1024 * 1024
	writeTimeout time.Duration = 10 * time.Second
)

// Handler receives lifecycle events for one population. OnConnected fires for
// every accepted socket; OnMessage, OnClosed and OnError fire only for
// connections that were attached via Attach.
type Handler interface {
	OnConnected(id int64, cert *x509.Certificate, remoteIP string)
	OnMessage(id int64, data []byte)
	OnClosed(id int64)
	OnError(id int64, err error)
}

// Registry owns the identity<->socket tables for one listener. Identities are
// opaque int64s, strictly increasing from 1, never reused within the process.
type Registry struct {
	log    *logging.Logger
	binary bool

	upgrader websocket.Upgrader
	handler  Handler

	mu     sync.RWMutex
	nextID int64
	conns  map[int64]*conn
}

type conn struct {
	id int64
	ws *websocket.Conn

	sendMu sync.Mutex

	attached atomic.Bool
	closed   atomic.Bool
}

type Options struct {
	// BinaryFrames sends JSON payloads as binary frames instead of text.
	BinaryFrames bool
}

func New(log *logging.Logger, opts Options) *Registry {
	return &Registry{
		log:    log,
		binary: opts.BinaryFrames,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[int64]*conn),
	}
}

// SetHandler wires the event sink. Must be called before the listener starts
// accepting connections.
func (r *Registry) SetHandler(h Handler) {
	r.handler = h
}

// ServeHTTP upgrades the request, registers the socket under a fresh identity
// and emits OnConnected. Inbound frames are read but dropped until Attach.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	var cert *x509.Certificate
	if req.TLS != nil && len(req.TLS.PeerCertificates) > 0 {
		cert = req.TLS.PeerCertificates[0]
	}
	remoteIP := remoteIPOf(req)

	c := &conn{ws: ws}
	r.mu.Lock()
	r.nextID++
	c.id = r.nextID
	r.conns[c.id] = c
	r.mu.Unlock()

	if r.handler != nil {
		r.handler.OnConnected(c.id, cert, remoteIP)
	}

	r.readLoop(c)
}

func (r *Registry) readLoop(c *conn) {
	var readErr error
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		// Frames from unattached connections are never parsed.
		if !c.attached.Load() {
			continue
		}
		if r.handler != nil {
			r.handler.OnMessage(c.id, data)
		}
	}

	wasAttached := c.attached.Load()
	// Deregister before emitting so a handler reacting to the event never
	// finds a dangling identity. If the identity is already gone the close
	// was initiated through CloseConnection and no event is owed.
	if !r.deregister(c.id) {
		c.close()
		return
	}
	c.close()

	if !wasAttached || r.handler == nil {
		return
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		r.handler.OnClosed(c.id)
	} else {
		r.handler.OnError(c.id, readErr)
	}
}

// Attach idempotently starts delivering message/close/error events for the
// identity. Returns false if the identity is unknown (already closed).
func (r *Registry) Attach(id int64) bool {
	r.mu.RLock()
	c := r.conns[id]
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	c.attached.Store(true)
	return true
}

// SendJSON serializes payload and sends it to the identity. Returns the
// number of bytes handed to the socket, or 0 if the identity is unknown, the
// socket is closed, or the write failed. Write failures are logged.
func (r *Registry) SendJSON(payload any, id int64) int {
	r.mu.RLock()
	c := r.conns[id]
	r.mu.RUnlock()
	if c == nil || c.closed.Load() {
		return 0
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("connection %d: marshal payload: %v", id, err)
		return 0
	}
	if err := c.write(data, r.binary); err != nil {
		r.log.Warn("connection %d: send failed: %v", id, err)
		return 0
	}
	return len(data)
}

// SendJSONToAll fans payload out to every registered identity and returns the
// total number of bytes sent.
func (r *Registry) SendJSONToAll(payload any) int {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	total := 0
	for _, id := range ids {
		total += r.SendJSON(payload, id)
	}
	return total
}

// CloseConnection closes and deregisters the identity. Safe to call on an
// already-closed identity.
func (r *Registry) CloseConnection(id int64) {
	r.mu.Lock()
	c := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if c != nil {
		c.close()
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) deregister(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

func (c *conn) write(data []byte, binary bool) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func remoteIPOf(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
