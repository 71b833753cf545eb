package registry

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearlab/listentest/internal/models"
)

// Target selects which connections a broadcast reaches.
type Target int

const (
	TargetAll Target = iota
	TargetControllers
	TargetRespondents
)

// Conn is the transport surface the registry needs. *websocket.Conn
// satisfies it; tests substitute a fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// textMessage mirrors websocket.TextMessage without importing the
// package here.
const textMessage = 1

// sendBuffer is how many pending frames a connection may queue before
// further messages to it are dropped.
const sendBuffer = 64

type client struct {
	participant *models.Participant
	conn        Conn
	send        chan []byte
	closeOnce   sync.Once
}

// close stops the writer pump. Safe to call from any goroutine.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Registry maps live connections to participant records, partitioned by
// role so role-targeted broadcast never scans the other set.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*client
	respondents map[string]*client
	log         *zap.Logger
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		controllers: make(map[string]*client),
		respondents: make(map[string]*client),
		log:         log,
	}
}

// Register assigns a fresh id to the connection, starts its writer pump
// and returns the new participant record. Controllers carry no answer
// statistics.
func (r *Registry) Register(conn Conn, role models.Role) *models.Participant {
	r.mu.Lock()
	id := r.freshIDLocked()
	p := &models.Participant{
		ID:       id,
		Role:     role,
		JoinedAt: time.Now(),
	}
	c := &client{
		participant: p,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
	}
	r.setLocked(id, role, c)
	r.mu.Unlock()

	go r.writePump(c)

	r.log.Info("participant registered",
		zap.String("participant_id", id),
		zap.String("role", string(role)))
	return p
}

// Unregister removes the live connection mapping. Statistics already
// folded by the stats engine are unaffected.
func (r *Registry) Unregister(participantID string) {
	r.mu.Lock()
	c := r.getLocked(participantID)
	if c != nil {
		delete(r.controllers, participantID)
		delete(r.respondents, participantID)
	}
	r.mu.Unlock()

	if c == nil {
		return
	}
	c.close()
	r.log.Info("participant unregistered", zap.String("participant_id", participantID))
}

// Participant returns the live record for an id, or nil.
func (r *Registry) Participant(participantID string) *models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c := r.getLocked(participantID); c != nil {
		return c.participant
	}
	return nil
}

// ForEachRespondent visits every live respondent record. The session
// is the only writer of participant counters, so visiting under the
// read lock is safe.
func (r *Registry) ForEachRespondent(fn func(p *models.Participant)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.respondents {
		fn(c.participant)
	}
}

// RespondentCount reports how many answering participants are live.
func (r *Registry) RespondentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.respondents)
}

// Broadcast serializes the message once and queues it on every matching
// connection. A stuck or failed connection is logged and skipped; it
// never aborts delivery to the others.
func (r *Registry) Broadcast(target Target, msg models.Envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("broadcast marshal failed", zap.String("msg_type", msg.Type), zap.Error(err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target == TargetAll || target == TargetControllers {
		for id, c := range r.controllers {
			r.enqueue(id, c, msg.Type, data)
		}
	}
	if target == TargetAll || target == TargetRespondents {
		for id, c := range r.respondents {
			r.enqueue(id, c, msg.Type, data)
		}
	}
}

// SendTo queues a message for a single participant, best effort.
func (r *Registry) SendTo(participantID string, msg models.Envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("send marshal failed", zap.String("msg_type", msg.Type), zap.Error(err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c := r.getLocked(participantID)
	if c == nil {
		return
	}
	r.enqueue(participantID, c, msg.Type, data)
}

// enqueue hands a frame to the connection's writer without ever
// blocking the caller. Callers hold r.mu, which orders every enqueue
// before the channel close in Unregister.
func (r *Registry) enqueue(id string, c *client, msgType string, data []byte) {
	select {
	case c.send <- data:
	default:
		r.log.Warn("send buffer full, dropping message",
			zap.String("participant_id", id),
			zap.String("msg_type", msgType))
	}
}

// writePump drains the send channel so a slow connection only stalls
// its own goroutine.
func (r *Registry) writePump(c *client) {
	for data := range c.send {
		if err := c.conn.WriteMessage(textMessage, data); err != nil {
			r.log.Warn("write failed",
				zap.String("participant_id", c.participant.ID),
				zap.Error(err))
		}
	}
	c.conn.Close()
}

func (r *Registry) getLocked(id string) *client {
	if c, ok := r.controllers[id]; ok {
		return c
	}
	return r.respondents[id]
}

func (r *Registry) setLocked(id string, role models.Role, c *client) {
	if role == models.RoleController {
		r.controllers[id] = c
	} else {
		r.respondents[id] = c
	}
}

// freshIDLocked generates a random id that does not collide with any
// currently-live one.
func (r *Registry) freshIDLocked() string {
	for {
		id := generateID()
		if r.getLocked(id) == nil {
			return id
		}
	}
}

// generateID returns a random 8-character hex code.
func generateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
