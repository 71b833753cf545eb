package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hearlab/listentest/internal/models"
)

// fakeConn captures written frames in place of a websocket connection.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) lastType(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], &env))
	return env.Type
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func waitForFrames(t *testing.T, c *fakeConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.frameCount() >= n },
		time.Second, time.Millisecond, "expected %d frames", n)
}

func TestRegisterAssignsUniqueIDs(t *testing.T) {
	r := New(zap.NewNop())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		p := r.Register(&fakeConn{}, models.RoleRespondent)
		require.NotEmpty(t, p.ID)
		require.False(t, seen[p.ID], "duplicate id %s", p.ID)
		seen[p.ID] = true
	}
	assert.Equal(t, 50, r.RespondentCount())
}

func TestControllersCarryNoStatsRecord(t *testing.T) {
	r := New(zap.NewNop())
	p := r.Register(&fakeConn{}, models.RoleController)

	assert.Equal(t, models.RoleController, p.Role)
	assert.Equal(t, 0, r.RespondentCount())
}

func TestBroadcastTargetsRoles(t *testing.T) {
	r := New(zap.NewNop())
	ctrlConn, respConn := &fakeConn{}, &fakeConn{}
	r.Register(ctrlConn, models.RoleController)
	r.Register(respConn, models.RoleRespondent)

	r.Broadcast(TargetControllers, models.Envelope{Type: "stats-update"})
	waitForFrames(t, ctrlConn, 1)
	assert.Equal(t, "stats-update", ctrlConn.lastType(t))
	assert.Zero(t, respConn.frameCount())

	r.Broadcast(TargetRespondents, models.Envelope{Type: "stage-update"})
	waitForFrames(t, respConn, 1)
	assert.Equal(t, "stage-update", respConn.lastType(t))
	assert.Equal(t, 1, ctrlConn.frameCount())

	r.Broadcast(TargetAll, models.Envelope{Type: "test-start"})
	waitForFrames(t, ctrlConn, 2)
	waitForFrames(t, respConn, 2)
}

func TestBroadcastSkipsFailingConnection(t *testing.T) {
	r := New(zap.NewNop())
	broken := &fakeConn{fail: true}
	healthy := &fakeConn{}
	r.Register(broken, models.RoleRespondent)
	r.Register(healthy, models.RoleRespondent)

	r.Broadcast(TargetAll, models.Envelope{Type: "stage-update"})

	waitForFrames(t, healthy, 1)
	assert.Equal(t, "stage-update", healthy.lastType(t))
}

func TestSendToTargetsOneParticipant(t *testing.T) {
	r := New(zap.NewNop())
	c1, c2 := &fakeConn{}, &fakeConn{}
	p1 := r.Register(c1, models.RoleRespondent)
	r.Register(c2, models.RoleRespondent)

	r.SendTo(p1.ID, models.Envelope{Type: "answer-result"})
	waitForFrames(t, c1, 1)
	assert.Equal(t, "answer-result", c1.lastType(t))
	assert.Zero(t, c2.frameCount())

	// unknown id is a silent no-op
	r.SendTo("nope", models.Envelope{Type: "answer-result"})
}

func TestUnregisterDropsConnection(t *testing.T) {
	r := New(zap.NewNop())
	conn := &fakeConn{}
	p := r.Register(conn, models.RoleRespondent)

	r.Unregister(p.ID)

	assert.Nil(t, r.Participant(p.ID))
	assert.Equal(t, 0, r.RespondentCount())
	require.Eventually(t, conn.isClosed, time.Second, time.Millisecond)

	// a second unregister of the same id is harmless
	r.Unregister(p.ID)
}

func TestParticipantLookup(t *testing.T) {
	r := New(zap.NewNop())
	p := r.Register(&fakeConn{}, models.RoleRespondent)

	got := r.Participant(p.ID)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ID)
	assert.Nil(t, r.Participant("missing"))
}

func TestForEachRespondentVisitsOnlyRespondents(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(&fakeConn{}, models.RoleController)
	r.Register(&fakeConn{}, models.RoleRespondent)
	r.Register(&fakeConn{}, models.RoleRespondent)

	var visited int
	r.ForEachRespondent(func(p *models.Participant) {
		visited++
		assert.Equal(t, models.RoleRespondent, p.Role)
	})
	assert.Equal(t, 2, visited)
}
