package outbound

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	acks     []Ack
	timeouts []string
	errs     []SendError
}

func (r *recorder) OnAck(a Ack)             { r.acks = append(r.acks, a) }
func (r *recorder) OnTimeout(id string)     { r.timeouts = append(r.timeouts, id) }
func (r *recorder) OnSendError(e SendError) { r.errs = append(r.errs, e) }

func newTestTracker(t *testing.T) (*Tracker, *clock.Fake, *recorder) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	tr := NewTracker(fc, DefaultAckTimeout, zaptest.NewLogger(t))
	rec := &recorder{}
	tr.AddListener(rec)
	return tr, fc, rec
}

func TestTrackAssignsTempID(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	msg := &wire.ChatMessage{ChatID: "chat_a_b"}
	id := tr.Track(msg)

	assert.True(t, strings.HasPrefix(id, "temp_1700000000000_"))
	assert.Equal(t, id, msg.TempMessageID)
	assert.True(t, tr.IsPending(id))
}

func TestTempIDsUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTempID(now)
		require.False(t, seen[id], "duplicate temp id %s", id)
		seen[id] = true
	}
}

func TestAckRoundTrip(t *testing.T) {
	tr, fc, rec := newTestTracker(t)
	tr.Track(&wire.ChatMessage{TempMessageID: "temp_1"})

	require.NoError(t, tr.HandleFrame(&wire.MessageAck{TempMessageID: "temp_1", MessageID: "m_42", ChatID: "chat_a_b"}))

	require.Len(t, rec.acks, 1)
	assert.Equal(t, "m_42", rec.acks[0].MessageID)
	assert.False(t, rec.acks[0].Late)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, fc.Pending(), "no pending timer remains")

	fc.Advance(time.Minute)
	assert.Empty(t, rec.timeouts)
}

func TestTimeoutFiresExactlyOnce(t *testing.T) {
	tr, fc, rec := newTestTracker(t)
	tr.Track(&wire.ChatMessage{TempMessageID: "temp_2"})

	fc.Advance(29 * time.Second)
	assert.Empty(t, rec.timeouts)

	fc.Advance(time.Second)
	assert.Equal(t, []string{"temp_2"}, rec.timeouts)
	assert.False(t, tr.IsPending("temp_2"))

	fc.Advance(5 * time.Minute)
	assert.Len(t, rec.timeouts, 1)
}

func TestLateAckIsForwardedButNotResurrected(t *testing.T) {
	tr, fc, rec := newTestTracker(t)
	tr.Track(&wire.ChatMessage{TempMessageID: "temp_2"})
	fc.Advance(DefaultAckTimeout)

	require.NoError(t, tr.HandleFrame(&wire.MessageAck{TempMessageID: "temp_2", MessageID: "m_7"}))

	require.Len(t, rec.acks, 1)
	assert.True(t, rec.acks[0].Late)
	assert.False(t, tr.IsPending("temp_2"))
	assert.Equal(t, 0, fc.Pending())
}

func TestRetrackReplacesTimer(t *testing.T) {
	tr, fc, rec := newTestTracker(t)
	tr.Track(&wire.ChatMessage{TempMessageID: "temp_3"})
	fc.Advance(20 * time.Second)
	tr.Track(&wire.ChatMessage{TempMessageID: "temp_3"})

	assert.Equal(t, 1, fc.Pending(), "at most one live timeout per temp id")

	fc.Advance(15 * time.Second)
	assert.Empty(t, rec.timeouts)
	fc.Advance(15 * time.Second)
	assert.Equal(t, []string{"temp_3"}, rec.timeouts)
}

func TestServerErrorRemovesPending(t *testing.T) {
	tr, fc, rec := newTestTracker(t)
	tr.Track(&wire.ChatMessage{TempMessageID: "temp_4"})

	require.NoError(t, tr.HandleFrame(&wire.Error{TempMessageID: "temp_4", Content: "blocked"}))
	require.Len(t, rec.errs, 1)
	assert.Equal(t, "blocked", rec.errs[0].Reason)

	fc.Advance(time.Minute)
	assert.Empty(t, rec.timeouts)

	require.NoError(t, tr.HandleFrame(&wire.Error{TempMessageID: "temp_4"}))
	assert.Len(t, rec.errs, 1)
}

func TestUntrackAndStop(t *testing.T) {
	tr, fc, rec := newTestTracker(t)
	tr.Track(&wire.ChatMessage{TempMessageID: "a"})
	tr.Track(&wire.ChatMessage{TempMessageID: "b"})

	assert.True(t, tr.Untrack("a"))
	assert.False(t, tr.Untrack("a"))
	tr.Stop()

	fc.Advance(time.Minute)
	assert.Empty(t, rec.timeouts)
	assert.Equal(t, 0, tr.Len())
}
