package dispatch

import (
	"errors"
	"testing"

	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingHandler struct {
	calls []wire.Frame
}

func (h *countingHandler) HandleFrame(f wire.Frame) error {
	h.calls = append(h.calls, f)
	return nil
}

func TestIdempotentRegistration(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	h := &countingHandler{}
	r.AddMessageHandler(wire.TypeMessageAck, h)
	r.AddMessageHandler(wire.TypeMessageAck, h)

	r.Dispatch([]byte(`{"type":"MESSAGE_ACK","tempMessageId":"temp_1","messageId":"m1"}`))

	assert.Len(t, h.calls, 1)
}

func TestHandlerFuncIdentity(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	n := 0
	h := HandlerFunc(func(wire.Frame) error { n++; return nil })
	r.AddMessageHandler(wire.TypeHeartbeatAck, h)
	r.AddMessageHandler(wire.TypeHeartbeatAck, h)

	r.DispatchFrame(&wire.HeartbeatAck{})
	assert.Equal(t, 1, n)

	r.RemoveMessageHandler(wire.TypeHeartbeatAck, h)
	r.DispatchFrame(&wire.HeartbeatAck{})
	assert.Equal(t, 1, n)
}

func TestRegistrationOrderAndIsolation(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	var order []string
	r.AddMessageHandler(wire.TypeChatMessage, HandlerFunc(func(wire.Frame) error {
		order = append(order, "first")
		panic("boom")
	}))
	r.AddMessageHandler(wire.TypeChatMessage, HandlerFunc(func(wire.Frame) error {
		order = append(order, "second")
		return errors.New("handler failed")
	}))
	r.AddMessageHandler(wire.TypeChatMessage, HandlerFunc(func(wire.Frame) error {
		order = append(order, "third")
		return nil
	}))

	require.NotPanics(t, func() {
		r.Dispatch([]byte(`{"type":"CHAT_MESSAGE","chatId":"chat_a_b","senderId":"b"}`))
	})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRoutesByType(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	acks := &countingHandler{}
	msgs := &countingHandler{}
	r.AddMessageHandler(wire.TypeMessageAck, acks)
	r.AddMessageHandler(wire.TypeChatMessage, msgs)

	r.Dispatch([]byte(`{"type":"CHAT_MESSAGE"}`))
	r.Dispatch([]byte(`{"type":"CHAT_MESSAGE"}`))
	r.Dispatch([]byte(`{"type":"MESSAGE_ACK"}`))

	assert.Len(t, msgs.calls, 2)
	assert.Len(t, acks.calls, 1)
	_, ok := msgs.calls[0].(*wire.ChatMessage)
	assert.True(t, ok)
}

func TestUnknownAndMalformedAreDropped(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	h := &countingHandler{}
	r.AddMessageHandler(wire.Type("MATCH_FOUND"), h)

	require.NotPanics(t, func() {
		r.Dispatch([]byte(`{"type":"MATCH_FOUND"}`))
		r.Dispatch([]byte(`garbage`))
		r.Dispatch([]byte(`{}`))
	})
	assert.Empty(t, h.calls)
}

func TestConnectionHandlers(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	var got []status.State
	var info Info
	h := ConnectionFunc(func(s status.State, i Info) {
		got = append(got, s)
		info = i
	})
	r.AddConnectionHandler(h)
	r.AddConnectionHandler(h)
	r.AddConnectionHandler(ConnectionFunc(func(status.State, Info) { panic("listener bug") }))

	r.NotifyConnection(status.Connecting, Info{Attempt: 1})
	r.NotifyConnection(status.Connected, Info{WasReconnecting: true})

	assert.Equal(t, []status.State{status.Connecting, status.Connected}, got)
	assert.True(t, info.WasReconnecting)

	r.RemoveConnectionHandler(h)
	r.NotifyConnection(status.Disconnected, Info{})
	assert.Len(t, got, 2)
}

func TestHandlerMayRegisterDuringDispatch(t *testing.T) {
	r := New(zaptest.NewLogger(t))
	late := &countingHandler{}
	r.AddMessageHandler(wire.TypeConnected, HandlerFunc(func(wire.Frame) error {
		r.AddMessageHandler(wire.TypeConnected, late)
		return nil
	}))

	r.DispatchFrame(&wire.Connected{})
	assert.Empty(t, late.calls)
	r.DispatchFrame(&wire.Connected{})
	assert.Len(t, late.calls, 1)
}
