package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causalchat/chat-delivery-service/internal/domain/clock"
	"github.com/causalchat/chat-delivery-service/internal/domain/model"
)

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"text":"hello"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"frobnicate"}`))

	var unknown *UnknownKindError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Kind("frobnicate"), unknown.Kind)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	f, err := Decode([]byte(`{"type":"join","username":"alice","color":"red"}`))
	require.NoError(t, err)

	join, ok := f.(*Join)
	require.True(t, ok)
	assert.Equal(t, "alice", join.Username)
}

func TestDecodeDisambiguatesChatDirections(t *testing.T) {
	// No hub stamp: the inbound form.
	f, err := Decode([]byte(`{"type":"chat","text":"hi"}`))
	require.NoError(t, err)
	inbound, ok := f.(*Chat)
	require.True(t, ok)
	assert.Equal(t, "hi", inbound.Text)

	// Stamped with an id: the outbound form.
	f, err = Decode([]byte(`{"type":"chat","id":"m1","user_id":"u1","text":"hi","vector_clock":[["u1",1]]}`))
	require.NoError(t, err)
	outbound, ok := f.(*ChatOut)
	require.True(t, ok)
	assert.Equal(t, "m1", outbound.ID)
	assert.Equal(t, clock.Vector{"u1": 1}, outbound.Clock.Vector())
}

func TestEncodeStampsType(t *testing.T) {
	data, err := Encode(&Ping{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))

	data, err = Encode(&System{Message: "alice joined", Timestamp: 42})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "system", got["type"])
	assert.Equal(t, "alice joined", got["message"])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []Frame{
		&Join{Username: "alice", RoomID: "main"},
		&Typing{IsTyping: true},
		&RequestHistory{},
		&GetUsers{},
		&Init{ClientID: "c1", ServerTime: 99, DefaultRoom: "main"},
		&UserList{Users: []User{{ID: "c1", Username: "alice", Clock: ClockPairs{{ID: "c1", Count: 2}}}}, Timestamp: 7},
		&MessageDelivered{MessageID: "m1", Timestamp: 7},
		&Pong{},
	}
	for _, f := range frames {
		data, err := Encode(f)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestClockPairsWireFormat(t *testing.T) {
	pairs := PairsFromVector(clock.Vector{"bob": 2, "alice": 1})

	data, err := json.Marshal(pairs)
	require.NoError(t, err)
	assert.JSONEq(t, `[["alice",1],["bob",2]]`, string(data))

	var back ClockPairs
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, clock.Vector{"alice": 1, "bob": 2}, back.Vector())
}

func TestClockPairsRejectsWrongShape(t *testing.T) {
	var p ClockPairs
	assert.Error(t, json.Unmarshal([]byte(`{"alice":1}`), &p))
	assert.Error(t, json.Unmarshal([]byte(`[[1,"alice"]]`), &p))
}

func TestChatMessageConversion(t *testing.T) {
	msg := &model.Message{
		ID:         "m1",
		SenderID:   "u1",
		SenderName: "alice",
		Text:       "hello",
		Clock:      clock.Vector{"u1": 1, "u2": 3},
		SentAt:     1000,
		RoomID:     "main",
		Meta:       model.Metadata{SimulateDelay: true, DelayMS: 250},
	}

	frame := ChatFromMessage(msg)
	data, err := Encode(frame)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	out, ok := decoded.(*ChatOut)
	require.True(t, ok)

	assert.Equal(t, msg, out.Message())
}

func TestChatFromMessageOmitsEmptyMetadata(t *testing.T) {
	frame := ChatFromMessage(&model.Message{ID: "m1", SenderID: "u1", Clock: clock.Vector{"u1": 1}})
	require.Nil(t, frame.Meta)

	data, err := Encode(frame)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "metadata")
}

func TestDecodeErrorsAreNotMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"chat","text":5}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingType))
}
