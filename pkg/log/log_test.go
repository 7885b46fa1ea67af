package log

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		Timestamp:  time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		SessionID:  "4f5a9e1c-0d6b-4c3a-9f2e-7b8d1a2c3e4f",
		Direction:  DirectionOut,
		Layer:      LayerMessage,
		Category:   CategoryMessage,
		RemoteAddr: "127.0.0.1:49152",
		Message: &MessageEvent{
			MessageID:   42,
			MsgType:     "CONFIRMABLE",
			Code:        "POST",
			URI:         "c/jf",
			PayloadSize: 3,
		},
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	want := sampleEvent()

	data, err := EncodeEvent(want)
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)

	assert.True(t, got.Timestamp.Equal(want.Timestamp), "timestamp: got %v, want %v", got.Timestamp, want.Timestamp)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.Direction, got.Direction)
	assert.Equal(t, want.Layer, got.Layer)
	assert.Equal(t, want.Category, got.Category)
	assert.Equal(t, want.RemoteAddr, got.RemoteAddr)
	require.NotNil(t, got.Message)
	assert.Equal(t, *want.Message, *got.Message)
	assert.Nil(t, got.StateChange)
	assert.Nil(t, got.Error)
}

func TestEventCBORDeterministic(t *testing.T) {
	a, err := EncodeEvent(sampleEvent())
	require.NoError(t, err)
	b, err := EncodeEvent(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStateChangeAndErrorPayloads(t *testing.T) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Direction: DirectionNone,
		Layer:     LayerSession,
		Category:  CategoryStateChange,
		StateChange: &StateChangeEvent{
			OldState: "DISCOVERING",
			NewState: "CONNECTING",
			Reason:   "candidate aa:bb:cc:dd:ee:ff:00:11",
		},
	}
	data, err := EncodeEvent(event)
	require.NoError(t, err)
	got, err := DecodeEvent(data)
	require.NoError(t, err)
	require.NotNil(t, got.StateChange)
	assert.Equal(t, *event.StateChange, *got.StateChange)

	event = Event{
		Timestamp: time.Now().UTC(),
		Direction: DirectionNone,
		Layer:     LayerChannel,
		Category:  CategoryError,
		Error:     &ErrorEventData{Message: "truncated TLV", Context: "entrust validation"},
	}
	data, err = EncodeEvent(event)
	require.NoError(t, err)
	got, err = DecodeEvent(data)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, *event.Error, *got.Error)
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	logger.Log(sampleEvent())
	logger.Log(Event{
		Timestamp: time.Now().UTC(),
		Direction: DirectionNone,
		Layer:     LayerSession,
		Category:  CategoryStateChange,
		StateChange: &StateChangeEvent{
			OldState: "IDLE",
			NewState: "DISCOVERING",
		},
	})
	require.NoError(t, logger.Close())

	// Logging after Close is a silent no-op.
	logger.Log(sampleEvent())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	events, err := ReadAll(f)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, CategoryMessage, events[0].Category)
	assert.Equal(t, CategoryStateChange, events[1].Category)
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(sampleEvent())
	out := buf.String()
	assert.Contains(t, out, "uri=c/jf")
	assert.Contains(t, out, "direction=OUT")
	assert.Contains(t, out, "msg_id=42")

	buf.Reset()
	adapter.Log(Event{
		Category: CategoryError,
		Error:    &ErrorEventData{Message: "boom", Context: "test"},
	})
	out = buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "error_msg=boom")
}

func TestMultiLogger(t *testing.T) {
	var a, b recordingLogger
	MultiLogger{&a, &b}.Log(sampleEvent())

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, a.events[0].SessionID, b.events[0].SessionID)
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "IN", DirectionIn.String())
	assert.Equal(t, "UNKNOWN", Direction(9).String())
	assert.Equal(t, "SESSION", LayerSession.String())
	assert.Equal(t, "STATE_CHANGE", CategoryStateChange.String())

	// Every defined value has a real name.
	for _, s := range []string{
		DirectionOut.String(), DirectionNone.String(),
		LayerChannel.String(), LayerMessage.String(),
		CategoryMessage.String(), CategoryError.String(),
	} {
		assert.False(t, strings.Contains(s, "UNKNOWN"), "got %q", s)
	}
}

type recordingLogger struct {
	events []Event
}

func (l *recordingLogger) Log(event Event) {
	l.events = append(l.events, event)
}
