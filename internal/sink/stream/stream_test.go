package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/internal/gpubuffer"
	"github.com/nmxmxh/collision-readback/internal/readback"
	"github.com/nmxmxh/collision-readback/pkg/json"
	"github.com/nmxmxh/collision-readback/pkg/ws"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	types    []string
	payloads []interface{}
	err      error
}

func (r *recordingBroadcaster) Broadcast(eventType string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *recordingBroadcaster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

// blockingBroadcaster never returns until release is closed, like a peer
// whose TCP window is full.
type blockingBroadcaster struct {
	release chan struct{}
}

func (b *blockingBroadcaster) Broadcast(string, interface{}) error {
	<-b.release
	return nil
}

func runSink(t *testing.T, s *Sink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSink_SkipsEmptyFrames(t *testing.T) {
	b := &recordingBroadcaster{}
	s := New(b, nil)
	s.ObserveFrame(collision.Frame{Reported: 0})
	assert.Empty(t, s.queue)
}

func TestSink_PublishesFrame(t *testing.T) {
	b := &recordingBroadcaster{}
	frame := collision.Frame{
		Reported: 3,
		Events:   []collision.Event{{Position: collision.Vector3{X: 1}}, {Position: collision.Vector3{X: 2}}},
	}
	s := New(b, nil)
	runSink(t, s)
	s.ObserveFrame(frame)

	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 5*time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Equal(t, []string{EventType}, b.types)
	payload := b.payloads[0].(FramePayload)
	assert.Equal(t, uint32(3), payload.Reported)
	assert.Equal(t, uint32(1), payload.Truncated)
	assert.Equal(t, frame.Events, payload.Events)
}

func TestSink_BroadcastErrorIsSwallowed(t *testing.T) {
	b := &recordingBroadcaster{err: errors.New("closed")}
	s := New(b, nil)
	assert.NotPanics(t, func() {
		s.publish(collision.Frame{Reported: 1, Events: []collision.Event{{}}})
	})
	assert.Equal(t, Counts{Failed: 1}, s.Counts())
}

func TestSink_QueueFullDrops(t *testing.T) {
	s := New(&recordingBroadcaster{}, nil, WithQueueSize(1))
	frame := collision.Frame{Reported: 1, Events: []collision.Event{{}}}

	s.ObserveFrame(frame)
	s.ObserveFrame(frame)

	assert.Len(t, s.queue, 1)
	assert.Equal(t, uint64(1), s.Counts().Dropped)
}

func TestSink_StalledBroadcastDoesNotBlockFrameLoop(t *testing.T) {
	out := &blockingBroadcaster{release: make(chan struct{})}
	s := New(out, nil, WithQueueSize(1))
	runSink(t, s)
	t.Cleanup(func() { close(out.release) })

	buf := gpubuffer.New(nil, nil)
	require.NoError(t, buf.Initialize(2))
	layout, err := buf.Layout()
	require.NoError(t, err)
	sched := readback.New(buf, readback.NewFrameCopier(1), collision.NewDispatcher(nil),
		readback.WithFrameObserver(s.ObserveFrame))

	ev := collision.Event{Position: collision.Vector3{X: 1, Y: 2, Z: 3}, Normal: collision.Vector3{Y: 1}}
	for i := 0; i < 10; i++ {
		for off, w := range collision.Encode(layout, 1, []collision.Event{ev}) {
			require.NoError(t, buf.WriteWord(off, w))
		}

		done := make(chan error, 1)
		go func() { done <- sched.Tick(context.Background()) }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("tick %d blocked behind a stalled broadcast", i)
		}
	}

	assert.Equal(t, uint64(9), sched.Stats().Completed)
	assert.Positive(t, s.Counts().Dropped)
}

func TestSink_OverWebSocket(t *testing.T) {
	m := ws.NewManager(nil)
	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)

	ev := collision.Event{
		Position: collision.Vector3{X: 1, Y: 2, Z: 3},
		Normal:   collision.Vector3{Y: 1},
		Color:    collision.Color{R: 1, G: 0.5},
	}
	s := New(m, nil)
	runSink(t, s)
	s.ObserveFrame(collision.Frame{Reported: 1, Events: []collision.Event{ev}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string       `json:"type"`
		Payload FramePayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventType, msg.Type)
	assert.Equal(t, []collision.Event{ev}, msg.Payload.Events)
}
