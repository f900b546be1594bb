package logsink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nmxmxh/collision-readback/internal/collision"
)

func TestSink_LogsAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := New(zap.New(core))

	s.OnCollision(collision.Vector3{X: 1}, collision.Vector3{Y: 1}, collision.Color{G: 1})

	entries := logs.FilterMessage("collision").All()
	require.Len(t, entries, 1)
	assert.Equal(t, collision.Vector3{X: 1}, entries[0].ContextMap()["position"])
	assert.Equal(t, "log", entries[0].ContextMap()["sink"])
}

func TestSink_SilentAboveDebug(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	New(zap.New(core)).OnCollision(collision.Vector3{}, collision.Vector3{}, collision.Color{})
	assert.Zero(t, logs.Len())
}
