// Package logsink logs every collision event at debug level.
package logsink

import (
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
)

type Sink struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{log: log.With(zap.String("sink", "log"))}
}

func (s *Sink) OnCollision(position, normal collision.Vector3, color collision.Color) {
	if ce := s.log.Check(zap.DebugLevel, "collision"); ce != nil {
		ce.Write(
			zap.Any("position", position),
			zap.Any("normal", normal),
			zap.Any("color", color))
	}
}
