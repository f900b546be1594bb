// Package audio plays a spatialized impact sound for each collision event.
package audio

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
)

// Player plays a one-shot clip at a world position.
type Player interface {
	PlayAt(clip string, position collision.Vector3) error
}

// LogPlayer is a Player that only logs. It stands in where no audio device exists.
type LogPlayer struct {
	log *zap.Logger
}

func NewLogPlayer(log *zap.Logger) *LogPlayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPlayer{log: log}
}

func (p *LogPlayer) PlayAt(clip string, position collision.Vector3) error {
	p.log.Debug("play clip",
		zap.String("clip", clip),
		zap.Float32("x", position.X),
		zap.Float32("y", position.Y),
		zap.Float32("z", position.Z))
	return nil
}

// Sink plays Clip at every collision position. Failures are logged and
// counted; they never propagate into the dispatcher.
type Sink struct {
	Clip string

	player Player
	log    *zap.Logger

	mu     sync.Mutex
	played uint64
	failed uint64
}

func NewSink(clip string, player Player, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{Clip: clip, player: player, log: log.With(zap.String("sink", "audio"))}
}

func (s *Sink) OnCollision(position, _ collision.Vector3, _ collision.Color) {
	err := s.player.PlayAt(s.Clip, position)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed++
		s.log.Warn("impact sound failed", zap.String("clip", s.Clip), zap.Error(err))
		return
	}
	s.played++
}

// Counts returns played and failed totals.
func (s *Sink) Counts() (played, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played, s.failed
}
