// Package filter gates a consumer behind a boolean expression evaluated per
// collision event, e.g. `normal.Y > 0.7 && color.R > 0.5`.
package filter

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/pkg/errors"
)

// env is the evaluation environment. Field names are the identifiers usable
// in expressions.
type env struct {
	Position collision.Vector3 `expr:"position"`
	Normal   collision.Vector3 `expr:"normal"`
	Color    collision.Color   `expr:"color"`
}

// Compile checks that source is a boolean expression over position, normal and color.
func Compile(source string) (*vm.Program, error) {
	program, err := expr.Compile(source, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFilter, err)
	}
	return program, nil
}

// Sink forwards events matching the expression to next.
type Sink struct {
	source  string
	program *vm.Program
	next    collision.Consumer
	log     *zap.Logger

	mu      sync.Mutex
	passed  uint64
	dropped uint64
}

// New compiles source and wraps next.
func New(source string, next collision.Consumer, log *zap.Logger) (*Sink, error) {
	program, err := Compile(source)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		source:  source,
		program: program,
		next:    next,
		log:     log.With(zap.String("sink", "filter"), zap.String("expr", source)),
	}, nil
}

// Match evaluates the expression against one event.
func (s *Sink) Match(ev collision.Event) (bool, error) {
	out, err := expr.Run(s.program, env{Position: ev.Position, Normal: ev.Normal, Color: ev.Color})
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (s *Sink) OnCollision(position, normal collision.Vector3, color collision.Color) {
	ok, err := s.Match(collision.Event{Position: position, Normal: normal, Color: color})
	if err != nil {
		s.log.Warn("filter evaluation failed", zap.Error(err))
	}
	s.mu.Lock()
	if ok {
		s.passed++
	} else {
		s.dropped++
	}
	s.mu.Unlock()
	if ok {
		s.next.OnCollision(position, normal, color)
	}
}

// Source returns the expression text.
func (s *Sink) Source() string { return s.source }

// Counts returns passed and dropped totals.
func (s *Sink) Counts() (passed, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passed, s.dropped
}
