// Package lifecycle owns the game state machine (setup → running → end),
// the game duration and the clock that ends games when time runs out.
package lifecycle

import (
	"errors"
	"time"

	"github.com/kasuganosora/escaperoom/server/model"
)

var (
	ErrInvalidState      = errors.New("invalid game state")
	ErrInvalidTransition = errors.New("invalid game state transition")
	ErrGameEnded         = errors.New("game has ended")
	ErrInvalidDuration   = errors.New("game duration must be positive")
	ErrInvalidHms        = errors.New("time must be HH:MM:SS")
)

// Transition moves g to target in place and reports whether anything
// changed. Moving to the current state is a no-op.
func Transition(g *model.Game, target model.GameState, now time.Time) (bool, error) {
	if !target.Valid() {
		return false, ErrInvalidState
	}
	if g.GameState == target {
		return false, nil
	}
	switch {
	case g.GameState == model.GameStateSetup && target == model.GameStateRunning:
		t := now
		g.StartTime = &t
	case g.GameState == model.GameStateSetup && target == model.GameStateEnd,
		g.GameState == model.GameStateRunning && target == model.GameStateEnd:
		t := now
		g.EndTime = &t
	default:
		return false, ErrInvalidTransition
	}
	g.GameState = target
	return true, nil
}

// SetDuration changes the duration of a game that has not ended.
func SetDuration(g *model.Game, ms int64) error {
	if g.GameState == model.GameStateEnd {
		return ErrGameEnded
	}
	if ms <= 0 {
		return ErrInvalidDuration
	}
	g.GameDuration = ms
	return nil
}

// Elapsed is the time since the game started, or zero before it started.
func Elapsed(g *model.Game, now time.Time) time.Duration {
	if g.StartTime == nil {
		return 0
	}
	end := now
	if g.EndTime != nil {
		end = *g.EndTime
	}
	if d := end.Sub(*g.StartTime); d > 0 {
		return d
	}
	return 0
}

// Remaining is the time left on the clock: the full duration in setup,
// zero once ended.
func Remaining(g *model.Game, now time.Time) time.Duration {
	total := time.Duration(g.GameDuration) * time.Millisecond
	switch g.GameState {
	case model.GameStateSetup:
		return total
	case model.GameStateRunning:
		if left := total - Elapsed(g, now); left > 0 {
			return left
		}
	}
	return 0
}

// Expired reports whether a running game has run out of time.
func Expired(g *model.Game, now time.Time) bool {
	return g.GameState == model.GameStateRunning && Remaining(g, now) <= 0
}
