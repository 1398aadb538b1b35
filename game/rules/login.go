package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/kasuganosora/escaperoom/server/model"
)

const (
	ReasonInvalidCredentials = "Invalid Credentials"
	ReasonPlayerBanned       = "Player is banned"
	ReasonNoSecretAccess     = "Character cannot access the secret shop"
)

// LockoutPolicy configures failed-login bookkeeping.
type LockoutPolicy struct {
	MaxAttempts int
	LockFor     time.Duration
}

// DefaultLockoutPolicy locks a character for one minute after three failures.
var DefaultLockoutPolicy = LockoutPolicy{MaxAttempts: 3, LockFor: time.Minute}

func (p LockoutPolicy) normalized() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultLockoutPolicy.MaxAttempts
	}
	if p.LockFor <= 0 {
		p.LockFor = DefaultLockoutPolicy.LockFor
	}
	return p
}

// FailureState is one player's failed-login record against one character.
type FailureState struct {
	RemainingAttempts int
	LockUntil         *time.Time
}

// LoginInput is everything the login decision depends on.
type LoginInput struct {
	// Candidate is the first character matching both credentials, else the
	// first with the account number, or nil.
	Candidate *model.Character
	Password  string
	Mode      model.LoginMode
	Banned    bool
	// Failure is the existing record for Candidate, or nil.
	Failure *FailureState
	Now     time.Time
}

// LoginDecision is the outcome of a login attempt. Failure, when non-nil, is
// the record to persist for the candidate.
type LoginDecision struct {
	Approved        bool
	Reason          string
	LockSecondsLeft int
	AttemptsLeft    int
	Failure         *FailureState
}

// LockedFor returns the remaining lock time, or zero when unlocked.
func (f *FailureState) LockedFor(now time.Time) time.Duration {
	if f == nil || f.LockUntil == nil || !now.Before(*f.LockUntil) {
		return 0
	}
	return f.LockUntil.Sub(now)
}

// DecideLogin applies the lockout policy. The lock check comes before the
// password check; unknown account numbers get a generic rejection without
// any bookkeeping.
func DecideLogin(p LockoutPolicy, in LoginInput) LoginDecision {
	p = p.normalized()
	if in.Banned {
		return LoginDecision{Reason: ReasonPlayerBanned}
	}
	if in.Candidate == nil {
		return LoginDecision{Reason: ReasonInvalidCredentials}
	}

	if left := in.Failure.LockedFor(in.Now); left > 0 {
		secs := int(math.Ceil(left.Seconds()))
		return LoginDecision{
			Reason:          fmt.Sprintf("Too many failed attempts. Try again in %d seconds.", secs),
			LockSecondsLeft: secs,
		}
	}

	if in.Candidate.AccountPassword == in.Password {
		if in.Mode == model.LoginModeSecret && !in.Candidate.CanAccessSecret {
			return LoginDecision{Reason: ReasonNoSecretAccess}
		}
		return LoginDecision{
			Approved: true,
			Failure:  &FailureState{RemainingAttempts: p.MaxAttempts},
		}
	}

	remaining := p.MaxAttempts
	if in.Failure != nil {
		remaining = in.Failure.RemainingAttempts
	}
	remaining--
	if remaining <= 0 {
		until := in.Now.Add(p.LockFor)
		secs := int(math.Ceil(p.LockFor.Seconds()))
		return LoginDecision{
			Reason:          fmt.Sprintf("Too many failed attempts. Locked for %s.", humanizeLock(p.LockFor)),
			LockSecondsLeft: secs,
			Failure:         &FailureState{RemainingAttempts: p.MaxAttempts, LockUntil: &until},
		}
	}
	return LoginDecision{
		Reason:       ReasonInvalidCredentials,
		AttemptsLeft: remaining,
		Failure:      &FailureState{RemainingAttempts: remaining},
	}
}

func humanizeLock(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return fmt.Sprintf("%d seconds", int(math.Ceil(d.Seconds())))
}
