package safepoint

import "strconv"

// Status is the execution state of an attached thread.
//
// State machine:
//
//	StatusCreated → StatusManaged                [Attach]
//	StatusManaged ⇄ StatusTrusted                [EnterTrusted / LeaveTrusted, plain store]
//	StatusManaged → StatusForeign                [EnterForeign, plain store]
//	StatusForeign → StatusManaged                [LeaveForeign, CAS]
//	StatusForeign → StatusBarrier                [coordinator only, CAS]
//	StatusBarrier → StatusForeign                [barrier release, unless suspended]
//	StatusBarrier → StatusManaged/StatusTrusted  [via StatusForeign, the transition the thread was making]
//
// Transition rules:
//   - While a thread reads StatusCreated, StatusManaged or StatusTrusted no
//     other goroutine writes its status, so the owner may store directly.
//   - Leaving StatusForeign must CAS, because the coordinator may
//     concurrently move the thread to StatusBarrier. A failed CAS means a
//     barrier holds the thread and the owner must block.
//   - StatusTrusted ⇄ StatusForeign is not a legal transition; it must pass
//     through StatusManaged.
type Status int32

const (
	// StatusCreated is the state of a thread that is being attached.
	StatusCreated Status = iota
	// StatusManaged is the state of a thread running cooperating code. It
	// must pass poll points and stops at them when a barrier is requested.
	StatusManaged
	// StatusTrusted is the state of a thread running engine-internal code.
	// It cooperates like StatusManaged but skips recurring callbacks and
	// post-barrier actions when it passes a poll point.
	StatusTrusted
	// StatusForeign is the state of a thread running code outside the
	// engine's control, or blocked. The coordinator counts it as stopped by
	// moving it to StatusBarrier.
	StatusForeign
	// StatusBarrier is the state of a thread held by a barrier.
	StatusBarrier
)

// String returns the name of the state.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusManaged:
		return "managed"
	case StatusTrusted:
		return "trusted"
	case StatusForeign:
		return "foreign"
	case StatusBarrier:
		return "barrier"
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// cooperating reports whether a thread in state s runs code that must pass
// poll points.
func (s Status) cooperating() bool {
	return s == StatusManaged || s == StatusTrusted
}

// Behavior controls how a thread participates in barriers.
type Behavior int32

const (
	// BehaviorAllow is the default: the thread stops at every barrier.
	BehaviorAllow Behavior = iota
	// BehaviorPrevent opts the thread out of stopping. Its poll points
	// never block, and a barrier request waits until the thread switches
	// back to BehaviorAllow.
	BehaviorPrevent
	// BehaviorCrashed marks a thread that suffered an unrecoverable fault.
	// The coordinator ignores it entirely and never waits for it.
	BehaviorCrashed
)

// String returns the name of the behavior.
func (b Behavior) String() string {
	switch b {
	case BehaviorAllow:
		return "allow"
	case BehaviorPrevent:
		return "prevent"
	case BehaviorCrashed:
		return "crashed"
	}
	return "behavior(" + strconv.Itoa(int(b)) + ")"
}

// phase is the coordinator's progress through one barrier.
type phase int32

const (
	phaseIdle phase = iota
	phaseRequesting
	phaseHeld
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseRequesting:
		return "requesting"
	case phaseHeld:
		return "held"
	}
	return "phase(" + strconv.Itoa(int(p)) + ")"
}
