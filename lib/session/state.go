// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"slices"
)

// State is the lifecycle position of a Session.
type State uint8

const (
	// Open: base fixed, edits accumulating.
	Open State = iota + 1

	// Committing: edits being written and the branch updated.
	Committing

	// Committed: the branch points at the session's snapshot.
	Committed

	// Conflicted: the commit overlapped concurrent changes or ran out
	// of retries. The session can only be abandoned.
	Conflicted

	// Abandoned: discarded without changing any reference.
	Abandoned
)

var transitions = map[State][]State{
	Open:       {Committing, Abandoned},
	Committing: {Committed, Conflicted, Open},
	Conflicted: {Abandoned},
}

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Conflicted:
		return "conflicted"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// CanTransition reports whether a session in state s may move to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
