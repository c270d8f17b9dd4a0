// Copyright 2024 TxFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history keeps bounded undo and redo stacks of applied Actions.
package history

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"txfs/internal/action"
	"txfs/internal/common"
)

// DefaultCapacity is the number of entries kept on each stack.
const DefaultCapacity = 50

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Executor runs an Action in one direction. *action.Engine implements it.
type Executor interface {
	Execute(a action.Action, dir action.Direction) error
}

// Entries lists descriptions of both stacks, oldest first.
type Entries struct {
	Undo []string `json:"undo"`
	Redo []string `json:"redo"`
}

// Manager holds the undo and redo stacks behind one mutex. Every operation
// keeps the lock for its full duration, filesystem work included, so
// history stays globally ordered.
type Manager struct {
	mu       sync.Mutex
	exec     Executor
	capacity int
	undo     []action.Action
	redo     []action.Action
	poisoned bool
}

// NewManager creates a Manager. A capacity below 1 selects DefaultCapacity.
func NewManager(exec Executor, capacity int) *Manager {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Manager{exec: exec, capacity: capacity}
}

// Capacity returns the per-stack limit
func (m *Manager) Capacity() int {
	return m.capacity
}

// Apply executes a forward and records it. The redo stack is cleared.
func (m *Manager) Apply(a action.Action) error {
	return m.locked(func() error {
		if err := m.exec.Execute(a, action.Forward); err != nil {
			return err
		}
		m.pushUndo(a)
		m.redo = nil
		log.Debugf("[History] applied %s (undo depth %d)", a.Describe(), len(m.undo))
		return nil
	})
}

// RecordApplied records an action the caller already executed.
func (m *Manager) RecordApplied(a action.Action) error {
	return m.locked(func() error {
		m.pushUndo(a)
		m.redo = nil
		log.Debugf("[History] recorded %s (undo depth %d)", a.Describe(), len(m.undo))
		return nil
	})
}

// Undo reverts the newest undo entry and returns it. On failure the entry
// stays on the undo stack so the undo can be retried.
func (m *Manager) Undo() (action.Action, error) {
	var undone action.Action
	err := m.locked(func() error {
		n := len(m.undo)
		if n == 0 {
			return ErrNothingToUndo
		}
		a := m.undo[n-1]
		m.undo = m.undo[:n-1]
		if err := m.exec.Execute(a, action.Backward); err != nil {
			m.undo = append(m.undo, a)
			log.Warnf("[History] undo of %s failed: %v", a.Describe(), err)
			return err
		}
		m.redo = trim(append(m.redo, a), m.capacity)
		undone = a
		return nil
	})
	return undone, err
}

// Redo re-applies the newest redo entry and returns it. On failure the
// entry stays on the redo stack.
func (m *Manager) Redo() (action.Action, error) {
	var redone action.Action
	err := m.locked(func() error {
		n := len(m.redo)
		if n == 0 {
			return ErrNothingToRedo
		}
		a := m.redo[n-1]
		m.redo = m.redo[:n-1]
		if err := m.exec.Execute(a, action.Forward); err != nil {
			m.redo = append(m.redo, a)
			log.Warnf("[History] redo of %s failed: %v", a.Describe(), err)
			return err
		}
		m.pushUndo(a)
		redone = a
		return nil
	})
	return redone, err
}

// Clear drops both stacks.
func (m *Manager) Clear() error {
	return m.locked(func() error {
		m.undo = nil
		m.redo = nil
		return nil
	})
}

// CanUndo reports whether an undo entry exists. A poisoned manager
// reports false.
func (m *Manager) CanUndo() bool {
	can := false
	_ = m.locked(func() error {
		can = len(m.undo) > 0
		return nil
	})
	return can
}

// CanRedo reports whether a redo entry exists.
func (m *Manager) CanRedo() bool {
	can := false
	_ = m.locked(func() error {
		can = len(m.redo) > 0
		return nil
	})
	return can
}

// Entries describes both stacks.
func (m *Manager) Entries() (Entries, error) {
	var e Entries
	err := m.locked(func() error {
		e.Undo = describe(m.undo)
		e.Redo = describe(m.redo)
		return nil
	})
	return e, err
}

// locked runs fn under the mutex. A panic inside fn poisons the manager:
// the stacks may be half-updated, so every later call fails with
// common.ErrLockPoisoned.
func (m *Manager) locked(fn func() error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.poisoned {
		return common.ErrLockPoisoned
	}
	defer func() {
		if r := recover(); r != nil {
			m.poisoned = true
			log.Errorf("[History] panic while holding history lock: %v", r)
			err = fmt.Errorf("%w: %v", common.ErrLockPoisoned, r)
		}
	}()
	return fn()
}

func (m *Manager) pushUndo(a action.Action) {
	m.undo = trim(append(m.undo, a), m.capacity)
}

// trim drops the oldest entries beyond capacity.
func trim(stack []action.Action, capacity int) []action.Action {
	if len(stack) <= capacity {
		return stack
	}
	return append([]action.Action(nil), stack[len(stack)-capacity:]...)
}

func describe(stack []action.Action) []string {
	out := make([]string, len(stack))
	for i, a := range stack {
		out[i] = a.Describe()
	}
	return out
}
