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

package action

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"txfs/internal/common"
	"txfs/internal/fsops"
)

// Engine executes Actions against the filesystem.
type Engine struct {
	ops *fsops.Ops
}

// NewEngine creates an Engine over ops.
func NewEngine(ops *fsops.Ops) *Engine {
	return &Engine{ops: ops}
}

// Execute applies a in the given direction. A Batch either applies all of
// its children or, after reverting the completed ones, returns a
// *BatchError.
func (e *Engine) Execute(a Action, dir Direction) error {
	log.Debugf("[Engine] %s %s", dir, a.Describe())

	switch v := a.(type) {
	case Rename:
		return e.move(v.From, v.To, dir)
	case Move:
		return e.move(v.From, v.To, dir)
	case Copy:
		if dir == Forward {
			return e.ops.CopyEntry(v.From, v.To)
		}
		return e.ops.Remove(v.To)
	case Create:
		// Forward materializes the staged payload.
		return e.move(v.Backup, v.Path, dir)
	case Delete:
		return e.move(v.Path, v.Backup, dir)
	case CreateFolder:
		if dir == Forward {
			return e.ops.CreateDir(v.Path)
		}
		return e.ops.RemoveIfExists(v.Path)
	case SetHidden:
		hidden := v.Hidden
		if dir == Backward {
			hidden = !hidden
		}
		return e.ops.SetHidden(v.Path, hidden)
	case Batch:
		return e.executeBatch(v, dir)
	case nil:
		return common.NewPathError("execute", "", common.ErrInvalidInput, fmt.Errorf("nil action"))
	}
	return common.Errorf("execute", "", common.ErrInvalidInput, "unknown action %T", a)
}

func (e *Engine) move(from, to string, dir Direction) error {
	if dir == Backward {
		from, to = to, from
	}
	return e.ops.MoveWithFallback(from, to)
}

func (e *Engine) executeBatch(b Batch, dir Direction) error {
	n := len(b.Actions)
	done := make([]Action, 0, n)
	for i := range n {
		idx := i
		if dir == Backward {
			idx = n - 1 - i
		}
		child := b.Actions[idx]
		if err := e.Execute(child, dir); err != nil {
			log.Debugf("[Engine] batch step %d failed, rolling back %d step(s): %v", idx+1, len(done), err)
			return &BatchError{Step: idx, Action: child, Cause: err, Rollback: e.rollback(done, dir)}
		}
		done = append(done, child)
	}
	return nil
}

// rollback reverts done, which were executed in dir, newest first. Every
// failure is kept.
func (e *Engine) rollback(done []Action, dir Direction) []error {
	var errs []error
	for i := len(done) - 1; i >= 0; i-- {
		if err := e.Execute(done[i], dir.Reverse()); err != nil {
			log.Warnf("[Engine] rollback of %s failed: %v", done[i].Describe(), err)
			errs = append(errs, fmt.Errorf("rollback %s: %w", done[i].Describe(), err))
		}
	}
	return errs
}

// ProgressFunc is called after each completed bulk step.
type ProgressFunc func(done, total int, a Action)

// RunBulk applies steps forward one by one, checking ctx between steps.
// On success it returns the completed steps as one Batch so the caller
// can record it in history with a single append. On failure or
// cancellation the completed steps are reverted and a *BatchError is
// returned whose Cause is the step error or ctx.Err().
func (e *Engine) RunBulk(ctx context.Context, steps []Action, progress ProgressFunc) (Batch, error) {
	done := make([]Action, 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			log.Debugf("[Engine] bulk run cancelled after %d of %d steps", len(done), len(steps))
			return Batch{}, &BatchError{Step: i, Action: step, Cause: err, Rollback: e.rollback(done, Forward)}
		}
		if err := e.Execute(step, Forward); err != nil {
			return Batch{}, &BatchError{Step: i, Action: step, Cause: err, Rollback: e.rollback(done, Forward)}
		}
		done = append(done, step)
		if progress != nil {
			progress(len(done), len(steps), step)
		}
	}
	return Batch{Actions: done}, nil
}
