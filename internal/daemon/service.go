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

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"txfs/internal/action"
	"txfs/internal/backup"
	"txfs/internal/billyfs"
	"txfs/internal/common"
	"txfs/internal/fsops"
	"txfs/internal/history"
	"txfs/internal/nofollow"
	"txfs/internal/security"
)

// Service answers IPC requests. It owns the one history manager of the
// process; nothing else holds a reference to it.
type Service struct {
	ctx     context.Context
	engine  *action.Engine
	history *history.Manager
	store   *backup.Store
	maxAge  time.Duration
	onStop  func()
}

// NewService wires the engine, history and backup store together.
// ctx cancels in-flight bulk requests; onStop runs on a stop request.
func NewService(ctx context.Context, store *backup.Store, capacity int, maxAge time.Duration, onStop func()) *Service {
	engine := action.NewEngine(fsops.New(nofollow.New()))
	return &Service{
		ctx:     ctx,
		engine:  engine,
		history: history.NewManager(engine, capacity),
		store:   store,
		maxAge:  maxAge,
		onStop:  onStop,
	}
}

// History returns the manager the service records into
func (s *Service) History() *history.Manager {
	return s.history
}

// Sweep removes backups older than maxAge.
func (s *Service) Sweep(ctx context.Context, maxAge time.Duration) (backup.SweepResult, error) {
	return s.store.Sweep(ctx, maxAge)
}

// Handle processes one IPC request
func (s *Service) Handle(req *Request) *Response {
	switch req.Type {
	case RequestApply:
		return s.handleApply(req)
	case RequestRecord:
		return s.handleRecord(req)
	case RequestUndo:
		return s.handleUndo()
	case RequestRedo:
		return s.handleRedo()
	case RequestClear:
		if err := s.history.Clear(); err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Message: "History cleared"}
	case RequestStatus:
		return s.handleStatus()
	case RequestBackupPath:
		return s.handleBackupPath(req)
	case RequestSweep:
		return s.handleSweep(req)
	case RequestChmod:
		return s.handleChmod(req)
	case RequestMkdirAll:
		return s.handleMkdirAll(req)
	case RequestStop:
		if s.onStop != nil {
			s.onStop()
		}
		return &Response{Success: true, Message: "Daemon stopping"}
	default:
		return &Response{Success: false, Error: "unknown request type"}
	}
}

// handleApply runs single actions through the history manager. Batches run
// step by step outside the history lock and are recorded with one append,
// so a daemon shutdown can cancel them between steps.
func (s *Service) handleApply(req *Request) *Response {
	a, err := action.Decode(req.Action)
	if err != nil {
		return errorResponse(err)
	}
	return s.apply(a)
}

func (s *Service) apply(a action.Action) *Response {
	if b, ok := a.(action.Batch); ok && len(b.Actions) > 1 {
		done, err := s.engine.RunBulk(s.ctx, b.Actions, func(n, total int, step action.Action) {
			log.Debugf("[Daemon] bulk step %d/%d: %s", n, total, step.Describe())
		})
		if err != nil {
			return errorResponse(err)
		}
		if err := s.history.RecordApplied(done); err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Message: done.Describe()}
	}

	if err := s.history.Apply(a); err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, Message: a.Describe()}
}

// handleMkdirAll plans the missing folders of every path through a billy
// view rooted at the path's volume and applies them as one history entry.
func (s *Service) handleMkdirAll(req *Request) *Response {
	if len(req.Paths) == 0 {
		return errorResponse(common.Errorf("mkdir", "", common.ErrInvalidInput, "no paths given"))
	}

	var steps []action.Action
	seen := make(map[string]bool)
	for _, path := range req.Paths {
		clean, err := common.CleanAbs(path)
		if err != nil {
			return errorResponse(err)
		}
		root, parts := common.SplitPath(clean)
		view, err := billyfs.NewHistoryAdapter(root, s.history, s.store)
		if err != nil {
			return errorResponse(err)
		}
		planned, err := view.PlanMkdirAll(filepath.Join(parts...))
		if err != nil {
			return errorResponse(err)
		}
		for _, step := range planned {
			dir := step.(action.CreateFolder).Path
			if !seen[dir] {
				seen[dir] = true
				steps = append(steps, step)
			}
		}
	}

	switch len(steps) {
	case 0:
		return &Response{Success: true, Message: "Nothing to create"}
	case 1:
		return s.apply(steps[0])
	}
	return s.apply(action.NewBatch(steps...))
}

func (s *Service) handleRecord(req *Request) *Response {
	a, err := action.Decode(req.Action)
	if err != nil {
		return errorResponse(err)
	}
	if err := s.history.RecordApplied(a); err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, Message: "Recorded " + a.Describe()}
}

func (s *Service) handleUndo() *Response {
	a, err := s.history.Undo()
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, Message: "Undid " + a.Describe()}
}

func (s *Service) handleRedo() *Response {
	a, err := s.history.Redo()
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, Message: "Redid " + a.Describe()}
}

func (s *Service) handleStatus() *Response {
	entries, err := s.history.Entries()
	if err != nil {
		return errorResponse(err)
	}
	return &Response{
		Success: true,
		PID:     os.Getpid(),
		History: &HistoryStatus{
			CanUndo: len(entries.Undo) > 0,
			CanRedo: len(entries.Redo) > 0,
			Undo:    entries.Undo,
			Redo:    entries.Redo,
		},
		BackupRoot: s.store.Root(),
	}
}

func (s *Service) handleBackupPath(req *Request) *Response {
	if req.Path == "" {
		return errorResponse(common.NewPathError("backup", "", common.ErrInvalidInput, nil))
	}
	path, err := s.store.NewPath(req.Path)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, BackupPath: path}
}

func (s *Service) handleSweep(req *Request) *Response {
	maxAge := s.maxAge
	if req.MaxAge != "" {
		d, err := parseDuration("max_age", req.MaxAge)
		if err != nil {
			return errorResponse(err)
		}
		maxAge = d
	}
	res, err := s.store.Sweep(s.ctx, maxAge)
	if err != nil {
		return errorResponse(err)
	}
	stats := &SweepStats{Removed: res.Removed, Kept: res.Kept}
	for _, e := range res.Errors {
		stats.Errors = append(stats.Errors, e.Error())
	}
	return &Response{
		Success: len(res.Errors) == 0,
		Message: fmt.Sprintf("Removed %d backup(s), kept %d", res.Removed, res.Kept),
		Error:   errString(res.Err()),
		Sweep:   stats,
	}
}

// handleChmod captures every path first, so a missing or symlinked path
// fails the request before anything changes.
func (s *Service) handleChmod(req *Request) *Response {
	if len(req.Paths) == 0 || (req.ReadOnly == nil && req.Mode == "") {
		return errorResponse(common.Errorf("chmod", "", common.ErrInvalidInput, "need paths and a readonly flag or mode"))
	}
	var mode fs.FileMode
	if req.Mode != "" {
		bits, err := strconv.ParseUint(req.Mode, 8, 32)
		if err != nil || bits > 07777 {
			return errorResponse(common.Errorf("chmod", "", common.ErrInvalidInput, "invalid mode %q", req.Mode))
		}
		mode = modeFromBits(uint32(bits))
	}

	changes := make([]security.Change, 0, len(req.Paths))
	for _, path := range req.Paths {
		clean, err := common.CleanAbs(path)
		if err != nil {
			return errorResponse(err)
		}
		before, err := security.CapturePermissions(clean)
		if err != nil {
			return errorResponse(err)
		}
		after := before
		if req.Mode != "" {
			after = after.WithMode(mode)
		}
		if req.ReadOnly != nil {
			after = after.WithReadOnly(*req.ReadOnly)
		}
		changes = append(changes, security.PermissionChange{Path: clean, Before: before, After: after})
	}

	if err := security.ApplyChanges(changes); err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, Message: fmt.Sprintf("Changed permissions of %d path(s)", len(changes))}
}

// modeFromBits converts st_mode permission bits to an fs.FileMode.
func modeFromBits(bits uint32) fs.FileMode {
	mode := fs.FileMode(bits & 0777)
	if bits&04000 != 0 {
		mode |= fs.ModeSetuid
	}
	if bits&02000 != 0 {
		mode |= fs.ModeSetgid
	}
	if bits&01000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func errorResponse(err error) *Response {
	log.Debugf("[Daemon] request failed: %v", err)
	return &Response{Success: false, Error: err.Error(), ErrorKind: ErrorKind(err)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrorKind names the taxonomy class of err for IPC clients.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, history.ErrNothingToUndo), errors.Is(err, history.ErrNothingToRedo):
		return "empty_history"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "io"
}

var errorKinds = []struct {
	err  error
	name string
}{
	{common.ErrLockPoisoned, "lock_poisoned"},
	{common.ErrConcurrentModification, "concurrent_modification"},
	{common.ErrSymlink, "symlink"},
	{common.ErrExists, "exists"},
	{common.ErrNotFound, "not_found"},
	{common.ErrPermission, "permission"},
	{common.ErrReadOnly, "read_only"},
	{common.ErrUnsupported, "unsupported"},
	{common.ErrInvalidInput, "invalid_input"},
	{common.ErrCrossDevice, "cross_device"},
	{common.ErrIO, "io"},
}
