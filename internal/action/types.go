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

// Package action describes reversible filesystem mutations and executes
// them forward or backward.
package action

import (
	"fmt"
	"strings"
)

// Direction selects whether an Action is applied or reverted.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Reverse returns the opposite direction
func (d Direction) Reverse() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// Kind names an Action variant on the wire.
type Kind string

const (
	KindRename       Kind = "rename"
	KindMove         Kind = "move"
	KindCopy         Kind = "copy"
	KindCreate       Kind = "create"
	KindDelete       Kind = "delete"
	KindCreateFolder Kind = "create_folder"
	KindSetHidden    Kind = "set_hidden"
	KindBatch        Kind = "batch"
)

// Action is one reversible filesystem mutation. The set of implementations
// is closed to this package.
type Action interface {
	Kind() Kind
	Describe() string
	action()
}

// Rename renames From to To within the same directory tree.
type Rename struct {
	From string
	To   string
}

// Move moves From to To, possibly across devices.
type Move struct {
	From string
	To   string
}

// Copy duplicates From at To. Reverting deletes To.
type Copy struct {
	From string
	To   string
}

// Create materializes content staged at Backup into Path.
type Create struct {
	Path   string
	Backup string
}

// Delete soft-deletes Path by moving it to Backup.
type Delete struct {
	Path   string
	Backup string
}

// CreateFolder creates an empty directory.
type CreateFolder struct {
	Path string
}

// SetHidden sets the platform hidden attribute to Hidden.
type SetHidden struct {
	Path   string
	Hidden bool
}

// Batch applies its children in order as a single unit.
type Batch struct {
	Actions []Action
}

func NewRename(from, to string) Rename                { return Rename{From: from, To: to} }
func NewMove(from, to string) Move                    { return Move{From: from, To: to} }
func NewCopy(from, to string) Copy                    { return Copy{From: from, To: to} }
func NewCreate(path, backup string) Create            { return Create{Path: path, Backup: backup} }
func NewDelete(path, backup string) Delete            { return Delete{Path: path, Backup: backup} }
func NewCreateFolder(path string) CreateFolder        { return CreateFolder{Path: path} }
func NewSetHidden(path string, hidden bool) SetHidden { return SetHidden{Path: path, Hidden: hidden} }
func NewBatch(actions ...Action) Batch                { return Batch{Actions: actions} }

func (Rename) Kind() Kind       { return KindRename }
func (Move) Kind() Kind         { return KindMove }
func (Copy) Kind() Kind         { return KindCopy }
func (Create) Kind() Kind       { return KindCreate }
func (Delete) Kind() Kind       { return KindDelete }
func (CreateFolder) Kind() Kind { return KindCreateFolder }
func (SetHidden) Kind() Kind    { return KindSetHidden }
func (Batch) Kind() Kind        { return KindBatch }

func (a Rename) Describe() string { return fmt.Sprintf("rename %s -> %s", a.From, a.To) }
func (a Move) Describe() string   { return fmt.Sprintf("move %s -> %s", a.From, a.To) }
func (a Copy) Describe() string   { return fmt.Sprintf("copy %s -> %s", a.From, a.To) }
func (a Create) Describe() string { return fmt.Sprintf("create %s", a.Path) }
func (a Delete) Describe() string { return fmt.Sprintf("delete %s", a.Path) }

func (a CreateFolder) Describe() string { return fmt.Sprintf("create folder %s", a.Path) }

func (a SetHidden) Describe() string {
	if a.Hidden {
		return fmt.Sprintf("hide %s", a.Path)
	}
	return fmt.Sprintf("unhide %s", a.Path)
}

func (a Batch) Describe() string {
	switch len(a.Actions) {
	case 0:
		return "empty batch"
	case 1:
		return a.Actions[0].Describe()
	}
	parts := make([]string, 0, 3)
	for i, child := range a.Actions {
		if i == 2 {
			parts = append(parts, fmt.Sprintf("+%d more", len(a.Actions)-2))
			break
		}
		parts = append(parts, child.Describe())
	}
	return fmt.Sprintf("batch of %d (%s)", len(a.Actions), strings.Join(parts, ", "))
}

func (Rename) action()       {}
func (Move) action()         {}
func (Copy) action()         {}
func (Create) action()       {}
func (Delete) action()       {}
func (CreateFolder) action() {}
func (SetHidden) action()    {}
func (Batch) action()        {}
