package action

import (
	"encoding/json"
	"fmt"

	"txfs/internal/common"
)

// envelope is the JSON form of an Action.
type envelope struct {
	Kind    Kind              `json:"kind"`
	From    string            `json:"from,omitempty"`
	To      string            `json:"to,omitempty"`
	Path    string            `json:"path,omitempty"`
	Backup  string            `json:"backup,omitempty"`
	Hidden  bool              `json:"hidden,omitempty"`
	Actions []json.RawMessage `json:"actions,omitempty"`
}

// Encode returns the JSON form of a.
func Encode(a Action) (json.RawMessage, error) {
	env := envelope{}
	switch v := a.(type) {
	case Rename:
		env = envelope{Kind: KindRename, From: v.From, To: v.To}
	case Move:
		env = envelope{Kind: KindMove, From: v.From, To: v.To}
	case Copy:
		env = envelope{Kind: KindCopy, From: v.From, To: v.To}
	case Create:
		env = envelope{Kind: KindCreate, Path: v.Path, Backup: v.Backup}
	case Delete:
		env = envelope{Kind: KindDelete, Path: v.Path, Backup: v.Backup}
	case CreateFolder:
		env = envelope{Kind: KindCreateFolder, Path: v.Path}
	case SetHidden:
		env = envelope{Kind: KindSetHidden, Path: v.Path, Hidden: v.Hidden}
	case Batch:
		env = envelope{Kind: KindBatch, Actions: make([]json.RawMessage, 0, len(v.Actions))}
		for _, child := range v.Actions {
			raw, err := Encode(child)
			if err != nil {
				return nil, err
			}
			env.Actions = append(env.Actions, raw)
		}
	default:
		return nil, common.Errorf("encode", "", common.ErrInvalidInput, "unknown action %T", a)
	}
	return json.Marshal(env)
}

// Decode parses the JSON form produced by Encode. Missing fields for the
// given kind are InvalidInput.
func Decode(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, common.NewPathError("decode", "", common.ErrInvalidInput, err)
	}

	switch env.Kind {
	case KindRename, KindMove, KindCopy:
		if err := requireFields(env.Kind, "from", env.From, "to", env.To); err != nil {
			return nil, err
		}
		switch env.Kind {
		case KindRename:
			return NewRename(env.From, env.To), nil
		case KindMove:
			return NewMove(env.From, env.To), nil
		}
		return NewCopy(env.From, env.To), nil
	case KindCreate, KindDelete:
		if err := requireFields(env.Kind, "path", env.Path, "backup", env.Backup); err != nil {
			return nil, err
		}
		if env.Kind == KindCreate {
			return NewCreate(env.Path, env.Backup), nil
		}
		return NewDelete(env.Path, env.Backup), nil
	case KindCreateFolder:
		if err := requireFields(env.Kind, "path", env.Path); err != nil {
			return nil, err
		}
		return NewCreateFolder(env.Path), nil
	case KindSetHidden:
		if err := requireFields(env.Kind, "path", env.Path); err != nil {
			return nil, err
		}
		return NewSetHidden(env.Path, env.Hidden), nil
	case KindBatch:
		children := make([]Action, 0, len(env.Actions))
		for i, raw := range env.Actions {
			child, err := Decode(raw)
			if err != nil {
				return nil, fmt.Errorf("batch action %d: %w", i, err)
			}
			children = append(children, child)
		}
		return NewBatch(children...), nil
	}
	return nil, common.Errorf("decode", "", common.ErrInvalidInput, "unknown action kind %q", env.Kind)
}

// requireFields takes name/value pairs and fails on the first empty value.
func requireFields(kind Kind, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return common.Errorf("decode", "", common.ErrInvalidInput, "%s action missing %q", kind, pairs[i])
		}
	}
	return nil
}
