package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txfs/internal/common"
)

func TestCodec(t *testing.T) {
	t.Parallel()

	a := NewBatch(
		NewRename("/a", "/b"),
		NewDelete("/c", "/backups/1/c"),
		NewSetHidden("/d", false),
		NewBatch(NewCreateFolder("/e")),
	)
	raw, err := Encode(a)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Action(a), decoded)
}

func TestDecodeRejectsIncomplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
	}{
		{"unknown kind", `{"kind":"chmod","path":"/a"}`},
		{"missing to", `{"kind":"move","from":"/a"}`},
		{"missing backup", `{"kind":"delete","path":"/a"}`},
		{"bad child", `{"kind":"batch","actions":[{"kind":"copy"}]}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.json))
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "rename /a -> /b", NewRename("/a", "/b").Describe())
	assert.Equal(t, "unhide /x", NewSetHidden("/x", false).Describe())
	assert.Equal(t, "batch of 3 (create folder /a, create folder /b, +1 more)",
		NewBatch(NewCreateFolder("/a"), NewCreateFolder("/b"), NewCreateFolder("/c")).Describe())
}
