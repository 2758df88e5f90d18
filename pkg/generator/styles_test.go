package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStylePresets(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range StylePresets {
		assert.False(t, seen[p.ID], "ID が重複している: %s", p.ID)
		seen[p.ID] = true
		assert.NotEmpty(t, p.Label, p.ID)
		assert.NotEmpty(t, p.Prompt, p.ID)
	}
	assert.Len(t, StylePresets, 10)
}

func TestStyleDirective(t *testing.T) {
	t.Run("未選択なら空", func(t *testing.T) {
		got, err := styleDirective(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("1件ならそのまま", func(t *testing.T) {
		got, err := styleDirective([]string{" japandi "})
		require.NoError(t, err)
		p, _ := LookupStyle("japandi")
		assert.Equal(t, p.Prompt, got)
	})

	t.Run("未知の ID", func(t *testing.T) {
		_, err := styleDirective([]string{"japandi", "nope"})
		assert.ErrorIs(t, err, ErrUnknownStyle)
		assert.Contains(t, err.Error(), `"nope"`)
	})
}
