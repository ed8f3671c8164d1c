package ops

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"cairn.dev/cairn/pkg/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptLookup(t *testing.T) {
	writeScript := func(t *testing.T, dir, name string) string {
		t.Helper()

		path := filepath.Join(dir, name+repo.Extension)

		err := os.MkdirAll(filepath.Dir(path), 0755)
		require.NoError(t, err)

		err = ioutil.WriteFile(path, []byte(`data`), 0644)
		require.NoError(t, err)

		return path
	}

	t.Run("searches the path in order", func(t *testing.T) {
		first := t.TempDir()
		second := t.TempDir()

		writeScript(t, first, "foo")
		writeScript(t, second, "foo")

		sl := &ScriptLookup{Path: []string{first, second}}

		ent, err := sl.Load("foo")
		require.NoError(t, err)

		assert.Equal(t, first, ent.Dir())
	})

	t.Run("falls through to later path entries", func(t *testing.T) {
		first := t.TempDir()
		second := t.TempDir()

		writeScript(t, second, "bar")

		sl := &ScriptLookup{Path: []string{first, second}}

		ent, err := sl.Load("bar")
		require.NoError(t, err)

		assert.Equal(t, second, ent.Dir())
	})

	t.Run("a path name addresses its directory directly", func(t *testing.T) {
		dir := t.TempDir()
		other := t.TempDir()

		writeScript(t, dir, "foo")

		sl := &ScriptLookup{Path: []string{other}}

		ent, err := sl.Load(filepath.Join(dir, "foo"))
		require.NoError(t, err)

		assert.Equal(t, dir, ent.Dir())
	})

	t.Run("missing scripts report not found", func(t *testing.T) {
		sl := &ScriptLookup{Path: []string{t.TempDir()}}

		_, err := sl.Load("nope")
		require.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("walk lists each package once", func(t *testing.T) {
		dir := t.TempDir()

		writeScript(t, dir, "a")
		writeScript(t, filepath.Join(dir, "b"), "b")
		writeScript(t, filepath.Join(dir, "packages"), "c")
		writeScript(t, filepath.Join(dir, "packages"), "a")
		writeScript(t, filepath.Join(dir, "vendor"), "hidden")
		writeScript(t, dir, "tool.export")

		var names []string

		sl := &ScriptLookup{}

		err := sl.Walk(dir, func(name string) error {
			names = append(names, name)
			return nil
		})
		require.NoError(t, err)

		sort.Strings(names)

		assert.Equal(t, []string{"a", "b", "c"}, names)
	})
}
