package profile

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, store, id string, files map[string]string) string {
	t.Helper()

	root := filepath.Join(store, id)

	for name, content := range files {
		path := filepath.Join(root, name)

		err := os.MkdirAll(filepath.Dir(path), 0755)
		require.NoError(t, err)

		err = ioutil.WriteFile(path, []byte(content), 0755)
		require.NoError(t, err)
	}

	return root
}

func readThrough(t *testing.T, path string) string {
	t.Helper()

	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestProfile(t *testing.T) {
	t.Run("links a member into the profile", func(t *testing.T) {
		dir := t.TempDir()
		store := filepath.Join(dir, "store")

		root := writeEntry(t, store, "aaa-tool-1.0", map[string]string{
			"bin/tool":       "#!/bin/sh\n",
			".pkg-info.json": "{}",
		})

		prof, err := OpenProfile(filepath.Join(dir, "main"))
		require.NoError(t, err)

		err = prof.Link("aaa-tool-1.0", root)
		require.NoError(t, err)

		assert.Equal(t, "#!/bin/sh\n", readThrough(t, filepath.Join(prof.Path(), "bin", "tool")))

		// store metadata does not leak into the profile
		_, err = os.Lstat(filepath.Join(prof.Path(), ".pkg-info.json"))
		assert.True(t, os.IsNotExist(err))

		ids, err := prof.Members()
		require.NoError(t, err)

		assert.Equal(t, []string{"aaa-tool-1.0"}, ids)
	})

	t.Run("profile links are relative", func(t *testing.T) {
		dir := t.TempDir()
		store := filepath.Join(dir, "store")

		root := writeEntry(t, store, "aaa-tool-1.0", map[string]string{
			"bin/tool": "#!/bin/sh\n",
		})

		prof, err := OpenProfile(filepath.Join(dir, "main"))
		require.NoError(t, err)

		err = prof.Link("aaa-tool-1.0", root)
		require.NoError(t, err)

		tgt, err := os.Readlink(filepath.Join(prof.Path(), "bin"))
		require.NoError(t, err)

		assert.False(t, filepath.IsAbs(tgt))
	})

	t.Run("merges members sharing a directory", func(t *testing.T) {
		dir := t.TempDir()
		store := filepath.Join(dir, "store")

		first := writeEntry(t, store, "aaa-tool-1.0", map[string]string{
			"bin/tool": "tool\n",
		})
		second := writeEntry(t, store, "bbb-other-2.0", map[string]string{
			"bin/other":  "other\n",
			"share/docs": "docs\n",
		})

		prof, err := OpenProfile(filepath.Join(dir, "main"))
		require.NoError(t, err)

		require.NoError(t, prof.Link("aaa-tool-1.0", first))
		require.NoError(t, prof.Link("bbb-other-2.0", second))

		assert.Equal(t, "tool\n", readThrough(t, filepath.Join(prof.Path(), "bin", "tool")))
		assert.Equal(t, "other\n", readThrough(t, filepath.Join(prof.Path(), "bin", "other")))
		assert.Equal(t, "docs\n", readThrough(t, filepath.Join(prof.Path(), "share", "docs")))

		// the shared dir expanded into a real directory
		fi, err := os.Lstat(filepath.Join(prof.Path(), "bin"))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	})

	t.Run("the first member keeps a colliding file", func(t *testing.T) {
		dir := t.TempDir()
		store := filepath.Join(dir, "store")

		first := writeEntry(t, store, "aaa-tool-1.0", map[string]string{
			"bin/tool": "first\n",
		})
		second := writeEntry(t, store, "bbb-tool-2.0", map[string]string{
			"bin/tool": "second\n",
		})

		prof, err := OpenProfile(filepath.Join(dir, "main"))
		require.NoError(t, err)

		require.NoError(t, prof.Link("aaa-tool-1.0", first))
		require.NoError(t, prof.Link("bbb-tool-2.0", second))

		assert.Equal(t, "first\n", readThrough(t, filepath.Join(prof.Path(), "bin", "tool")))
	})

	t.Run("linking a member twice is a no-op", func(t *testing.T) {
		dir := t.TempDir()
		store := filepath.Join(dir, "store")

		root := writeEntry(t, store, "aaa-tool-1.0", map[string]string{
			"bin/tool": "tool\n",
		})

		prof, err := OpenProfile(filepath.Join(dir, "main"))
		require.NoError(t, err)

		require.NoError(t, prof.Link("aaa-tool-1.0", root))
		require.NoError(t, prof.Link("aaa-tool-1.0", root))

		ids, err := prof.Members()
		require.NoError(t, err)

		assert.Equal(t, []string{"aaa-tool-1.0"}, ids)
	})

	t.Run("unlink rebuilds without the removed member", func(t *testing.T) {
		dir := t.TempDir()
		store := filepath.Join(dir, "store")

		first := writeEntry(t, store, "aaa-tool-1.0", map[string]string{
			"bin/tool": "tool\n",
		})
		second := writeEntry(t, store, "bbb-other-2.0", map[string]string{
			"bin/other": "other\n",
		})

		prof, err := OpenProfile(filepath.Join(dir, "main"))
		require.NoError(t, err)

		require.NoError(t, prof.Link("aaa-tool-1.0", first))
		require.NoError(t, prof.Link("bbb-other-2.0", second))

		err = prof.Unlink("tool")
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(prof.Path(), "bin", "tool"))
		assert.True(t, os.IsNotExist(err))

		assert.Equal(t, "other\n", readThrough(t, filepath.Join(prof.Path(), "bin", "other")))

		ids, err := prof.Members()
		require.NoError(t, err)

		assert.Equal(t, []string{"bbb-other-2.0"}, ids)
	})

	t.Run("unlink of a non member errors", func(t *testing.T) {
		prof, err := OpenProfile(filepath.Join(t.TempDir(), "main"))
		require.NoError(t, err)

		err = prof.Unlink("ghost")
		require.ErrorIs(t, err, ErrNotMember)
	})

	t.Run("a bare name does not match a longer package name", func(t *testing.T) {
		assert.True(t, refMatches("aaa-tool-1.0", "tool"))
		assert.True(t, refMatches("aaa-tool-1.0", "aaa-tool-1.0"))
		assert.False(t, refMatches("aaa-toolbox-1.0", "tool"))
		assert.False(t, refMatches("aaa-tool-1.0", "other"))
	})

	t.Run("commit drops refs to missing store entries", func(t *testing.T) {
		dir := t.TempDir()
		store := filepath.Join(dir, "store")

		first := writeEntry(t, store, "aaa-tool-1.0", map[string]string{
			"bin/tool": "tool\n",
		})
		second := writeEntry(t, store, "bbb-other-2.0", map[string]string{
			"bin/other": "other\n",
		})

		prof, err := OpenProfile(filepath.Join(dir, "main"))
		require.NoError(t, err)

		require.NoError(t, prof.Link("aaa-tool-1.0", first))
		require.NoError(t, prof.Link("bbb-other-2.0", second))

		err = os.RemoveAll(first)
		require.NoError(t, err)

		err = prof.Commit()
		require.NoError(t, err)

		ids, err := prof.Members()
		require.NoError(t, err)

		assert.Equal(t, []string{"bbb-other-2.0"}, ids)
	})
}

func TestProfileEnv(t *testing.T) {
	t.Run("the profile bin dir leads PATH", func(t *testing.T) {
		prof, err := OpenProfile(filepath.Join(t.TempDir(), "main"))
		require.NoError(t, err)

		m := prof.EnvMap([]string{"PATH=/usr/bin:/bin", "HOME=/home/x"})

		assert.Equal(t, filepath.Join(prof.Path(), "bin")+":/usr/bin:/bin", m["PATH"])
		assert.Equal(t, "/home/x", m["HOME"])
	})

	t.Run("update returns only the changed entries", func(t *testing.T) {
		prof, err := OpenProfile(filepath.Join(t.TempDir(), "main"))
		require.NoError(t, err)

		updates := prof.UpdateEnv([]string{"PATH=/usr/bin", "HOME=/home/x"})

		require.Len(t, updates, 1)
		assert.Equal(t, "PATH="+filepath.Join(prof.Path(), "bin")+":/usr/bin", updates[0])
	})

	t.Run("man and pkgconfig dirs feed their search paths", func(t *testing.T) {
		prof, err := OpenProfile(filepath.Join(t.TempDir(), "main"))
		require.NoError(t, err)

		require.NoError(t, os.MkdirAll(filepath.Join(prof.Path(), "share", "man"), 0755))
		require.NoError(t, os.MkdirAll(filepath.Join(prof.Path(), "lib", "pkgconfig"), 0755))

		m := prof.EnvMap([]string{"PATH=/bin", "MANPATH=/usr/share/man"})

		assert.Equal(t, filepath.Join(prof.Path(), "share", "man")+":/usr/share/man", m["MANPATH"])
		assert.Equal(t, filepath.Join(prof.Path(), "lib", "pkgconfig"), m["PKG_CONFIG_PATH"])
	})

	t.Run("a fresh manpath keeps the system man path in play", func(t *testing.T) {
		prof, err := OpenProfile(filepath.Join(t.TempDir(), "main"))
		require.NoError(t, err)

		require.NoError(t, os.MkdirAll(filepath.Join(prof.Path(), "share", "man"), 0755))

		updates := prof.UpdateEnv([]string{"PATH=/bin"})

		require.Len(t, updates, 2)
		assert.Equal(t, "MANPATH="+filepath.Join(prof.Path(), "share", "man")+":", updates[0])
		assert.Equal(t, "PATH="+filepath.Join(prof.Path(), "bin")+":/bin", updates[1])
	})
}
