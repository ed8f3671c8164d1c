package ops

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStoreEntry(t *testing.T, dir string, pi data.PackageInfo) string {
	t.Helper()

	entry := filepath.Join(dir, pi.Id)

	err := os.MkdirAll(entry, 0755)
	require.NoError(t, err)

	blob, err := json.Marshal(&pi)
	require.NoError(t, err)

	err = ioutil.WriteFile(filepath.Join(entry, ".pkg-info.json"), blob, 0644)
	require.NoError(t, err)

	return entry
}

func TestVersionLess(t *testing.T) {
	t.Run("orders semantic versions semantically", func(t *testing.T) {
		assert.True(t, versionLess("1.9.0", "1.10.0"))
		assert.False(t, versionLess("1.10.0", "1.9.0"))
	})

	t.Run("falls back to lexical order", func(t *testing.T) {
		assert.True(t, versionLess("2021a", "2021b"))
		assert.False(t, versionLess("unknown", "20"))
	})
}

func TestStoreFind(t *testing.T) {
	t.Run("picks the newest installed version of a name", func(t *testing.T) {
		dir := t.TempDir()

		writeStoreEntry(t, dir, data.PackageInfo{Id: "aaa-foo-1.9.0", Name: "foo", Version: "1.9.0"})
		writeStoreEntry(t, dir, data.PackageInfo{Id: "bbb-foo-1.10.0", Name: "foo", Version: "1.10.0"})
		writeStoreEntry(t, dir, data.PackageInfo{Id: "ccc-bar-3.0", Name: "bar", Version: "3.0"})

		sf := StoreFind{
			Store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		pi, err := sf.FindLatest("foo")
		require.NoError(t, err)

		assert.Equal(t, "bbb-foo-1.10.0", pi.Id)
	})

	t.Run("unknown names report not found", func(t *testing.T) {
		dir := t.TempDir()

		sf := StoreFind{
			Store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		_, err := sf.FindLatest("nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("reconstructs an installed package with its dep closure", func(t *testing.T) {
		dir := t.TempDir()

		writeStoreEntry(t, dir, data.PackageInfo{
			Id: "aaa-tool-1.0", Name: "tool", Version: "1.0",
			Repo:        "github.com/cairnpkg/packages",
			RuntimeDeps: []string{"bbb-lib-2.0"},
		})
		writeStoreEntry(t, dir, data.PackageInfo{
			Id: "bbb-lib-2.0", Name: "lib", Version: "2.0",
		})

		sf := StoreFind{
			Store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		pkg, err := sf.InstalledPackage("tool")
		require.NoError(t, err)

		assert.Equal(t, "aaa-tool-1.0", pkg.ID())
		assert.Equal(t, "tool", pkg.Name())
		assert.Equal(t, "github.com/cairnpkg/packages", pkg.Repo())

		deps := pkg.Dependencies()
		require.Len(t, deps, 1)
		assert.Equal(t, "bbb-lib-2.0", deps[0].ID())

		byID, err := sf.InstalledPackage("bbb-lib-2.0")
		require.NoError(t, err)
		assert.Equal(t, "lib", byID.Name())
	})

	t.Run("an installed package missing a dep is an error", func(t *testing.T) {
		dir := t.TempDir()

		writeStoreEntry(t, dir, data.PackageInfo{
			Id: "aaa-tool-1.0", Name: "tool", Version: "1.0",
			RuntimeDeps: []string{"bbb-gone-2.0"},
		})

		sf := StoreFind{
			Store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		_, err := sf.InstalledPackage("tool")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bbb-gone-2.0")
	})
}

func TestStoreScan(t *testing.T) {
	t.Run("front paths shadow their parents", func(t *testing.T) {
		front := t.TempDir()
		parent := t.TempDir()

		writeStoreEntry(t, front, data.PackageInfo{Id: "aaa-foo-1.0", Name: "foo", Version: "1.0"})
		writeStoreEntry(t, parent, data.PackageInfo{Id: "aaa-foo-1.0", Name: "shadowed", Version: "1.0"})
		writeStoreEntry(t, parent, data.PackageInfo{Id: "bbb-bar-2.0", Name: "bar", Version: "2.0"})

		ss := StoreScan{
			Store: &config.Store{Paths: []string{front, parent}, Default: front},
		}

		byId := map[string]string{}

		err := ss.Scan(func(pi *data.PackageInfo) error {
			byId[pi.Id] = pi.Name
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"aaa-foo-1.0": "foo",
			"bbb-bar-2.0": "bar",
		}, byId)
	})

	t.Run("work directories and bad entries are skipped", func(t *testing.T) {
		dir := t.TempDir()

		writeStoreEntry(t, dir, data.PackageInfo{Id: "aaa-foo-1.0", Name: "foo", Version: "1.0"})

		// in-flight import
		err := os.MkdirAll(filepath.Join(dir, "_import123"), 0755)
		require.NoError(t, err)

		// entry whose recorded id disagrees with its path
		lying := writeStoreEntry(t, dir, data.PackageInfo{Id: "zzz-other-9.9", Name: "other", Version: "9.9"})
		err = os.Rename(lying, filepath.Join(dir, "bbb-bar-2.0"))
		require.NoError(t, err)

		// entry with no info at all
		err = os.MkdirAll(filepath.Join(dir, "ccc-baz-3.0"), 0755)
		require.NoError(t, err)

		ss := StoreScan{
			Store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		var ids []string

		err = ss.Scan(func(pi *data.PackageInfo) error {
			ids = append(ids, pi.Id)
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, []string{"aaa-foo-1.0"}, ids)
	})
}

func TestStoreFindDeps(t *testing.T) {
	t.Run("keeps only the deps the payload refers to", func(t *testing.T) {
		dir := t.TempDir()

		entry := writeStoreEntry(t, dir, data.PackageInfo{Id: "aaa-tool-1.0", Name: "tool", Version: "1.0"})

		err := os.MkdirAll(filepath.Join(entry, "bin"), 0755)
		require.NoError(t, err)

		script := "#!/bin/sh\nexec /opt/stela/bbb-dep-2.0/bin/dep \"$@\"\n"

		err = ioutil.WriteFile(filepath.Join(entry, "bin", "tool"), []byte(script), 0755)
		require.NoError(t, err)

		err = os.Symlink("/opt/stela/ccc-lib-3.0/lib/liblib.so", filepath.Join(entry, "bin", "liblib.so"))
		require.NoError(t, err)

		used := &ScriptPackage{id: "bbb-dep-2.0"}
		linked := &ScriptPackage{id: "ccc-lib-3.0"}
		unused := &ScriptPackage{id: "ddd-extra-4.0"}

		sfd := StoreFindDeps{
			store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		pruned, err := sfd.PruneDeps(context.Background(), "aaa-tool-1.0", []*ScriptPackage{used, linked, unused})
		require.NoError(t, err)

		var ids []string
		for _, dep := range pruned {
			ids = append(ids, dep.ID())
		}

		assert.Equal(t, []string{"bbb-dep-2.0", "ccc-lib-3.0"}, ids)
	})

	t.Run("no references means no runtime deps", func(t *testing.T) {
		dir := t.TempDir()

		entry := writeStoreEntry(t, dir, data.PackageInfo{Id: "aaa-tool-1.0", Name: "tool", Version: "1.0"})

		err := ioutil.WriteFile(filepath.Join(entry, "notes"), []byte("standalone"), 0644)
		require.NoError(t, err)

		sfd := StoreFindDeps{
			store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		pruned, err := sfd.PruneDeps(context.Background(), "aaa-tool-1.0", []*ScriptPackage{
			{id: "bbb-dep-2.0"},
		})
		require.NoError(t, err)

		assert.Empty(t, pruned)
	})
}
