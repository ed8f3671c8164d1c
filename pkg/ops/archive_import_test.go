package ops

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
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

func TestArchiveImport(t *testing.T) {
	topdir, err := ioutil.TempDir("", "stoneimport")
	require.NoError(t, err)

	defer os.RemoveAll(topdir)

	ctx := context.Background()

	newStore := func(t *testing.T) *config.Store {
		dir, err := ioutil.TempDir(topdir, "store")
		require.NoError(t, err)

		return &config.Store{
			Paths:   []string{dir},
			Default: dir,
		}
	}

	writeStone := func(t *testing.T, id string, tree map[string]string, priv ed25519.PrivateKey, pub ed25519.PublicKey) string {
		src, err := ioutil.TempDir(topdir, "src")
		require.NoError(t, err)

		for name, content := range tree {
			path := filepath.Join(src, name)

			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, ioutil.WriteFile(path, []byte(content), 0755))
		}

		osName, osVer, arch := config.Platform()

		info := &data.ArchiveInfo{
			ID:      id,
			Name:    "tool",
			Version: "1.0",
			Platform: &data.ArchivePlatform{
				OS:        osName,
				OSVersion: osVer,
				Arch:      arch,
			},
		}

		var ap ArchivePack
		ap.PrivateKey = priv
		ap.PublicKey = pub

		out, err := ioutil.TempDir(topdir, "out")
		require.NoError(t, err)

		stonePath := filepath.Join(out, "tool-1.0"+ArchiveExtension)

		f, err := os.Create(stonePath)
		require.NoError(t, err)

		defer f.Close()

		require.NoError(t, ap.Pack(ctx, info, src, f))

		return stonePath
	}

	t.Run("places a verified archive into the store", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		stone := writeStone(t, "abcdef-tool-1.0", map[string]string{
			"bin/tool": "#!/bin/sh\necho tool\n",
		}, priv, pub)

		imp := &ArchiveImport{store: newStore(t)}

		id, err := imp.Import(ctx, stone)
		require.NoError(t, err)

		assert.Equal(t, "abcdef-tool-1.0", id)

		dir, err := imp.store.Locate(id)
		require.NoError(t, err)

		data, err := ioutil.ReadFile(filepath.Join(dir, "bin/tool"))
		require.NoError(t, err)

		assert.Equal(t, "#!/bin/sh\necho tool\n", string(data))

		fi, err := os.Stat(filepath.Join(dir, "bin/tool"))
		require.NoError(t, err)

		assert.Equal(t, os.FileMode(0555), fi.Mode().Perm())
	})

	t.Run("synthesizes package info from the manifest", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		stone := writeStone(t, "abcdef-tool-1.0", map[string]string{
			"bin/tool": "#!/bin/sh\necho tool\n",
		}, priv, pub)

		imp := &ArchiveImport{store: newStore(t)}

		id, err := imp.Import(ctx, stone)
		require.NoError(t, err)

		dir, err := imp.store.Locate(id)
		require.NoError(t, err)

		f, err := os.Open(filepath.Join(dir, ".pkg-info.json"))
		require.NoError(t, err)

		defer f.Close()

		var pi data.PackageInfo
		require.NoError(t, json.NewDecoder(f).Decode(&pi))

		assert.Equal(t, id, pi.Id)
		assert.Equal(t, "tool", pi.Name)
		assert.Equal(t, "1.0", pi.Version)
	})

	t.Run("keeps package info carried by the archive", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		recorded := `{"id":"abcdef-tool-1.0","name":"tool","version":"1.0","runtime_deps":["zzz-dep-2.0"]}`

		stone := writeStone(t, "abcdef-tool-1.0", map[string]string{
			"bin/tool":       "#!/bin/sh\necho tool\n",
			".pkg-info.json": recorded,
		}, priv, pub)

		imp := &ArchiveImport{store: newStore(t)}

		id, err := imp.Import(ctx, stone)
		require.NoError(t, err)

		dir, err := imp.store.Locate(id)
		require.NoError(t, err)

		f, err := os.Open(filepath.Join(dir, ".pkg-info.json"))
		require.NoError(t, err)

		defer f.Close()

		var pi data.PackageInfo
		require.NoError(t, json.NewDecoder(f).Decode(&pi))

		assert.Equal(t, []string{"zzz-dep-2.0"}, pi.RuntimeDeps)
	})

	t.Run("imports are idempotent", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		stone := writeStone(t, "abcdef-tool-1.0", map[string]string{
			"bin/tool": "#!/bin/sh\necho tool\n",
		}, priv, pub)

		imp := &ArchiveImport{store: newStore(t)}

		id, err := imp.Import(ctx, stone)
		require.NoError(t, err)

		again, err := imp.Import(ctx, stone)
		require.NoError(t, err)

		assert.Equal(t, id, again)
	})

	t.Run("a bad signature leaves no trace in the store", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		pubRogue, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		stone := writeStone(t, "abcdef-tool-1.0", map[string]string{
			"bin/tool": "#!/bin/sh\necho tool\n",
		}, priv, pubRogue)

		imp := &ArchiveImport{store: newStore(t)}

		_, err = imp.Import(ctx, stone)
		require.ErrorIs(t, err, ErrInvalidSignature)

		_, err = imp.store.Locate("abcdef-tool-1.0")
		require.Error(t, err)

		entries, err := ioutil.ReadDir(imp.store.Default)
		require.NoError(t, err)

		assert.Empty(t, entries)
	})
}
