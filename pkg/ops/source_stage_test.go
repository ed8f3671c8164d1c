package ops

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestSourceStage(t *testing.T) {
	t.Run("caches checkouts under escaped urls", func(t *testing.T) {
		dir := gitCacheDir("/data/sources", "https://github.com/Foo/bar.git", "v1.2")
		assert.Equal(t, filepath.Join("/data/sources", "git", "github.com/!foo/bar@v1.2"), dir)

		dir = gitCacheDir("/data/sources", "git@github.com:foo/bar.git", "abc123")
		assert.Equal(t, filepath.Join("/data/sources", "git", "github.com/foo/bar@abc123"), dir)
	})

	t.Run("unescapable remotes get digest names", func(t *testing.T) {
		dir := gitCacheDir("/data/sources", "https://example.com/some thing.git", "v1")

		assert.True(t, strings.HasPrefix(dir, filepath.Join("/data/sources", "git")+string(filepath.Separator)))
		assert.True(t, strings.HasSuffix(dir, "@v1"))
		assert.NotContains(t, dir, " ")
	})

	t.Run("stages a url origin from the sources cache", func(t *testing.T) {
		top, err := ioutil.TempDir("", "stage")
		require.NoError(t, err)

		defer os.RemoveAll(top)

		cfg := &config.Config{DataDir: top}

		require.NoError(t, os.MkdirAll(cfg.SourcesPath(), 0755))

		content := []byte("not really a tarball")

		err = ioutil.WriteFile(filepath.Join(cfg.SourcesPath(), "hello-1.0.tar.gz"), content, 0644)
		require.NoError(t, err)

		h, _ := blake2b.New256(nil)
		h.Write(content)

		sp := &ScriptPackage{
			cs: ScriptCalcSig{
				Origins: []*Origin{
					{
						Kind:    OriginURL,
						URL:     "https://example.com/hello-1.0.tar.gz",
						SumType: "b2",
						Sum:     h.Sum(nil),
					},
				},
			},
		}

		buildDir := filepath.Join(top, "build")
		require.NoError(t, os.MkdirAll(buildDir, 0755))

		var ss SourceStage
		ss.cfg = cfg

		primary, err := ss.Stage(context.Background(), sp, buildDir)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(buildDir, "hello-1.0.tar.gz"), primary)

		fi, err := os.Lstat(primary)
		require.NoError(t, err)

		assert.Equal(t, os.ModeSymlink, fi.Mode()&os.ModeSymlink)
	})

	t.Run("an asset beside the script wins over the cache", func(t *testing.T) {
		top, err := ioutil.TempDir("", "stage")
		require.NoError(t, err)

		defer os.RemoveAll(top)

		cfg := &config.Config{DataDir: top}

		require.NoError(t, os.MkdirAll(cfg.SourcesPath(), 0755))

		err = ioutil.WriteFile(filepath.Join(cfg.SourcesPath(), "hello-1.0.tar.gz"), []byte("stale cache copy"), 0644)
		require.NoError(t, err)

		scripts := filepath.Join(top, "scripts")
		require.NoError(t, os.MkdirAll(scripts, 0755))

		err = ioutil.WriteFile(filepath.Join(scripts, "hello"+repo.Extension), []byte("pkg(name=\"hello\")\n"), 0644)
		require.NoError(t, err)

		content := []byte("checked in beside the script")

		err = ioutil.WriteFile(filepath.Join(scripts, "hello-1.0.tar.gz"), content, 0644)
		require.NoError(t, err)

		r, err := repo.Open(scripts)
		require.NoError(t, err)

		ent, err := r.Lookup("hello")
		require.NoError(t, err)

		h, _ := blake2b.New256(nil)
		h.Write(content)

		sp := &ScriptPackage{
			ent: ent,
			cs: ScriptCalcSig{
				Origins: []*Origin{
					{
						Kind:    OriginURL,
						URL:     "https://example.com/hello-1.0.tar.gz",
						SumType: "b2",
						Sum:     h.Sum(nil),
					},
				},
			},
		}

		buildDir := filepath.Join(top, "build")
		require.NoError(t, os.MkdirAll(buildDir, 0755))

		var ss SourceStage
		ss.cfg = cfg

		primary, err := ss.Stage(context.Background(), sp, buildDir)
		require.NoError(t, err)

		target, err := os.Readlink(primary)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(scripts, "hello-1.0.tar.gz"), target)
	})

	t.Run("a missing source names where to put it", func(t *testing.T) {
		top, err := ioutil.TempDir("", "stage")
		require.NoError(t, err)

		defer os.RemoveAll(top)

		cfg := &config.Config{DataDir: top}

		sp := &ScriptPackage{
			cs: ScriptCalcSig{
				Origins: []*Origin{
					{
						Kind: OriginURL,
						URL:  "https://example.com/absent.tar.gz",
					},
				},
			},
		}

		var ss SourceStage
		ss.cfg = cfg

		_, err = ss.Stage(context.Background(), sp, top)
		require.Error(t, err)

		require.ErrorIs(t, err, ErrSourceMissing)
		assert.Contains(t, err.Error(), filepath.Join(cfg.SourcesPath(), "absent.tar.gz"))
	})

	t.Run("rejects staged bytes whose sum disagrees", func(t *testing.T) {
		top, err := ioutil.TempDir("", "stage")
		require.NoError(t, err)

		defer os.RemoveAll(top)

		cfg := &config.Config{DataDir: top}

		require.NoError(t, os.MkdirAll(cfg.SourcesPath(), 0755))

		err = ioutil.WriteFile(filepath.Join(cfg.SourcesPath(), "hello-1.0.tar.gz"), []byte("tampered"), 0644)
		require.NoError(t, err)

		h, _ := blake2b.New256(nil)
		h.Write([]byte("the declared content"))

		sp := &ScriptPackage{
			cs: ScriptCalcSig{
				Origins: []*Origin{
					{
						Kind:    OriginURL,
						URL:     "https://example.com/hello-1.0.tar.gz",
						SumType: "b2",
						Sum:     h.Sum(nil),
					},
				},
			},
		}

		var ss SourceStage
		ss.cfg = cfg

		_, err = ss.Stage(context.Background(), sp, top)
		require.Error(t, err)

		require.ErrorIs(t, err, ErrCorruption)
		assert.Contains(t, err.Error(), "sum mismatch")
	})
}
