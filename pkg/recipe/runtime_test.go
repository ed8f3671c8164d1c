package recipe

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/lab47/exprcore/exprcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callAttr(t *testing.T, rt *Runtime, name string, kwargs ...string) error {
	t.Helper()

	fn, err := rt.Attr(name)
	require.NoError(t, err)

	var kw []exprcore.Tuple
	for i := 0; i < len(kwargs); i += 2 {
		kw = append(kw, exprcore.Tuple{
			exprcore.String(kwargs[i]),
			exprcore.String(kwargs[i+1]),
		})
	}

	var thread exprcore.Thread

	_, err = exprcore.Call(&thread, fn, nil, kw)
	return err
}

func mkTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for name, data := range files {
		err = tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(data)),
		})
		require.NoError(t, err)

		_, err = tw.Write([]byte(data))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestRuntime(t *testing.T) {
	newRT := func(t *testing.T) *Runtime {
		t.Helper()

		return NewRuntime(Env{
			WorkDir:    t.TempDir(),
			InstallDir: t.TempDir(),
			Environ:    []string{"PATH=" + os.Getenv("PATH")},
			Console:    &bytes.Buffer{},
		})
	}

	t.Run("write_file lands under the prefix", func(t *testing.T) {
		rt := newRT(t)

		err := callAttr(t, rt, "write_file", "target", "etc/flag", "data", "ok")
		require.NoError(t, err)

		data, err := ioutil.ReadFile(filepath.Join(rt.installDir, "etc", "flag"))
		require.NoError(t, err)

		assert.Equal(t, "ok", string(data))
	})

	t.Run("mkdir and rm_rf operate under the working directory", func(t *testing.T) {
		rt := newRT(t)

		err := callAttr(t, rt, "mkdir", "dir", "a/b")
		require.NoError(t, err)

		fi, err := os.Stat(filepath.Join(rt.workDir, "a", "b"))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())

		err = callAttr(t, rt, "rm_rf", "path", "a")
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(rt.workDir, "a"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("paths may not escape with dotdot", func(t *testing.T) {
		rt := newRT(t)

		err := callAttr(t, rt, "rm_rf", "path", "../escape")
		require.Error(t, err)

		err = callAttr(t, rt, "inreplace", "file", "../escape", "pattern", "a", "target", "b")
		require.Error(t, err)
	})

	t.Run("inreplace rewrites in place", func(t *testing.T) {
		rt := newRT(t)

		path := filepath.Join(rt.workDir, "Makefile")
		require.NoError(t, ioutil.WriteFile(path, []byte("PREFIX=/usr/local\n"), 0644))

		err := callAttr(t, rt, "inreplace", "file", "Makefile", "pattern", "/usr/local", "target", "/opt")
		require.NoError(t, err)

		data, err := ioutil.ReadFile(path)
		require.NoError(t, err)

		assert.Equal(t, "PREFIX=/opt\n", string(data))
	})

	t.Run("set_env replaces, append and prepend merge", func(t *testing.T) {
		rt := newRT(t)

		err := callAttr(t, rt, "set_env", "key", "CFLAGS", "value", "-O2")
		require.NoError(t, err)
		assert.Contains(t, rt.extraEnv, "CFLAGS=-O2")

		err = callAttr(t, rt, "append_env", "key", "CFLAGS", "value", "-g")
		require.NoError(t, err)
		assert.Contains(t, rt.extraEnv, "CFLAGS=-O2:-g")

		err = callAttr(t, rt, "prepend_env", "key", "CFLAGS", "value", "-Wall")
		require.NoError(t, err)
		assert.Contains(t, rt.extraEnv, "CFLAGS=-Wall:-O2:-g")
	})

	t.Run("append_env extends the lookup path", func(t *testing.T) {
		rt := newRT(t)

		base := rt.path

		err := callAttr(t, rt, "append_env", "key", "PATH", "value", "/extra/bin")
		require.NoError(t, err)

		assert.Equal(t, base+":/extra/bin", rt.path)
	})

	t.Run("system streams labeled output and tees the log", func(t *testing.T) {
		var console, log bytes.Buffer

		rt := NewRuntime(Env{
			WorkDir:      t.TempDir(),
			Environ:      []string{"PATH=" + os.Getenv("PATH")},
			OutputPrefix: "demo",
			Console:      &console,
			BuildLog:     &log,
		})

		err := rt.System("", "sh", "-c", "echo hello")
		require.NoError(t, err)

		assert.Contains(t, console.String(), "demo │ hello")
		assert.Contains(t, log.String(), "$ ")
		assert.Contains(t, log.String(), "hello")
	})

	t.Run("system reports a failing command", func(t *testing.T) {
		rt := newRT(t)

		err := rt.System("", "sh", "-c", "exit 3")
		require.Error(t, err)
	})

	t.Run("unpack picks a decompressor by suffix", func(t *testing.T) {
		rt := newRT(t)

		archive := filepath.Join(rt.topDir, "pkg-1.0.tar.gz")
		mkTarGz(t, archive, map[string]string{
			"pkg-1.0/README": "hi\n",
		})

		out := filepath.Join(rt.topDir, "source")
		require.NoError(t, os.MkdirAll(out, 0755))

		err := rt.Unpack(archive, out)
		require.NoError(t, err)

		data, err := ioutil.ReadFile(filepath.Join(out, "pkg-1.0", "README"))
		require.NoError(t, err)
		assert.Equal(t, "hi\n", string(data))
	})

	t.Run("the unpack phase descends into a lone directory", func(t *testing.T) {
		top := t.TempDir()

		archive := filepath.Join(top, "pkg-1.0.tar.gz")
		mkTarGz(t, archive, map[string]string{
			"pkg-1.0/README": "hi\n",
		})

		rt := NewRuntime(Env{
			WorkDir:    top,
			TopDir:     top,
			SourcePath: archive,
			Console:    &bytes.Buffer{},
		})

		require.NoError(t, unpackPhase(rt))

		assert.Equal(t, filepath.Join(top, "source", "pkg-1.0"), rt.workDir)
	})

	t.Run("chdir runs the function in the directory and restores", func(t *testing.T) {
		rt := newRT(t)

		require.NoError(t, os.MkdirAll(filepath.Join(rt.workDir, "sub"), 0755))

		base := rt.workDir

		var seen string

		probe := exprcore.NewBuiltin("probe", func(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
			seen = rt.workDir
			return exprcore.None, nil
		})

		fn, err := rt.Attr("chdir")
		require.NoError(t, err)

		var thread exprcore.Thread

		_, err = exprcore.Call(&thread, fn, nil, []exprcore.Tuple{
			{exprcore.String("dir"), exprcore.String("sub")},
			{exprcore.String("fn"), probe},
		})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(base, "sub"), seen)
		assert.Equal(t, base, rt.workDir)
	})

	t.Run("hash mode describes operations instead of running them", func(t *testing.T) {
		var h1, h2 bytes.Buffer

		dir := t.TempDir()

		rt := NewRuntime(Env{InstallDir: dir, Hasher: &h1})

		err := callAttr(t, rt, "write_file", "target", "etc/flag", "data", "ok")
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(dir, "etc", "flag"))
		assert.True(t, os.IsNotExist(err))

		assert.Contains(t, h1.String(), `"write-file"`)

		rt2 := NewRuntime(Env{InstallDir: dir, Hasher: &h2})

		err = callAttr(t, rt2, "write_file", "target", "etc/flag", "data", "ok")
		require.NoError(t, err)

		assert.Equal(t, h1.String(), h2.String())
	})
}
