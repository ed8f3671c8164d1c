package ops

import (
	"archive/tar"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"cairn.dev/cairn/pkg/data"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

const testBin = "#!/bin/sh\necho 'hello'\n"

func TestArchiveUnpack(t *testing.T) {
	topdir, err := ioutil.TempDir("", "stoneunpack")
	require.NoError(t, err)

	defer os.RemoveAll(topdir)

	dir := filepath.Join(topdir, "t")

	newStone := func(id string, priv ed25519.PrivateKey, pub ed25519.PublicKey, name string) io.Reader {
		var buf bytes.Buffer

		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)

		tw := tar.NewWriter(zw)

		dh, _ := blake2b.New256(nil)

		var ci data.ArchiveInfo
		ci.ID = id

		if len(pub) != 0 {
			ci.Signer = base58.Encode(pub)
		}

		infoData, err := json.MarshalIndent(&ci, "", "  ")
		require.NoError(t, err)

		var ihdr tar.Header
		ihdr.Name = ArchiveInfoJson
		ihdr.Format = tar.FormatPAX
		ihdr.Mode = 0400
		ihdr.Typeflag = tar.TypeReg
		ihdr.Size = int64(len(infoData))

		require.NoError(t, tw.WriteHeader(&ihdr))

		_, err = tw.Write(infoData)
		require.NoError(t, err)

		var hdr tar.Header
		hdr.Size = int64(len(testBin))
		hdr.Name = name
		hdr.Format = tar.FormatPAX
		hdr.Mode = 0755
		hdr.Typeflag = tar.TypeReg

		require.NoError(t, tw.WriteHeader(&hdr))

		_, err = io.WriteString(tw, testBin)
		require.NoError(t, err)

		io.WriteString(dh, name)
		dh.Write([]byte{0})
		io.WriteString(dh, testBin)

		dh.Write(infoData)

		if priv != nil {
			sig := ed25519.Sign(priv, dh.Sum(nil))

			var shdr tar.Header
			shdr.Name = SignatureEntry
			shdr.Format = tar.FormatPAX
			shdr.Mode = 0400
			shdr.Typeflag = tar.TypeReg
			shdr.Size = int64(len(sig))

			require.NoError(t, tw.WriteHeader(&shdr))

			_, err = tw.Write(sig)
			require.NoError(t, err)
		}

		require.NoError(t, tw.Close())
		require.NoError(t, zw.Close())

		return &buf
	}

	newStoneLink := func(id string, priv ed25519.PrivateKey, pub ed25519.PublicKey, tg string) io.Reader {
		var buf bytes.Buffer

		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)

		tw := tar.NewWriter(zw)

		dh, _ := blake2b.New256(nil)

		var ci data.ArchiveInfo
		ci.ID = id

		if len(pub) != 0 {
			ci.Signer = base58.Encode(pub)
		}

		infoData, err := json.MarshalIndent(&ci, "", "  ")
		require.NoError(t, err)

		var ihdr tar.Header
		ihdr.Name = ArchiveInfoJson
		ihdr.Format = tar.FormatPAX
		ihdr.Mode = 0400
		ihdr.Typeflag = tar.TypeReg
		ihdr.Size = int64(len(infoData))

		require.NoError(t, tw.WriteHeader(&ihdr))

		_, err = tw.Write(infoData)
		require.NoError(t, err)

		var hdr tar.Header
		hdr.Name = "bin/test"
		hdr.Format = tar.FormatPAX
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = tg

		require.NoError(t, tw.WriteHeader(&hdr))

		io.WriteString(dh, "bin/test")
		dh.Write([]byte{1})
		io.WriteString(dh, tg)
		dh.Write([]byte{0})

		dh.Write(infoData)

		if priv != nil {
			sig := ed25519.Sign(priv, dh.Sum(nil))

			var shdr tar.Header
			shdr.Name = SignatureEntry
			shdr.Format = tar.FormatPAX
			shdr.Mode = 0400
			shdr.Typeflag = tar.TypeReg
			shdr.Size = int64(len(sig))

			require.NoError(t, tw.WriteHeader(&shdr))

			_, err = tw.Write(sig)
			require.NoError(t, err)
		}

		require.NoError(t, tw.Close())
		require.NoError(t, zw.Close())

		return &buf
	}

	t.Run("expands an archive into a directory", func(t *testing.T) {
		require.NoError(t, os.Mkdir(dir, 0755))
		defer os.RemoveAll(dir)

		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		var au ArchiveUnpack

		f := newStone("abcdef-test-0.1", priv, pub, "bin/test")

		err = au.Install(f, dir)
		require.NoError(t, err)

		data, err := ioutil.ReadFile(filepath.Join(dir, "bin/test"))
		require.NoError(t, err)

		assert.Equal(t, testBin, string(data))

		assert.Equal(t, "abcdef-test-0.1", au.Info.ID)
	})

	t.Run("checks the signature of the data", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		require.NoError(t, os.Mkdir(dir, 0755))
		defer os.RemoveAll(dir)

		var au ArchiveUnpack

		f := newStone("abcdef-test-0.1", priv, pub, "bin/test")

		err = au.Install(f, dir)
		require.NoError(t, err)

		dh, _ := blake2b.New256(nil)
		io.WriteString(dh, "bin/test")
		dh.Write([]byte{0})
		io.WriteString(dh, testBin)

		infoData, err := json.MarshalIndent(au.Info, "", "  ")
		require.NoError(t, err)

		dh.Write(infoData)

		assert.Equal(t, base58.Encode(pub), au.Info.Signer)

		sig := ed25519.Sign(priv, dh.Sum(nil))
		assert.Equal(t, sig, au.Signature)
	})

	t.Run("errors out if the signature check fails", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		require.NoError(t, os.Mkdir(dir, 0755))
		defer os.RemoveAll(dir)

		var au ArchiveUnpack

		pubRogue, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		f := newStone("abcdef-test-0.1", priv, pubRogue, "bin/test")

		err = au.Install(f, dir)
		require.ErrorIs(t, err, ErrInvalidSignature)

		_, err = os.Stat(filepath.Join(dir, "bin/test"))
		require.Error(t, err)
	})

	t.Run("rejects an unsigned archive", func(t *testing.T) {
		require.NoError(t, os.Mkdir(dir, 0755))
		defer os.RemoveAll(dir)

		var au ArchiveUnpack

		f := newStone("abcdef-test-0.1", nil, nil, "bin/test")

		err = au.Install(f, dir)
		require.ErrorIs(t, err, ErrNoSignature)

		_, err = os.Stat(dir)
		require.Error(t, err)
	})

	t.Run("link targets are part of the signature", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		require.NoError(t, os.Mkdir(dir, 0755))
		defer os.RemoveAll(dir)

		var au1 ArchiveUnpack

		f1 := newStoneLink("abcdef-test-0.1", priv, pub, "bin/a")

		err = au1.Install(f1, dir)
		require.NoError(t, err)

		tgt, err := os.Readlink(filepath.Join(dir, "bin/test"))
		require.NoError(t, err)

		assert.Equal(t, "bin/a", tgt)

		dir2 := filepath.Join(topdir, "b")
		require.NoError(t, os.Mkdir(dir2, 0755))
		defer os.RemoveAll(dir2)

		var au2 ArchiveUnpack
		f2 := newStoneLink("abcdef-test-0.1", priv, pub, "bin/b")

		err = au2.Install(f2, dir2)
		require.NoError(t, err)

		assert.NotEqual(t, au1.Signature, au2.Signature)
	})

	t.Run("keeps entries inside the target dir", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		require.NoError(t, os.Mkdir(dir, 0755))
		defer os.RemoveAll(dir)

		var au ArchiveUnpack

		f := newStone("abcdef-test-0.1", priv, pub, "../escape")

		err = au.Install(f, dir)
		require.NoError(t, err)

		_, err = os.Stat(filepath.Join(topdir, "escape"))
		require.Error(t, err)

		_, err = os.Stat(filepath.Join(dir, "escape"))
		require.NoError(t, err)
	})
}
