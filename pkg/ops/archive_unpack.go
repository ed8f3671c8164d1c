package ops

import (
	"archive/tar"
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/data"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNoSignature      = errors.New("no signature")
)

const (
	ArchiveInfoJson = ".stone-info.json"
	SignatureEntry  = "~signature"
)

// ArchiveUnpack expands a .stone stream into a directory, verifying
// the embedded signature as it goes. A stream that fails verification
// leaves nothing behind: the expanded tree is removed before the
// error returns.
type ArchiveUnpack struct {
	Info      data.ArchiveInfo
	Signature []byte
}

func (r *ArchiveUnpack) Install(in io.Reader, dir string) error {
	h, _ := blake2b.New256(nil)

	zr, err := zstd.NewReader(io.TeeReader(in, h))
	if err != nil {
		return err
	}

	defer zr.Close()

	tr := tar.NewReader(zr)

	dh, _ := blake2b.New256(nil)

	var sig []byte

	var infoData []byte
top:
	for {
		hdr, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return err
		}

		switch hdr.Name {
		case ArchiveInfoJson:
			var buf bytes.Buffer

			_, err = io.Copy(&buf, tr)
			if err != nil {
				return err
			}

			infoData = buf.Bytes()

			err = json.Unmarshal(infoData, &r.Info)
			if err != nil {
				return err
			}

			continue top
		case SignatureEntry:
			sig, err = ioutil.ReadAll(tr)
			if err != nil {
				return err
			}

			continue top
		}

		path := pathUnder(dir, hdr.Name)

		parent := filepath.Dir(path)

		if _, err := os.Stat(parent); err != nil {
			err = os.MkdirAll(parent, 0755)
			if err != nil {
				return err
			}
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			io.WriteString(dh, hdr.Name)
			dh.Write([]byte{0})

			mode := hdr.FileInfo().Mode()
			f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
			if err != nil {
				return err
			}

			_, err = io.Copy(io.MultiWriter(dh, f), tr)
			if err != nil {
				f.Close()
				return err
			}

			err = f.Close()
			if err != nil {
				return err
			}
		case tar.TypeSymlink:
			io.WriteString(dh, hdr.Name)
			dh.Write([]byte{1})
			io.WriteString(dh, hdr.Linkname)
			dh.Write([]byte{0})

			err = os.Symlink(hdr.Linkname, path)
			if err != nil {
				return err
			}
		}
	}

	dh.Write(infoData)

	if r.Info.Signer == "" || len(sig) == 0 {
		os.RemoveAll(dir)
		return ErrNoSignature
	}

	signer, err := base58.Decode(r.Info.Signer)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	if !ed25519.Verify(ed25519.PublicKey(signer), dh.Sum(nil), sig) {
		os.RemoveAll(dir)
		return ErrInvalidSignature
	}

	r.Signature = sig

	return nil
}
