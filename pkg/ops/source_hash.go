package ops

import (
	"crypto/sha256"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// pathUnder joins sub onto root, clamping dot-dot so the result never
// escapes root.
func pathUnder(root, sub string) string {
	return filepath.Join(root, filepath.Clean("/"+sub))
}

// hashTree sums a directory without regard to walk order: each entry
// hashes alone and the digests fold together, so two copies of the
// same tree always agree. Entry identity covers the relative path,
// the kind, the exec bit, and the content or link target. A .git
// subdirectory is not part of the source.
func hashTree(L hclog.Logger, root string) ([]byte, error) {
	var acc [32]byte

	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if fi.IsDir() {
			if fi.Name() == ".git" && rel != "." {
				return filepath.SkipDir
			}

			if rel == "." {
				return nil
			}
		}

		h, _ := blake2b.New256(nil)

		h.Write([]byte(rel))
		h.Write([]byte{0})

		mode := fi.Mode()

		switch {
		case mode&os.ModeSymlink != 0:
			tgt, err := os.Readlink(path)
			if err != nil {
				return err
			}

			h.Write([]byte{'l'})
			h.Write([]byte(tgt))
		case fi.IsDir():
			h.Write([]byte{'d'})
		case mode.IsRegular():
			h.Write([]byte{'f'})

			if mode&0100 != 0 {
				h.Write([]byte{'x'})
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}

			_, err = io.Copy(h, f)
			f.Close()

			if err != nil {
				return err
			}
		default:
			// sockets and devices aren't source
			return nil
		}

		var d [32]byte
		h.Sum(d[:0])

		L.Trace("tree entry hashed", "path", rel, "sum", base58.Encode(d[:]))

		for i := range acc {
			acc[i] ^= d[i]
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(acc))
	copy(out, acc[:])

	return out, nil
}

// SourceHash sums local files and trees in the forms descriptors
// accept, for authors filling in origin sums.
type SourceHash struct {
	common
}

// Hash sums path with the named algo and renders it printable. A
// directory always sums as a b2 tree.
func (s *SourceHash) Hash(algo, path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if fi.IsDir() {
		if algo == "sha256" {
			return "", errors.Wrapf(ErrSumFormat, "directories sum as b2 trees only")
		}

		sum, err := hashTree(s.L(), path)
		if err != nil {
			return "", err
		}

		return renderSum("b2", sum), nil
	}

	if algo == "" {
		algo = "b2"
	}

	sum, err := hashFile(algo, path)
	if err != nil {
		return "", err
	}

	return renderSum(algo, sum), nil
}

// hashFile sums one file with the named algo, defaulting to b2.
func hashFile(algo, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var h hash.Hash

	switch algo {
	case "sha256":
		h = sha256.New()
	case "b2", "":
		h, _ = blake2b.New256(nil)
	default:
		return nil, errors.Wrapf(ErrSumFormat, "unknown sum type %s", algo)
	}

	_, err = io.Copy(h, f)
	if err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}
