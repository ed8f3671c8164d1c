package ops

import (
	"archive/tar"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cairn.dev/cairn/pkg/data"
	"cairn.dev/cairn/pkg/progress"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// ArchivePack writes a store entry out as a signed .stone stream. The
// tar is deterministic: entries sorted by path, uids and times zeroed,
// PAX format. Every entry is folded into a blake2b digest which the
// trailing signature entry covers.
type ArchivePack struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey

	// Sum is the blake2b digest of the compressed stream, set once
	// Pack returns.
	Sum []byte
}

func cleanArchiveHeader(hdr *tar.Header) {
	hdr.Uid = 0
	hdr.Gid = 0
	hdr.Uname = ""
	hdr.Gname = ""
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.ModTime = time.Time{}
	hdr.Format = tar.FormatPAX
}

func (a *ArchivePack) Pack(ctx context.Context, info *data.ArchiveInfo, dir string, w io.Writer) error {
	var (
		files []string
		total int64
	)

	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		switch fi.Mode() & os.ModeType {
		case 0:
			files = append(files, path)
			total += fi.Size()
		case os.ModeSymlink:
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return err
	}

	sort.Strings(files)

	info.Signer = base58.Encode(a.PublicKey)

	infoData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	h, _ := blake2b.New256(nil)

	zw, err := zstd.NewWriter(io.MultiWriter(w, h))
	if err != nil {
		return err
	}

	tw := tar.NewWriter(zw)

	closed := false

	defer func() {
		if !closed {
			tw.Close()
			zw.Close()
		}
	}()

	dh, _ := blake2b.New256(nil)

	// The manifest rides ahead of the content so a reader can learn
	// what the archive holds before committing to extract it. The
	// digest still folds it in last, after every payload entry.
	var ihdr tar.Header
	cleanArchiveHeader(&ihdr)
	ihdr.Name = ArchiveInfoJson
	ihdr.Typeflag = tar.TypeReg
	ihdr.Mode = 0400
	ihdr.Size = int64(len(infoData))

	err = tw.WriteHeader(&ihdr)
	if err != nil {
		return err
	}

	_, err = tw.Write(infoData)
	if err != nil {
		return err
	}

	pb := progress.Bytes(ctx, total, "Packing "+info.Name)
	defer pb.Close()

	for _, file := range files {
		fi, err := os.Lstat(file)
		if err != nil {
			return err
		}

		err = func() error {
			var link string

			if fi.Mode()&os.ModeSymlink != 0 {
				link, err = os.Readlink(file)
				if err != nil {
					return err
				}

				// Targets inside the entry are carried relative to the
				// link so the archive can land in any store path.
				// Absolute targets outside stay as written; they are
				// how dependency references survive in link form.
				if filepath.IsAbs(link) && strings.HasPrefix(link, dir+"/") {
					link, err = filepath.Rel(filepath.Dir(file), link)
					if err != nil {
						return err
					}
				}
			}

			hdr, err := tar.FileInfoHeader(fi, link)
			if err != nil {
				return err
			}

			cleanArchiveHeader(hdr)
			hdr.Name = file[len(dir)+1:]

			if link == "" {
				io.WriteString(dh, hdr.Name)
				dh.Write([]byte{0})
			} else {
				io.WriteString(dh, hdr.Name)
				dh.Write([]byte{1})
				io.WriteString(dh, hdr.Linkname)
				dh.Write([]byte{0})
			}

			err = tw.WriteHeader(hdr)
			if err != nil {
				return errors.Wrapf(err, "writing file header: %s", hdr.Name)
			}

			if link != "" {
				return nil
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}

			defer f.Close()

			n, err := io.Copy(io.MultiWriter(tw, dh), f)
			pb.Add(n)

			return err
		}()

		if err != nil {
			return err
		}
	}

	dh.Write(infoData)

	signature := ed25519.Sign(a.PrivateKey, dh.Sum(nil))

	var shdr tar.Header
	cleanArchiveHeader(&shdr)
	shdr.Name = SignatureEntry
	shdr.Typeflag = tar.TypeReg
	shdr.Mode = 0400
	shdr.Size = int64(len(signature))

	err = tw.WriteHeader(&shdr)
	if err != nil {
		return err
	}

	_, err = tw.Write(signature)
	if err != nil {
		return err
	}

	closed = true

	err = tw.Close()
	if err != nil {
		return errors.Wrapf(err, "tar writer close")
	}

	err = zw.Close()
	if err != nil {
		return errors.Wrapf(err, "zstd flush")
	}

	a.Sum = h.Sum(nil)

	return nil
}
