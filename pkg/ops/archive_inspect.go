package ops

import (
	"archive/tar"
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"

	"cairn.dev/cairn/pkg/data"
	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// ArchiveInspect prints the contents and manifest of a .stone stream
// without extracting it, running the same digest the unpacker does so
// the signature status it reports is the one an install would see.
type ArchiveInspect struct {
	Info      data.ArchiveInfo
	Signature []byte
}

func (r *ArchiveInspect) Show(in io.Reader, show io.Writer) error {
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

		switch hdr.Typeflag {
		case tar.TypeReg:
			io.WriteString(dh, hdr.Name)
			dh.Write([]byte{0})

			mode := hdr.FileInfo().Mode()

			_, err = io.Copy(dh, tr)
			if err != nil {
				return err
			}

			fmt.Fprintf(show, "%s\t%d\t%s\n", mode.String(), hdr.Size, hdr.Name)

		case tar.TypeSymlink:
			io.WriteString(dh, hdr.Name)
			dh.Write([]byte{1})
			io.WriteString(dh, hdr.Linkname)
			dh.Write([]byte{0})

			mode := hdr.FileInfo().Mode()

			fmt.Fprintf(show, "%s\t%d\t%s => %s\n", mode.String(), hdr.Size, hdr.Name, hdr.Linkname)
		}
	}

	dh.Write(infoData)

	fmt.Fprintf(show, "\nName:\t%s\n", r.Info.Name)
	fmt.Fprintf(show, "Version:\t%s\n", r.Info.Version)
	fmt.Fprintf(show, "ID:\t%s\n", r.Info.ID)

	if r.Info.Platform != nil {
		fmt.Fprintf(show, "Platform:\t%s %s (%s)\n",
			r.Info.Platform.OS, r.Info.Platform.OSVersion, r.Info.Platform.Arch)
	}

	var deps []string
	for _, d := range r.Info.Dependencies {
		deps = append(deps, d.ID)
	}

	fmt.Fprintf(show, "Dependencies:\t%s\n", strings.Join(deps, ", "))

	var keys []string

	for k := range r.Info.Constraints {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var constraints []string

	for _, k := range keys {
		constraints = append(constraints, k+"="+r.Info.Constraints[k])
	}

	fmt.Fprintf(show, "Constraints:\t%s\n", strings.Join(constraints, ", "))

	if r.Info.Signer == "" || len(sig) == 0 {
		fmt.Fprintf(show, "\n! Warning: No Signature Detected\n")
		return nil
	}

	signer, err := base58.Decode(r.Info.Signer)
	if err != nil {
		fmt.Fprintf(show, "\n! Warning: Invalid Signature Detected\n")
		return nil
	}

	if !ed25519.Verify(ed25519.PublicKey(signer), dh.Sum(nil), sig) {
		fmt.Fprintf(show, "\n! Warning: Invalid Signature Detected\n")
		return nil
	}

	fmt.Fprintf(show, "Signature:\t%s\n", base58.Encode(sig))

	return nil
}
