package ops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/fileutils"
	"cairn.dev/cairn/pkg/repo"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/mod/module"
)

// ErrSourceMissing reports an origin with no local materialization.
// Nothing here downloads; the error says where to put the bytes.
var ErrSourceMissing = errors.New("source not available locally")

// resolved is where an origin's bytes were found.
type resolved struct {
	origin *Origin
	path   string
	dir    bool
}

// gitCacheDir is where a pinned checkout of url at rev is expected.
// Urls escape into the path the way the module cache escapes import
// paths, so checkouts stay readable on disk; a remote EscapePath
// can't express falls back to a digest name.
func gitCacheDir(sourcesDir, url, rev string) string {
	p := url

	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
	}

	if i := strings.IndexByte(p, '@'); i >= 0 {
		p = p[i+1:]
	}

	p = strings.TrimSuffix(p, ".git")
	p = strings.ReplaceAll(p, ":", "/")

	esc, err := module.EscapePath(p)
	if err != nil {
		h, _ := blake2b.New256(nil)
		io.WriteString(h, url)

		esc = base58.Encode(h.Sum(nil))[:12]
	}

	return filepath.Join(sourcesDir, "git", esc+"@"+rev)
}

// verifyCheckout confirms a cached checkout is actually at rev. A
// tree without git metadata passes here and is caught by its sum.
func verifyCheckout(dir, rev string) error {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return nil
	}

	want, err := r.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return errors.Wrapf(err, "resolving %s in %s", rev, dir)
	}

	head, err := r.Head()
	if err != nil {
		return track(err)
	}

	if head.Hash() != *want {
		return errors.Wrapf(ErrCorruption, "checkout %s is at %s, want %s (%s)",
			dir, head.Hash().String()[:12], want.String()[:12], rev)
	}

	return nil
}

// SourceStage places a package's origins into its build area. Nothing
// is fetched: archives must already sit in the sources cache and git
// origins must already be checked out there.
type SourceStage struct {
	common

	cfg *config.Config
}

func (s *SourceStage) resolve(ent repo.Entry, o *Origin) (*resolved, error) {
	switch o.Kind {
	case OriginFile, OriginDir:
		if ent == nil {
			return nil, fmt.Errorf("no script directory to resolve %s against", o.Path)
		}

		p := pathUnder(ent.Dir(), o.Path)

		fi, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(ErrSourceMissing, "expected %s at %s", o.Path, p)
		}

		if o.Kind == OriginDir && !fi.IsDir() {
			return nil, errors.Wrapf(ErrSourceMissing, "expected a directory at %s", p)
		}

		return &resolved{origin: o, path: p, dir: fi.IsDir()}, nil
	case OriginURL:
		// An asset checked in beside the script wins over the cache.
		if ent != nil {
			p := pathUnder(ent.Dir(), o.Basename())

			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				return &resolved{origin: o, path: p}, nil
			}
		}

		p := filepath.Join(s.cfg.SourcesPath(), o.Basename())

		if _, err := os.Stat(p); err != nil {
			return nil, errors.Wrapf(ErrSourceMissing,
				"no local copy of %s: download it to %s", o.URL, p)
		}

		return &resolved{origin: o, path: p}, nil
	case OriginGit:
		dir := gitCacheDir(s.cfg.SourcesPath(), o.URL, o.Rev())

		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			return nil, errors.Wrapf(ErrSourceMissing,
				"no local checkout of %s at %s: clone it there and check out %s",
				o.URL, dir, o.Rev())
		}

		err = verifyCheckout(dir, o.Rev())
		if err != nil {
			return nil, err
		}

		return &resolved{origin: o, path: dir, dir: true}, nil
	}

	return nil, fmt.Errorf("unknown origin kind: %s", o.Kind)
}

// verify checks the resolved bytes against the origin's recorded sum.
// Origins loaded leniently have no sum yet and pass.
func (s *SourceStage) verify(o *Origin, res *resolved) error {
	if o.SumType == "" {
		return nil
	}

	var (
		sum []byte
		err error
	)

	if res.dir {
		sum, err = hashTree(s.L(), res.path)
	} else {
		sum, err = hashFile(o.SumType, res.path)
	}

	if err != nil {
		return err
	}

	if !sumEqual(sum, o.Sum) {
		return errors.Wrapf(ErrCorruption, "%s: sum mismatch: have %s, want %s",
			o.Entity(), renderSum(o.SumType, sum), renderSum(o.SumType, o.Sum))
	}

	return nil
}

// Stage materializes every origin under buildDir: archives are linked
// in from the sources cache, trees are copied so builds can't scribble
// on cached checkouts. The returned path is the primary source the
// unpack phase starts from, picked by an origin's chdir mark or
// falling back to the first origin.
func (s *SourceStage) Stage(ctx context.Context, pkg *ScriptPackage, buildDir string) (string, error) {
	var primary, firstDest string

	for i, o := range pkg.Origins() {
		res, err := s.resolve(pkg.Entry(), o)
		if err != nil {
			return "", err
		}

		err = s.verify(o, res)
		if err != nil {
			return "", err
		}

		var dest string

		if res.dir {
			name := o.Into
			if name == "" {
				name = o.Basename()
			}

			dest = filepath.Join(buildDir, name)

			inst := fileutils.Install{
				Ctx:     ctx,
				L:       s.L(),
				Pattern: res.path,
				Dest:    dest,
			}

			err = inst.Install()
			if err != nil {
				return "", err
			}
		} else {
			destDir := buildDir

			if o.Into != "" {
				destDir = filepath.Join(buildDir, o.Into)

				err = os.MkdirAll(destDir, 0755)
				if err != nil {
					return "", track(err)
				}
			}

			dest = filepath.Join(destDir, o.Basename())

			err = os.Symlink(res.path, dest)
			if err != nil {
				return "", track(err)
			}
		}

		s.L().Debug("staged source", "entity", o.Entity(), "dest", dest)

		if i == 0 {
			firstDest = dest
		}

		if primary == "" && o.Chdir {
			primary = dest
		}
	}

	if primary == "" {
		primary = firstDest
	}

	return primary, nil
}
