package profile

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

var ErrNotMember = errors.New("package is not a profile member")

// refsDir is where a profile records its member ids, one symlink per
// id pointing at the store entry.
const refsDir = ".refs"

// Profile is a directory of symlinks into the store. Each member's
// top level dirs are merged in under the profile root, so the profile
// can sit on PATH like a normal prefix.
type Profile struct {
	path   string
	logger hclog.Logger
}

func OpenProfile(path string) (*Profile, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(path, 0755)
	if err != nil {
		return nil, err
	}

	return &Profile{path: path, logger: hclog.L()}, nil
}

func (p *Profile) Path() string {
	return p.path
}

func (p *Profile) refs() string {
	return filepath.Join(p.path, refsDir)
}

// Members returns the ids recorded in the profile, sorted.
func (p *Profile) Members() ([]string, error) {
	entries, err := ioutil.ReadDir(p.refs())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var ids []string

	for _, ent := range entries {
		ids = append(ids, ent.Name())
	}

	return ids, nil
}

// Link merges the store entry at root into the profile and records id
// as a member. Linking an id twice is a no-op.
func (p *Profile) Link(id, root string) error {
	ref := filepath.Join(p.refs(), id)

	if tgt, err := os.Readlink(ref); err == nil {
		if tgt == root {
			return nil
		}
	}

	err := p.linkTree(root)
	if err != nil {
		return err
	}

	err = os.MkdirAll(p.refs(), 0755)
	if err != nil {
		return err
	}

	os.Remove(ref)

	return os.Symlink(root, ref)
}

// refMatches reports whether a member id answers to name, which may
// be the full id or the bare package name within it.
func refMatches(id, name string) bool {
	if id == name {
		return true
	}

	idx := strings.IndexByte(id, '-')
	if idx == -1 {
		return false
	}

	return strings.HasPrefix(id[idx+1:], name+"-")
}

// Unlink removes the members matching name and rebuilds the link tree
// from the ones left.
func (p *Profile) Unlink(name string) error {
	ids, err := p.Members()
	if err != nil {
		return err
	}

	var removed bool

	for _, id := range ids {
		if !refMatches(id, name) {
			continue
		}

		err = os.Remove(filepath.Join(p.refs(), id))
		if err != nil {
			return err
		}

		removed = true
	}

	if !removed {
		return errors.Wrapf(ErrNotMember, "name: %s", name)
	}

	return p.Commit()
}

// Commit clears the link tree and rebuilds it from the recorded
// members. Refs whose store entry has gone away are dropped with a
// warning.
func (p *Profile) Commit() error {
	entries, err := ioutil.ReadDir(p.path)
	if err != nil {
		return err
	}

	for _, ent := range entries {
		if ent.Name() == refsDir {
			continue
		}

		err = os.RemoveAll(filepath.Join(p.path, ent.Name()))
		if err != nil {
			return err
		}
	}

	ids, err := p.Members()
	if err != nil {
		return err
	}

	for _, id := range ids {
		ref := filepath.Join(p.refs(), id)

		root, err := os.Readlink(ref)
		if err != nil {
			return err
		}

		if _, err := os.Stat(root); err != nil {
			p.logger.Warn("dropping ref to missing store entry", "id", id, "path", root)
			os.Remove(ref)
			continue
		}

		err = p.linkTree(root)
		if err != nil {
			return err
		}
	}

	return nil
}

func relSymlink(oldname, newname string) error {
	prel, err := filepath.Rel(filepath.Dir(newname), oldname)
	if err != nil {
		return err
	}

	return os.Symlink(prel, newname)
}

// linkTree merges the tree at root into the profile, linking whole
// directories where it can. The first member to claim a path keeps
// it; when a second member brings the same directory, the single link
// expands into a real directory of per-entry links and the walk
// merges into it.
func (p *Profile) linkTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		if strings.IndexByte(rel, '/') == -1 {
			// top level files, like .pkg-info.json, stay private to
			// the store entry
			if !info.IsDir() {
				return nil
			}

			switch rel {
			case "etc", "bin", "sbin", "share", "include", "lib", "libexec":
				// ok
			default:
				return filepath.SkipDir
			}
		}

		target := filepath.Join(p.path, rel)

		fi, err := os.Lstat(target)
		if err != nil {
			if !os.IsNotExist(err) {
				return err
			}

			err = relSymlink(path, target)
			if err != nil {
				return err
			}

			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !info.IsDir() {
			lt, err := os.Readlink(target)
			if err != nil || filepath.Join(filepath.Dir(target), lt) != path {
				p.logger.Warn("keeping first entry for colliding path", "path", rel)
			}

			return nil
		}

		if fi.IsDir() {
			return nil
		}

		// target is a link to another member's directory. Expand it
		// into a real directory of links so both members can live in
		// it, then let the walk merge into it.
		lfi, err := os.Stat(target)
		if err != nil {
			return err
		}

		if !lfi.IsDir() {
			return fmt.Errorf("unable to merge file and dir at path: %s", target)
		}

		odir, err := os.Readlink(target)
		if err != nil {
			return err
		}

		if !filepath.IsAbs(odir) {
			odir = filepath.Join(filepath.Dir(target), odir)
		}

		names, err := readdirnames(target)
		if err != nil {
			return err
		}

		err = os.Remove(target)
		if err != nil {
			return err
		}

		err = os.Mkdir(target, 0755)
		if err != nil {
			return err
		}

		for _, name := range names {
			err = relSymlink(filepath.Join(odir, name), filepath.Join(target, name))
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func readdirnames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	return f.Readdirnames(-1)
}
