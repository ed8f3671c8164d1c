package gc

import (
	"context"
	"encoding/json"
	"io/fs"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cairn.dev/cairn/pkg/data"
	"cairn.dev/cairn/pkg/progress"
	"github.com/hashicorp/go-hclog"
)

// Collector finds and removes store entries nothing refers to
// anymore. Roots are the refs of every profile plus any explicit
// links under the data dir's roots directory; everything reachable
// from a root through recorded runtime deps stays.
type Collector struct {
	logger hclog.Logger

	dataDir     string
	profilesDir string
}

func NewCollector(dataDir, profilesDir string) (*Collector, error) {
	return &Collector{
		logger:      hclog.L(),
		dataDir:     filepath.Clean(dataDir),
		profilesDir: filepath.Clean(profilesDir),
	}, nil
}

func (c *Collector) storeDir() string {
	return filepath.Join(c.dataDir, "store")
}

// Mark returns the ids of every store entry reachable from a root,
// sorted.
func (c *Collector) Mark() ([]string, error) {
	seen, err := c.markInUse()
	if err != nil {
		return nil, err
	}

	var total []string

	for k := range seen {
		total = append(total, k)
	}

	sort.Strings(total)

	return total, nil
}

func (c *Collector) markInUse() (map[string]struct{}, error) {
	seen := map[string]struct{}{}

	err := c.markRoots(seen)
	if err != nil {
		return nil, err
	}

	err = c.markProfiles(seen)
	if err != nil {
		return nil, err
	}

	return seen, nil
}

// markRoots processes the explicit links under the roots dir. A link
// straight into the store pins that entry; a link to any other
// directory pins whatever store links the directory holds.
func (c *Collector) markRoots(seen map[string]struct{}) error {
	roots := filepath.Join(c.dataDir, "roots")

	entries, err := ioutil.ReadDir(roots)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, ent := range entries {
		path := filepath.Join(roots, ent.Name())

		tgt, err := os.Readlink(path)
		if err == nil {
			if id, ok := c.storeId(tgt); ok {
				err = c.markId(id, seen)
				if err != nil {
					return err
				}

				continue
			}

			path = tgt
		}

		fi, err := os.Stat(path)
		if err != nil {
			c.logger.Warn("skipping dangling root", "path", path)
			continue
		}

		if fi.IsDir() {
			err = c.markDir(path, seen)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Collector) markProfiles(seen map[string]struct{}) error {
	entries, err := ioutil.ReadDir(c.profilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, ent := range entries {
		// the current link points at a profile dir that is also
		// listed by name
		if !ent.IsDir() {
			continue
		}

		err = c.markDir(filepath.Join(c.profilesDir, ent.Name()), seen)
		if err != nil {
			return err
		}
	}

	return nil
}

// storeId extracts the entry id from a path under the store dir.
func (c *Collector) storeId(path string) (string, bool) {
	prefix := c.storeDir() + "/"

	if !strings.HasPrefix(path, prefix) {
		return "", false
	}

	tail := path[len(prefix):]

	if idx := strings.IndexByte(tail, filepath.Separator); idx != -1 {
		tail = tail[:idx]
	}

	return tail, true
}

// markDir walks dir for symlinks into the store, marking each target
// id and its dep closure.
func (c *Collector) markDir(dir string, seen map[string]struct{}) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}

		target, err := os.Readlink(path)
		if err != nil {
			return err
		}

		if id, ok := c.storeId(target); ok {
			return c.markId(id, seen)
		}

		return nil
	})
}

// markId marks id and everything its recorded runtime deps reach. An
// entry with no readable info still counts as marked; the walk just
// ends there.
func (c *Collector) markId(id string, seen map[string]struct{}) error {
	if _, ok := seen[id]; ok {
		return nil
	}

	seen[id] = struct{}{}

	f, err := os.Open(filepath.Join(c.storeDir(), id, ".pkg-info.json"))
	if err != nil {
		c.logger.Debug("marked entry carries no package info", "id", id)
		return nil
	}

	defer f.Close()

	var pi data.PackageInfo

	err = json.NewDecoder(f).Decode(&pi)
	if err != nil {
		c.logger.Warn("marked entry has unreadable package info", "id", id, "error", err)
		return nil
	}

	for _, dep := range pi.RuntimeDeps {
		err = c.markId(dep, seen)
		if err != nil {
			return err
		}
	}

	return nil
}

// DiskUsage totals the bytes the named entries occupy.
func (c *Collector) DiskUsage(ids []string) (int64, error) {
	var total int64

	for _, id := range ids {
		err := filepath.WalkDir(
			filepath.Join(c.storeDir(), id),
			func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}

				fi, err := d.Info()
				if err == nil {
					total += fi.Size()
				}

				return nil
			})
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Sweep reports what SweepAndRemove would delete, without touching
// anything.
func (c *Collector) Sweep(ctx context.Context) ([]string, error) {
	marked, err := c.Mark()
	if err != nil {
		return nil, err
	}

	return c.SweepUnmarked(ctx, marked)
}

// SweepUnmarked lists the store entries not in marked, sorted. Work
// dirs left behind by crashed imports count as garbage too.
func (c *Collector) SweepUnmarked(ctx context.Context, marked []string) ([]string, error) {
	inUse := map[string]struct{}{}

	for _, m := range marked {
		inUse[m] = struct{}{}
	}

	entries, err := ioutil.ReadDir(c.storeDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var notInUse []string

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}

		if _, ok := inUse[ent.Name()]; !ok {
			notInUse = append(notInUse, ent.Name())
		}
	}

	sort.Strings(notInUse)

	return notInUse, nil
}

type SweepResult struct {
	Removed        []string
	BytesRecovered int64
	EntriesRemoved int64
}

// removeEntry unfreezes and deletes one store entry, tallying what it
// held.
func (c *Collector) removeEntry(name string, sr *SweepResult) error {
	root := filepath.Join(c.storeDir(), name)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.Mode().Perm()&0200 == 0 {
			err = os.Chmod(path, info.Mode().Perm()|0200)
			if err != nil {
				return err
			}
		}

		sr.EntriesRemoved++
		sr.BytesRecovered += info.Size()

		return nil
	})
	if err != nil {
		return err
	}

	return os.RemoveAll(root)
}

// SweepAndRemove deletes every store entry not in marked.
func (c *Collector) SweepAndRemove(ctx context.Context, marked []string) (*SweepResult, error) {
	notInUse, err := c.SweepUnmarked(ctx, marked)
	if err != nil {
		return nil, err
	}

	var sr SweepResult
	sr.Removed = notInUse

	pb := progress.Count(ctx, int64(len(notInUse)), "Removing packages")
	defer pb.Close()

	for _, name := range notInUse {
		err = c.removeEntry(name, &sr)
		if err != nil {
			return nil, err
		}

		pb.Tick()
	}

	return &sr, nil
}
