package ops

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/progress"
)

// StoreFindDeps narrows a declared dependency list down to the ones a
// package actually refers to on disk.
type StoreFindDeps struct {
	common

	store *config.Store
}

// PruneDeps scans every file installed under id for the ids of deps.
// Symlink targets count as references too. Only the deps seen in the
// payload are returned.
func (s *StoreFindDeps) PruneDeps(ctx context.Context, id string, deps []*ScriptPackage) ([]*ScriptPackage, error) {
	storeDir, err := s.store.Locate(id)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(deps))

	for i, dep := range deps {
		ids[i] = dep.ID()
	}

	scanner := newRefScanner(ids)

	var (
		files []string
		total int64
	)

	err = filepath.Walk(storeDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if fi.Mode()&os.ModeSymlink != 0 || fi.Mode().IsRegular() {
			files = append(files, path)
			total += fi.Size()
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	pb := progress.Bytes(ctx, total, "Scanning for references")
	defer pb.Close()

	for _, path := range files {
		if scanner.Done() {
			break
		}

		fi, err := os.Lstat(path)
		if err != nil {
			return nil, err
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			tgt, err := os.Readlink(path)
			if err != nil {
				return nil, err
			}

			scanner.NextFile()
			scanner.Write([]byte(tgt))
			pb.Add(fi.Size())

			continue
		}

		err = func() error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}

			defer f.Close()

			scanner.NextFile()

			n, err := io.Copy(scanner, f)
			pb.Add(n)

			return err
		}()
		if err != nil {
			return nil, err
		}
	}

	var pruned []*ScriptPackage

	for _, dep := range deps {
		if scanner.Has(dep.ID()) {
			pruned = append(pruned, dep)
		}
	}

	return pruned, nil
}
