package ops

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
)

// StoreScan enumerates installed packages by reading the info file
// recorded beside each store entry.
type StoreScan struct {
	common

	Store *config.Store
}

func readInfoFile(dir string) (*data.PackageInfo, error) {
	f, err := os.Open(filepath.Join(dir, ".pkg-info.json"))
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var pi data.PackageInfo

	err = json.NewDecoder(f).Decode(&pi)
	if err != nil {
		return nil, err
	}

	return &pi, nil
}

// Scan calls fn for every installed package, front store paths
// shadowing their parents. Entries whose recorded id disagrees with
// their directory name are logged and skipped.
func (s *StoreScan) Scan(fn func(*data.PackageInfo) error) error {
	seen := make(map[string]struct{})

	for _, dir := range s.Store.Paths {
		f, err := os.Open(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return track(err)
		}

		for {
			names, err := f.Readdirnames(50)

			for _, n := range names {
				if strings.HasPrefix(n, "_") || strings.HasPrefix(n, ".") {
					continue
				}

				if _, ok := seen[n]; ok {
					continue
				}

				seen[n] = struct{}{}

				pi, perr := readInfoFile(filepath.Join(dir, n))
				if perr != nil {
					s.L().Debug("skipping store entry without info", "id", n, "error", perr)
					continue
				}

				if pi.Id != n || pi.Name == "" {
					s.L().Warn("store entry info disagrees with its path", "path", n, "id", pi.Id)
					continue
				}

				if ferr := fn(pi); ferr != nil {
					f.Close()
					return ferr
				}
			}

			if err == io.EOF {
				break
			}

			if err != nil {
				f.Close()
				return track(err)
			}
		}

		f.Close()
	}

	return nil
}
