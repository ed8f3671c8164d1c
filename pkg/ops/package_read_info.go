package ops

import (
	"encoding/json"
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
	"github.com/pkg/errors"
)

// PackageReadInfo loads the .pkg-info.json written next to an
// installed package.
type PackageReadInfo struct {
	common

	Store *config.Store
}

// ReadPath decodes the info file under path and caches it on pkg.
func (p *PackageReadInfo) ReadPath(pkg *ScriptPackage, path string) (*data.PackageInfo, error) {
	f, err := os.Open(filepath.Join(path, ".pkg-info.json"))
	if err != nil {
		return nil, track(err)
	}

	defer f.Close()

	var pi data.PackageInfo

	err = json.NewDecoder(f).Decode(&pi)
	if err != nil {
		return nil, track(err)
	}

	pkg.PackageInfo = &pi

	return &pi, nil
}

func (p *PackageReadInfo) Read(pkg *ScriptPackage) (*data.PackageInfo, error) {
	if pkg.PackageInfo != nil {
		return pkg.PackageInfo, nil
	}

	path, err := p.Store.Locate(pkg.ID())
	if err != nil {
		return nil, errors.Wrapf(err, "reading info for %s", pkg.ID())
	}

	return p.ReadPath(pkg, path)
}
