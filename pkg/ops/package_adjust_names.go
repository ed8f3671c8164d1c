package ops

import (
	"debug/macho"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"cairn.dev/cairn/pkg/config"
)

// PackageAdjustNames rewrites the install name of any dylib a package
// produced to its absolute store path, so dependents link against the
// store copy without search paths. No-op when install_name_tool isn't
// around, which covers every platform but darwin.
type PackageAdjustNames struct {
	common

	store *config.Store
}

func (p *PackageAdjustNames) Adjust(id string) error {
	tool, err := exec.LookPath("install_name_tool")
	if err != nil {
		return nil
	}

	root, err := p.store.Locate(id)
	if err != nil {
		return err
	}

	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		if !strings.HasSuffix(path, ".dylib") {
			return nil
		}

		mf, err := macho.Open(path)
		if err != nil {
			// named like a dylib but isn't one
			return nil
		}

		mf.Close()

		p.L().Debug("adjusting install name", "file", path)

		cmd := exec.Command(tool, "-id", path, path)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		return cmd.Run()
	})
}
