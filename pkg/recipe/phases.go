package recipe

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Standard returns the stock recipe for autotools-shaped sources:
// unpack, configure, build, check, install. Descriptors modify it
// with replace, add_before, add_after, and drop.
func Standard() *Recipe {
	return New(
		Phase{Name: "unpack", Run: unpackPhase},
		Phase{Name: "configure", Run: configurePhase},
		Phase{Name: "build", Run: buildPhase},
		Phase{Name: "check", Run: checkPhase},
		Phase{Name: "install", Run: installPhase},
	)
}

// unpackPhase extracts the staged source and descends into the
// unpacked tree. A source staged as a directory becomes the working
// directory as-is.
func unpackPhase(r *Runtime) error {
	if r.sourcePath == "" {
		r.emit("no source staged, nothing to unpack")
		return nil
	}

	fi, err := os.Stat(r.sourcePath)
	if err != nil {
		return errors.Wrapf(err, "staged source missing")
	}

	if fi.IsDir() {
		return r.setRoot(r.sourcePath)
	}

	dir := filepath.Join(r.topDir, "source")

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	err = r.Unpack(r.sourcePath, dir)
	if err != nil {
		return err
	}

	return r.setRoot(dir)
}

func configurePhase(r *Runtime) error {
	script := filepath.Join(r.workDir, "configure")

	if _, err := os.Stat(script); err != nil {
		r.emit("no configure script, skipping")
		return nil
	}

	return r.System("", "./configure", "--prefix="+r.installDir)
}

func buildPhase(r *Runtime) error {
	if _, err := os.Stat(filepath.Join(r.workDir, "Makefile")); err != nil {
		return errors.Wrapf(err, "no Makefile in %s", r.workDir)
	}

	return r.System("", "make", "-j"+strconv.Itoa(r.jobs))
}

func checkPhase(r *Runtime) error {
	if !r.hasMakeTarget("check") {
		r.emit("no check target, skipping")
		return nil
	}

	return r.System("", "make", "check")
}

func installPhase(r *Runtime) error {
	return r.System("", "make", "install")
}

// hasMakeTarget probes for a target with make -q, which exits 2 when
// the target is unknown and 0 or 1 when it exists.
func (r *Runtime) hasMakeTarget(target string) bool {
	bin, err := lookPath("make", r.path)
	if err != nil {
		return false
	}

	cmd := exec.CommandContext(r.ctx, bin, "-q", target)
	cmd.Env = r.extraEnv
	cmd.Dir = r.workDir

	err = cmd.Run()
	if err == nil {
		return true
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode() == 1
	}

	return false
}
