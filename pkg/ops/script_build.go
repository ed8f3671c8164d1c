package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"cairn.dev/cairn/pkg/data"
	"cairn.dev/cairn/pkg/pkgconfig"
	"cairn.dev/cairn/pkg/recipe"
	"github.com/lab47/exprcore/exprcore"
	"github.com/pkg/errors"
)

// ScriptBuild turns one loaded package into a store entry: stage the
// sources into a fresh build area, run the recipe's phases against it,
// then seal what landed in the prefix.
type ScriptBuild struct {
	common

	pkg *ScriptPackage
}

// mkdirFresh creates dir, clearing out whatever a crashed run left
// there.
func mkdirFresh(dir string) error {
	err := os.Mkdir(dir, 0755)
	if err == nil {
		return nil
	}

	if !os.IsExist(err) {
		return track(err)
	}

	os.RemoveAll(dir)

	return track(os.Mkdir(dir, 0755))
}

func (i *ScriptBuild) Install(ctx context.Context, ienv *InstallEnv) error {
	log := i.L()
	ui := GetUI(ctx)

	ui.BuildScript(i.pkg)

	buildDir := filepath.Join(ienv.BuildDir, "build-"+i.pkg.ID())
	targetDir := ienv.Store.ExpectedPath(i.pkg.ID())

	err := os.MkdirAll(ienv.BuildDir, 0755)
	if err != nil {
		return track(err)
	}

	err = os.MkdirAll(filepath.Dir(targetDir), 0755)
	if err != nil {
		return track(err)
	}

	err = mkdirFresh(buildDir)
	if err != nil {
		return err
	}

	defer func() {
		if !ienv.RetainBuild {
			os.RemoveAll(buildDir)
		}
	}()

	err = mkdirFresh(targetDir)
	if err != nil {
		return err
	}

	var stage SourceStage
	stage.common = i.common
	stage.cfg = ienv.Config

	sourcePath, err := stage.Stage(ctx, i.pkg, buildDir)
	if err != nil {
		return err
	}

	err = os.MkdirAll(ienv.Config.LogsPath(), 0755)
	if err != nil {
		return track(err)
	}

	logPath := filepath.Join(ienv.Config.LogsPath(), i.pkg.ID()+".log")

	logFile, err := os.Create(logPath)
	if err != nil {
		return track(err)
	}

	defer logFile.Close()

	var scd ScriptCalcDeps
	scd.store = ienv.Store

	buildDeps, err := scd.BuildDeps(i.pkg)
	if err != nil {
		return err
	}

	ui.ListDependencies(buildDeps)

	var (
		path    []string
		cflags  []string
		ldflags []string
		pcdirs  []string
	)

	depDirs := make(map[string]string)
	pcSeen := make(map[string]bool)

	for _, dep := range buildDeps {
		depDir, err := ienv.Store.Locate(dep.ID())
		if err != nil {
			return errors.Wrapf(err, "build dep %s not installed", dep.ID())
		}

		depDirs[dep.ID()] = depDir

		path = append(path, filepath.Join(depDir, "bin"))

		incpath := filepath.Join(depDir, "include")
		if _, err := os.Stat(incpath); err == nil {
			cflags = append(cflags, "-I"+incpath)
		}

		libpath := filepath.Join(depDir, "lib")
		if _, err := os.Stat(libpath); err == nil {
			ldflags = append(ldflags, "-L"+libpath)
		}

		pcs, err := pkgconfig.LoadAll(depDir)
		if err != nil {
			return errors.Wrapf(err, "reading pkg-config files of %s", dep.ID())
		}

		for _, pc := range pcs {
			log.Debug("build dep provides pkg-config module",
				"dep", dep.ID(), "module", pc.Id, "version", pc.Version)

			dir := filepath.Dir(pc.Path)
			if !pcSeen[dir] {
				pcSeen[dir] = true
				pcdirs = append(pcdirs, dir)
			}
		}
	}

	path = append(path, "/bin", "/usr/bin")

	environ := []string{"HOME=/nonexistant", "PATH=" + strings.Join(path, ":")}

	if len(cflags) > 0 {
		environ = append(environ, "CFLAGS="+strings.Join(cflags, " "))
	}

	if len(ldflags) > 0 {
		environ = append(environ, "LDFLAGS="+strings.Join(ldflags, " "))
	}

	if len(pcdirs) > 0 {
		environ = append(environ, "PKG_CONFIG_PATH="+strings.Join(pcdirs, ":"))
	}

	bi := &data.BuildInfo{
		Name:         i.pkg.Name(),
		Version:      i.pkg.Version(),
		ID:           i.pkg.ID(),
		Prefix:       targetDir,
		BuildDir:     buildDir,
		LogPath:      logPath,
		Dependencies: map[string]*data.BuildInfoDependency{},
	}

	for _, dep := range buildDeps {
		bi.Dependencies[dep.Name()] = &data.BuildInfoDependency{
			Name:         dep.Name(),
			Version:      dep.Version(),
			ID:           dep.ID(),
			Path:         depDirs[dep.ID()],
			Dependencies: dep.DependencyNames(),
		}
	}

	biData, err := json.Marshal(bi)
	if err != nil {
		return track(err)
	}

	environ = append(environ, "STELA_BUILD_INFO="+string(biData))

	rt := recipe.NewRuntime(recipe.Env{
		Logger:       log,
		Context:      ctx,
		WorkDir:      buildDir,
		TopDir:       buildDir,
		InstallDir:   targetDir,
		Environ:      environ,
		SourcePath:   sourcePath,
		Jobs:         ienv.Jobs,
		OutputPrefix: i.pkg.Name(),
		BuildLog:     logFile,
	})

	var thread exprcore.Thread

	// hooks of the deps run first, against their own prefixes
	for _, dep := range buildDeps {
		hook := dep.Hook()
		if hook == nil {
			continue
		}

		rt.SetInstallDir(depDirs[dep.ID()])

		_, err = exprcore.Call(&thread, hook, exprcore.Tuple{rt}, nil)
		if err != nil {
			return errors.Wrapf(err, "running hook of %s", dep.ID())
		}
	}

	rt.SetInstallDir(targetDir)

	for _, ph := range i.pkg.Recipe().Phases() {
		ui.BuildPhase(i.pkg, ph.Name)

		fmt.Fprintf(logFile, "=== phase %s\n", ph.Name)

		err = rt.RunPhase(&thread, ph)

		ui.PhaseDone()

		if err != nil {
			log.Error("build phase failed", "id", i.pkg.ID(), "phase", ph.Name, "error", err)

			if ienv.StartShell {
				i.failureShell(environ, rt.WorkDir(), targetDir)
			}

			return errors.Wrapf(err, "phase %s of %s failed (full log: %s)",
				ph.Name, i.pkg.ID(), logPath)
		}
	}

	if pi := i.pkg.PostInstall(); pi != nil && !ienv.SkipPostInstall {
		fmt.Fprintf(logFile, "=== post install\n")

		_, err = exprcore.Call(&thread, pi, exprcore.Tuple{rt}, nil)
		if err != nil {
			return errors.Wrapf(err, "post install of %s failed (full log: %s)",
				i.pkg.ID(), logPath)
		}
	}

	var pan PackageAdjustNames
	pan.store = ienv.Store

	err = pan.Adjust(i.pkg.ID())
	if err != nil {
		log.Error("error adjusting library names", "error", err)
	}

	var prc PackageRemoveCruft
	prc.store = ienv.Store

	err = prc.RemoveCruft(i.pkg.ID())
	if err != nil {
		log.Error("error removing cruft", "error", err)
	}

	var pfp PackageFixPerms
	pfp.store = ienv.Store

	err = pfp.Fix(i.pkg.ID())
	if err != nil {
		log.Error("error fixing permissions", "error", err)
	}

	var pwi PackageWriteInfo
	pwi.store = ienv.Store

	_, err = pwi.Write(ctx, i.pkg)
	if err != nil {
		return errors.Wrapf(err, "writing package info for %s", i.pkg.ID())
	}

	var sfz StoreFreeze
	sfz.store = ienv.Store

	err = sfz.Freeze(i.pkg.ID())
	if err != nil {
		return errors.Wrapf(err, "freezing %s", i.pkg.ID())
	}

	return nil
}

// failureShell drops the user where the phase died, with the build's
// environment and PREFIX set.
func (i *ScriptBuild) failureShell(environ []string, dir, prefix string) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	fmt.Printf("Starting shell in failed build dir %s\n", dir)

	cmd := exec.Command(shell)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(append([]string{}, environ...), "PREFIX="+prefix)
	cmd.Dir = dir

	cmd.Run()
}
