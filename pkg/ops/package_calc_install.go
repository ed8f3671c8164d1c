package ops

import (
	"context"
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/config"
)

// PackageCalcInstall works out what actually has to be built to get a
// set of packages installed: the closure of everything not yet in the
// store, in dependency order.
type PackageCalcInstall struct {
	common

	Store *config.Store
}

type PackageInstaller interface {
	Install(ctx context.Context, ienv *InstallEnv) error
}

type PackagesToInstall struct {
	PackageIDs   []string
	InstallOrder []string
	Installers   map[string]PackageInstaller
	Dependencies map[string][]string
	Scripts      map[string]*ScriptPackage
	Installed    map[string]bool
	InstallDirs  map[string]string
}

func (p *PackageCalcInstall) isInstalled(id string) (bool, error) {
	if p.Store == nil {
		return false, nil
	}

	dir, err := p.Store.Locate(id)
	if err != nil {
		return false, nil
	}

	_, err = os.Stat(filepath.Join(dir, ".pkg-info.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (p *PackageCalcInstall) consider(
	pkg *ScriptPackage,
	pti *PackagesToInstall,
	seen map[string]int,
) error {
	installed, err := p.isInstalled(pkg.ID())
	if err != nil {
		return err
	}

	pti.PackageIDs = append(pti.PackageIDs, pkg.ID())

	if !installed {
		pti.Installers[pkg.ID()] = &ScriptBuild{common: p.common, pkg: pkg}
	}

	pti.Installed[pkg.ID()] = installed
	pti.Scripts[pkg.ID()] = pkg

	for _, dep := range pkg.Dependencies() {
		pti.Dependencies[pkg.ID()] = append(pti.Dependencies[pkg.ID()], dep.ID())

		if _, ok := seen[dep.ID()]; ok {
			seen[dep.ID()]++
			continue
		}

		seen[dep.ID()] = 1

		err = p.consider(dep, pti, seen)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *PackageCalcInstall) Calculate(pkg *ScriptPackage) (*PackagesToInstall, error) {
	return p.CalculateSet([]*ScriptPackage{pkg})
}

func (p *PackageCalcInstall) CalculateSet(pkgs []*ScriptPackage) (*PackagesToInstall, error) {
	var pti PackagesToInstall
	pti.Installers = make(map[string]PackageInstaller)
	pti.Dependencies = make(map[string][]string)
	pti.Scripts = make(map[string]*ScriptPackage)
	pti.Installed = make(map[string]bool)

	seen := map[string]int{}
	for _, pkg := range pkgs {
		// a root already pulled in as a dependency keeps its degree
		if _, ok := seen[pkg.ID()]; ok {
			continue
		}

		seen[pkg.ID()] = 0

		err := p.consider(pkg, &pti, seen)
		if err != nil {
			return nil, err
		}
	}

	var toCheck []string

	for id, deg := range seen {
		if deg == 0 {
			toCheck = append(toCheck, id)
		}
	}

	var toInstall []string

	for len(toCheck) > 0 {
		x := toCheck[len(toCheck)-1]
		toCheck = toCheck[:len(toCheck)-1]

		toInstall = append(toInstall, x)

		for _, dep := range pti.Dependencies[x] {
			deg := seen[dep] - 1
			seen[dep] = deg

			if deg == 0 {
				toCheck = append(toCheck, dep)
			}
		}
	}

	for i := len(toInstall) - 1; i >= 0; i-- {
		pti.InstallOrder = append(pti.InstallOrder, toInstall[i])
	}

	return &pti, nil
}
