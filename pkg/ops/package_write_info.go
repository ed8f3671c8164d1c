package ops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
)

// PackageWriteInfo records a freshly installed package's metadata as
// .pkg-info.json in its store directory.
type PackageWriteInfo struct {
	common

	store *config.Store
}

func (p *PackageWriteInfo) Write(ctx context.Context, pkg *ScriptPackage) (*data.PackageInfo, error) {
	path, err := p.store.Locate(pkg.ID())
	if err != nil {
		return nil, err
	}

	var scd ScriptCalcDeps
	scd.store = p.store

	deps, err := scd.BuildDeps(pkg)
	if err != nil {
		return nil, err
	}

	var sfd StoreFindDeps
	sfd.store = p.store

	runtimeDeps, err := sfd.PruneDeps(ctx, pkg.ID(), deps)
	if err != nil {
		return nil, err
	}

	// explicit deps survive pruning even when nothing on disk refers
	// to them, so tools and hooks a package promises keep flowing to
	// its dependents.
	have := make(map[string]struct{})

	for _, dep := range runtimeDeps {
		have[dep.ID()] = struct{}{}
	}

	for _, dep := range pkg.ExplicitDependencies() {
		if _, ok := have[dep.ID()]; ok {
			continue
		}

		have[dep.ID()] = struct{}{}
		runtimeDeps = append(runtimeDeps, dep)
	}

	pi := &data.PackageInfo{
		Id:          pkg.ID(),
		Name:        pkg.Name(),
		Version:     pkg.Version(),
		Repo:        pkg.Repo(),
		License:     pkg.License(),
		Homepage:    pkg.Homepage(),
		Description: pkg.Description(),
		DeclDeps:    pkg.DependencyNames(),
		Constraints: pkg.Constraints(),
	}

	for _, dep := range runtimeDeps {
		pi.RuntimeDeps = append(pi.RuntimeDeps, dep.ID())
	}

	for _, dep := range deps {
		pi.BuildDeps = append(pi.BuildDeps, dep.ID())
	}

	for _, o := range pkg.Origins() {
		in := &data.PackageInput{
			Name: o.Basename(),
		}

		switch o.Kind {
		case OriginDir:
			in.Dir = o.Path
		case OriginFile:
			in.Path = o.Path
		default:
			in.Path = o.Entity()
		}

		if o.SumType != "" {
			in.SumType = o.SumType
			in.Sum = encodeSum(o.SumType, o.Sum)
		}

		if o.Into != "" {
			in.Id = o.Into
		}

		pi.Inputs = append(pi.Inputs, in)
	}

	f, err := os.Create(filepath.Join(path, ".pkg-info.json"))
	if err != nil {
		return nil, track(err)
	}

	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	err = enc.Encode(pi)
	if err != nil {
		return nil, track(err)
	}

	pkg.PackageInfo = pi

	return pi, nil
}
