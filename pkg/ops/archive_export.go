package ops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
	"cairn.dev/cairn/pkg/progress"
	"github.com/pkg/errors"
)

const (
	ArchiveExtension = ".stone"

	SumsFile = "SHA256SUMS"
)

// ExportedArchive describes one .stone written out by an export.
type ExportedArchive struct {
	Package *ScriptPackage
	Info    *data.ArchiveInfo
	Path    string

	// Sum is the blake2b digest the signature flow uses, Sha256 the
	// digest published in the sums file.
	Sum    []byte
	Sha256 []byte
}

type ArchiveExport struct {
	common

	cfg         *config.Config
	store       *config.Store
	constraints map[string]string
}

func NewArchiveExport(cfg *config.Config) *ArchiveExport {
	return &ArchiveExport{
		cfg:         cfg,
		store:       cfg.Store(),
		constraints: cfg.Constraints(),
	}
}

// archiveFileName names an exported package. The platform is part of
// the name because the payload only runs where it was built.
func archiveFileName(name, version string) string {
	osName, _, arch := config.Platform()

	return fmt.Sprintf("%s-%s-%s-%s%s", name, version, osName, arch, ArchiveExtension)
}

// infoOrScan loads the info file recorded beside an installed tree.
// A tree with no recorded info gets its runtime deps rediscovered by
// the same reference scan install runs before writing one.
func (e *ArchiveExport) infoOrScan(ctx context.Context, pkg *ScriptPackage, path string) (*data.PackageInfo, error) {
	if _, err := os.Stat(filepath.Join(path, ".pkg-info.json")); err == nil {
		var pri PackageReadInfo
		pri.Store = e.store

		return pri.ReadPath(pkg, path)
	}

	var cd ScriptCalcDeps
	cd.store = e.store

	deps, err := cd.BuildDeps(pkg)
	if err != nil {
		return nil, err
	}

	var sfd StoreFindDeps
	sfd.store = e.store

	runtime, err := sfd.PruneDeps(ctx, pkg.ID(), deps)
	if err != nil {
		return nil, err
	}

	have := make(map[string]struct{})

	for _, dep := range runtime {
		have[dep.ID()] = struct{}{}
	}

	for _, dep := range pkg.ExplicitDependencies() {
		if _, ok := have[dep.ID()]; ok {
			continue
		}

		have[dep.ID()] = struct{}{}
		runtime = append(runtime, dep)
	}

	pi := &data.PackageInfo{
		Id:      pkg.ID(),
		Name:    pkg.Name(),
		Version: pkg.Version(),
		Repo:    pkg.Repo(),
	}

	for _, dep := range runtime {
		pi.RuntimeDeps = append(pi.RuntimeDeps, dep.ID())
	}

	return pi, nil
}

// Export packs the installed tree at path into dest. The manifest
// carries the runtime deps recorded at build time, so importing the
// archive knows what else it needs without loading any scripts.
func (e *ArchiveExport) Export(ctx context.Context, pkg *ScriptPackage, path, dest string) (*ExportedArchive, error) {
	pi, err := e.infoOrScan(ctx, pkg, path)
	if err != nil {
		return nil, err
	}

	var deps []*data.ArchiveDependency

	for _, d := range pi.RuntimeDeps {
		deps = append(deps, &data.ArchiveDependency{
			ID: d,
		})
	}

	osName, osVer, arch := config.Platform()

	ai := &data.ArchiveInfo{
		ID:           pkg.ID(),
		Name:         pkg.Name(),
		Version:      pkg.Version(),
		Repo:         pkg.Repo(),
		Constraints:  e.constraints,
		Dependencies: deps,
		Platform: &data.ArchivePlatform{
			OS:        osName,
			OSVersion: osVer,
			Arch:      arch,
		},
	}

	stonePath := filepath.Join(dest, archiveFileName(pkg.Name(), pkg.Version()))

	f, err := os.Create(stonePath)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	sh := sha256.New()

	var ap ArchivePack
	ap.PrivateKey = e.cfg.Private()
	ap.PublicKey = e.cfg.Public()

	err = ap.Pack(ctx, ai, path, io.MultiWriter(f, sh))
	if err != nil {
		return nil, err
	}

	exported := &ExportedArchive{
		Package: pkg,
		Info:    ai,
		Path:    stonePath,
		Sum:     ap.Sum,
		Sha256:  sh.Sum(nil),
	}

	return exported, nil
}

// ExportClosure writes pkg and its whole runtime closure into dest,
// dependencies first, plus a sums file covering the set. Archives
// already present are summed but not repacked.
func (e *ArchiveExport) ExportClosure(ctx context.Context, pkg *ScriptPackage, dest string) ([]*ExportedArchive, error) {
	var cd ScriptCalcDeps
	cd.store = e.store

	pkgs, err := cd.EvalDeps([]*ScriptPackage{pkg})
	if err != nil {
		return nil, err
	}

	var export []*ExportedArchive

	pb := progress.Count(ctx, int64(len(pkgs)), "Exporting")
	defer pb.Close()

	for _, p := range pkgs {
		pb.On(p.Name())

		stonePath := filepath.Join(dest, archiveFileName(p.Name(), p.Version()))
		if _, err := os.Stat(stonePath); err == nil {
			e.L().Debug("archive already exported", "path", stonePath)

			sum, err := hashFile("sha256", stonePath)
			if err != nil {
				return nil, err
			}

			export = append(export, &ExportedArchive{
				Package: p,
				Path:    stonePath,
				Sha256:  sum,
			})

			pb.Tick()
			continue
		}

		path, err := e.store.Locate(p.ID())
		if err != nil {
			return nil, errors.Wrapf(err, "exporting %s", p.ID())
		}

		ea, err := e.Export(ctx, p, path, dest)
		if err != nil {
			return nil, err
		}

		export = append(export, ea)

		pb.Tick()
	}

	err = e.writeSums(dest, export)
	if err != nil {
		return nil, err
	}

	return export, nil
}

// writeSums publishes a coreutils style sums file so a set shipped
// out of band can be checked with standard tools.
func (e *ArchiveExport) writeSums(dest string, archives []*ExportedArchive) error {
	var lines []string

	for _, a := range archives {
		if len(a.Sha256) == 0 {
			continue
		}

		lines = append(lines, fmt.Sprintf("%s  %s", hex.EncodeToString(a.Sha256), filepath.Base(a.Path)))
	}

	sort.Slice(lines, func(i, j int) bool {
		// order by file name, not by digest
		return lines[i][66:] < lines[j][66:]
	})

	f, err := os.Create(filepath.Join(dest, SumsFile))
	if err != nil {
		return err
	}

	defer f.Close()

	for _, l := range lines {
		fmt.Fprintln(f, l)
	}

	return nil
}
