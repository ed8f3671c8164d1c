package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"cairn.dev/cairn/pkg/cmd"
	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/direnv"
	"cairn.dev/cairn/pkg/gc"
	"cairn.dev/cairn/pkg/humanize"
	"cairn.dev/cairn/pkg/lockfile"
	"cairn.dev/cairn/pkg/manifest"
	"cairn.dev/cairn/pkg/ops"
	"cairn.dev/cairn/pkg/profile"
	"cairn.dev/cairn/pkg/status"
	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

var version = "0.1.0"

func main() {
	pf := pflag.NewFlagSet("stela", pflag.ContinueOnError)
	pf.SetInterspersed(false)

	debug := pf.Bool("debug", false, "log at debug level")
	logLevel := pf.String("log-level", "", "log at the named level (trace, debug, info, warn, error)")

	if err := pf.Parse(os.Args[1:]); err != nil && err != pflag.ErrHelp {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	eo, err := config.LoadEnvOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := hclog.LevelFromString(eo.LogLevel)

	if eo.Debug {
		level = hclog.Debug
	}

	if *logLevel != "" {
		level = hclog.LevelFromString(*logLevel)
	}

	if *debug {
		level = hclog.Debug
	}

	if level == hclog.NoLevel {
		level = hclog.Info
	}

	hclog.SetDefault(hclog.New(&hclog.LoggerOptions{
		Name:  "stela",
		Level: level,
	}))

	c := cli.NewCLI("stela", version)
	c.Args = pf.Args()
	c.Commands = map[string]cli.CommandFactory{
		"setup": func() (cli.Command, error) {
			return cmd.New(
				"setup",
				"create the data dirs and user keys, print their locations",
				setupF,
			), nil
		},
		"build": func() (cli.Command, error) {
			return cmd.New(
				"build",
				"build packages into the store",
				buildF,
			), nil
		},
		"install": func() (cli.Command, error) {
			return cmd.New(
				"install",
				"build packages and link them into a profile",
				installF,
			), nil
		},
		"remove": func() (cli.Command, error) {
			return cmd.New(
				"remove",
				"unlink packages from a profile",
				removeF,
			), nil
		},
		"describe": func() (cli.Command, error) {
			return cmd.New(
				"describe",
				"print the descriptor fields of packages",
				describeF,
			), nil
		},
		"hash": func() (cli.Command, error) {
			return cmd.New(
				"hash",
				"sum local files or directories for descriptor sources",
				hashF,
			), nil
		},
		"verify": func() (cli.Command, error) {
			return cmd.New(
				"verify",
				"check staged sources against their declared sums",
				verifyF,
			), nil
		},
		"graph": func() (cli.Command, error) {
			return cmd.New(
				"graph",
				"print the install-ordered dependency closure",
				graphF,
			), nil
		},
		"search": func() (cli.Command, error) {
			return cmd.New(
				"search",
				"search the repo indexes",
				searchF,
			), nil
		},
		"index": func() (cli.Command, error) {
			return cmd.New(
				"index",
				"write a repo's package index",
				indexF,
			), nil
		},
		"pack": func() (cli.Command, error) {
			return cmd.New(
				"pack",
				"export installed packages as .stone archives",
				packF,
			), nil
		},
		"unpack": func() (cli.Command, error) {
			return cmd.New(
				"unpack",
				"import .stone archives into the store",
				unpackF,
			), nil
		},
		"inspect-stone": func() (cli.Command, error) {
			return cmd.New(
				"inspect-stone",
				"show the contents of a .stone archive",
				inspectStoneF,
			), nil
		},
		"env": func() (cli.Command, error) {
			return cmd.New(
				"env",
				"print a profile's environment, or run a command in it",
				envF,
			), nil
		},
		"gc": func() (cli.Command, error) {
			return cmd.New(
				"gc",
				"remove store entries nothing references",
				gcF,
			), nil
		},
		"version": func() (cli.Command, error) {
			return cmd.New(
				"version",
				"print version and platform information",
				versionF,
			), nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}

	os.Exit(exitStatus)
}

// takeLock serializes store mutation across processes via a lockfile
// in the data dir.
func takeLock(ctx context.Context, cfg *config.Config) (func(), error) {
	var showLock bool

	return lockfile.Take(ctx, filepath.Join(cfg.DataDir, ".lock"), func() {
		if !showLock {
			fmt.Printf("Lock detected, waiting...\n")
			showLock = true
		}
	})
}

// openProfile resolves a profile name against the profiles path. A
// name with a path separator addresses a directory instead, so
// project-local profiles work too.
func openProfile(cfg *config.Config, name string) (*profile.Profile, error) {
	if name == "" {
		name = cfg.Profile
	}

	path := name

	if !filepath.IsAbs(path) && !strings.ContainsRune(path, filepath.Separator) {
		path = filepath.Join(cfg.ProfilesPath, name)
	}

	return profile.OpenProfile(path)
}

// loadRequests loads the named packages, or the manifest's packages
// when a manifest path is given or no names are. The second return is
// the profile the manifest asks for, if any.
func loadRequests(cfg *config.Config, names []string, manifestPath string) ([]*ops.ScriptPackage, string, error) {
	var (
		m   *manifest.Manifest
		err error
	)

	switch {
	case manifestPath != "":
		m, err = manifest.NewLoader().Load(manifestPath)
	case len(names) == 0:
		m, err = manifest.NewLoader().AutoLoad()
	}

	if err != nil {
		return nil, "", err
	}

	loader := &ops.ScriptLoad{
		Store:  cfg.Store(),
		Config: cfg,
	}

	constraints := cfg.Constraints()

	var pkgs []*ops.ScriptPackage

	if m != nil {
		for _, req := range m.Packages {
			lo := []ops.Option{ops.WithConstraints(constraints)}

			if req.Repo != "" {
				lo = append(lo, ops.WithNamespace(req.Repo))
			}

			if len(req.Args) > 0 {
				lo = append(lo, ops.WithArgs(req.Args))
			}

			pkg, err := loader.Load(req.Name, lo...)
			if err != nil {
				return nil, "", errors.Wrapf(err, "loading %s", req)
			}

			pkgs = append(pkgs, pkg)
		}

		return pkgs, m.Profile, nil
	}

	for _, name := range names {
		pkg, err := loader.Load(name, ops.WithConstraints(constraints))
		if err != nil {
			return nil, "", errors.Wrapf(err, "loading %s", name)
		}

		pkgs = append(pkgs, pkg)
	}

	return pkgs, "", nil
}

func loadNamed(cfg *config.Config, names []string) ([]*ops.ScriptPackage, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no packages given")
	}

	pkgs, _, err := loadRequests(cfg, names, "")
	return pkgs, err
}

func setupF(ctx context.Context, opts struct{}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "unable to create or load configuration")
	}

	for _, dir := range []string{cfg.StorePath(), cfg.BuildPath()} {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return err
		}
	}

	id, err := cfg.SignerId()
	if err != nil {
		return errors.Wrapf(err, "unable to prepare user keys")
	}

	fmt.Printf("Config Dir: %s\n", cfg.ConfigDir())
	fmt.Printf("Data Dir: %s\n", cfg.DataDir)
	fmt.Printf("Profiles Path: %s\n", cfg.ProfilesPath)
	fmt.Printf("Signer Id: %s\n", id)

	return nil
}

func buildF(ctx context.Context, opts struct {
	Jobs       int    `short:"j" long:"jobs" description:"parallel jobs within build phases"`
	KeepFailed bool   `long:"keep-failed" description:"keep the work dir when a build fails"`
	DryRun     bool   `short:"n" long:"dry-run" description:"print what would be built without building"`
	Manifest   string `short:"m" long:"manifest" description:"read the package list from the given manifest"`
	Verbose    bool   `short:"V" long:"verbose" description:"log debug output during the build"`

	Pos struct {
		Packages []string `positional-arg-name:"package"`
	} `positional-args:"yes"`
}) error {
	if opts.Verbose {
		hclog.Default().SetLevel(hclog.Debug)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	pkgs, _, err := loadRequests(cfg, opts.Pos.Packages, opts.Manifest)
	if err != nil {
		return err
	}

	var pci ops.PackageCalcInstall
	pci.Store = cfg.Store()

	toInstall, err := pci.CalculateSet(pkgs)
	if err != nil {
		return err
	}

	if opts.DryRun {
		for _, id := range toInstall.InstallOrder {
			state := "build"
			if toInstall.Installed[id] {
				state = "installed"
			}

			fmt.Printf("%-9s  %s\n", state, id)
		}

		return nil
	}

	cleanup, err := takeLock(ctx, cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	eo, err := config.LoadEnvOptions()
	if err != nil {
		return err
	}

	jobs := opts.Jobs
	if jobs == 0 {
		jobs = eo.JobCount()
	}

	err = os.MkdirAll(cfg.StorePath(), 0755)
	if err != nil {
		return err
	}

	ienv := &ops.InstallEnv{
		BuildDir:    cfg.BuildPath(),
		Store:       cfg.Store(),
		Config:      cfg,
		Jobs:        jobs,
		RetainBuild: opts.KeepFailed || eo.KeepFailed,
	}

	ui := &ops.UI{Status: status.NewLine(os.Stdout)}
	ctx = ops.AddUI(ctx, ui)

	ui.InstallPrologue(cfg)

	var pi ops.PackagesInstall

	err = pi.Install(ctx, ienv, toInstall)
	if err != nil {
		if pi.Failed != "" {
			return errors.Wrapf(err, "building %s", pi.Failed)
		}

		return err
	}

	for _, id := range pi.Installed {
		fmt.Printf("built %s\n", id)
	}

	return nil
}

func installF(ctx context.Context, opts struct {
	Profile  string `short:"p" long:"profile" description:"link into the named profile"`
	Manifest string `short:"m" long:"manifest" description:"read the package list from the given manifest"`

	Pos struct {
		Packages []string `positional-arg-name:"package"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	pkgs, manifestProfile, err := loadRequests(cfg, opts.Pos.Packages, opts.Manifest)
	if err != nil {
		return err
	}

	cleanup, err := takeLock(ctx, cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	eo, err := config.LoadEnvOptions()
	if err != nil {
		return err
	}

	err = os.MkdirAll(cfg.StorePath(), 0755)
	if err != nil {
		return err
	}

	ienv := &ops.InstallEnv{
		BuildDir:    cfg.BuildPath(),
		Store:       cfg.Store(),
		Config:      cfg,
		Jobs:        eo.JobCount(),
		RetainBuild: eo.KeepFailed,
	}

	var pci ops.PackageCalcInstall
	pci.Store = cfg.Store()

	toInstall, err := pci.CalculateSet(pkgs)
	if err != nil {
		return err
	}

	ui := &ops.UI{Status: status.NewLine(os.Stdout)}
	ctx = ops.AddUI(ctx, ui)

	ui.InstallPrologue(cfg)

	var pi ops.PackagesInstall

	err = pi.Install(ctx, ienv, toInstall)
	if err != nil {
		if pi.Failed != "" {
			return errors.Wrapf(err, "building %s", pi.Failed)
		}

		return err
	}

	profileName := opts.Profile
	if profileName == "" {
		profileName = manifestProfile
	}

	prof, err := openProfile(cfg, profileName)
	if err != nil {
		return err
	}

	for _, pkg := range pkgs {
		id := pkg.ID()

		err = prof.Link(id, toInstall.InstallDirs[id])
		if err != nil {
			return errors.Wrapf(err, "linking %s", id)
		}
	}

	for _, u := range prof.UpdateEnv(os.Environ()) {
		fmt.Println(u)
	}

	return nil
}

func removeF(ctx context.Context, opts struct {
	Profile string `short:"p" long:"profile" description:"unlink from the named profile"`

	Pos struct {
		Packages []string `positional-arg-name:"package"`
	} `positional-args:"yes"`
}) error {
	if len(opts.Pos.Packages) == 0 {
		return fmt.Errorf("no packages given")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	cleanup, err := takeLock(ctx, cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	prof, err := openProfile(cfg, opts.Profile)
	if err != nil {
		return err
	}

	for _, name := range opts.Pos.Packages {
		err = prof.Unlink(name)
		if err != nil {
			return errors.Wrapf(err, "removing %s", name)
		}

		fmt.Printf("removed %s\n", name)
	}

	return nil
}

type pkgDescription struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Repo         string            `json:"repo,omitempty"`
	Description  string            `json:"description,omitempty"`
	License      string            `json:"license,omitempty"`
	Homepage     string            `json:"homepage,omitempty"`
	Vendor       string            `json:"vendor,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Sources      []string          `json:"sources,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Constraints  map[string]string `json:"constraints,omitempty"`
}

func describePackage(pkg *ops.ScriptPackage) *pkgDescription {
	var origins []string

	for _, o := range pkg.Origins() {
		origins = append(origins, o.Render())
	}

	return &pkgDescription{
		ID:           pkg.ID(),
		Name:         pkg.Name(),
		Version:      pkg.Version(),
		Repo:         pkg.Repo(),
		Description:  pkg.Description(),
		License:      pkg.License(),
		Homepage:     pkg.Homepage(),
		Vendor:       pkg.Vendor(),
		Metadata:     pkg.Metadata(),
		Sources:      origins,
		Dependencies: pkg.DependencyNames(),
		Constraints:  pkg.Constraints(),
	}
}

func describeF(ctx context.Context, opts struct {
	JSON  bool `long:"json" description:"emit the descriptor as JSON"`
	Debug bool `long:"debug" description:"dump the raw descriptor record"`

	Pos struct {
		Packages []string `positional-arg-name:"package"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	pkgs, err := loadNamed(cfg, opts.Pos.Packages)
	if err != nil {
		return err
	}

	if opts.Debug {
		for _, pkg := range pkgs {
			spew.Dump(describePackage(pkg))
		}

		return nil
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		for _, pkg := range pkgs {
			err = enc.Encode(describePackage(pkg))
			if err != nil {
				return err
			}
		}

		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 4, 2, 1, ' ', 0)
	defer tw.Flush()

	for i, pkg := range pkgs {
		if i > 0 {
			fmt.Fprintln(tw)
		}

		fmt.Fprintf(tw, "Name:\t%s\n", pkg.Name())
		fmt.Fprintf(tw, "Version:\t%s\n", pkg.Version())
		fmt.Fprintf(tw, "Id:\t%s\n", pkg.ID())

		if r := pkg.Repo(); r != "" {
			fmt.Fprintf(tw, "Repo:\t%s\n", r)
		}

		if d := pkg.Description(); d != "" {
			fmt.Fprintf(tw, "Description:\t%s\n", d)
		}

		if l := pkg.License(); l != "" {
			fmt.Fprintf(tw, "License:\t%s\n", l)
		}

		if h := pkg.Homepage(); h != "" {
			fmt.Fprintf(tw, "Homepage:\t%s\n", h)
		}

		if v := pkg.Vendor(); v != "" {
			fmt.Fprintf(tw, "Vendor:\t%s\n", v)
		}

		for _, o := range pkg.Origins() {
			fmt.Fprintf(tw, "Source:\t%s\n", o.Render())
		}

		if deps := pkg.DependencyNames(); len(deps) > 0 {
			fmt.Fprintf(tw, "Dependencies:\t%s\n", strings.Join(deps, ", "))
		}

		md := pkg.Metadata()

		var keys []string
		for k := range md {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(tw, "Metadata:\t%s=%s\n", k, md[k])
		}
	}

	return nil
}

func hashF(ctx context.Context, opts struct {
	Sha256 bool `long:"sha256" description:"emit a hex sha256 sum instead of base58 b2"`

	Pos struct {
		Paths []string `positional-arg-name:"path"`
	} `positional-args:"yes"`
}) error {
	if len(opts.Pos.Paths) == 0 {
		return fmt.Errorf("no paths given")
	}

	algo := "b2"
	if opts.Sha256 {
		algo = "sha256"
	}

	var sh ops.SourceHash

	for _, path := range opts.Pos.Paths {
		sum, err := sh.Hash(algo, path)
		if err != nil {
			return err
		}

		fmt.Printf("%s  %s\n", sum, path)
	}

	return nil
}

func verifyF(ctx context.Context, opts struct {
	Record bool `long:"record" description:"write the computed sums into the repo's sums file"`

	Pos struct {
		Packages []string `positional-arg-name:"package"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	pkgs, err := loadNamed(cfg, opts.Pos.Packages)
	if err != nil {
		return err
	}

	sv := ops.NewSourceVerify(cfg)

	for _, pkg := range pkgs {
		if opts.Record {
			err = sv.Record(pkg)
			if err != nil {
				return errors.Wrapf(err, "recording sums for %s", pkg.Name())
			}

			fmt.Printf("recorded sums for %s\n", pkg.Name())
			continue
		}

		sums, err := sv.Sums(pkg)
		if err != nil {
			return errors.Wrapf(err, "summing sources for %s", pkg.Name())
		}

		fmt.Printf("%s:\n", pkg.Name())

		for _, s := range sums {
			fmt.Printf("  %s\n", s)
		}

		err = sv.Verify(pkg)
		if err != nil {
			return errors.Wrapf(err, "verifying %s", pkg.Name())
		}

		fmt.Printf("  sources ok\n")
	}

	return nil
}

func graphF(ctx context.Context, opts struct {
	Pos struct {
		Packages []string `positional-arg-name:"package"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	pkgs, err := loadNamed(cfg, opts.Pos.Packages)
	if err != nil {
		return err
	}

	var pci ops.PackageCalcInstall
	pci.Store = cfg.Store()

	toInstall, err := pci.CalculateSet(pkgs)
	if err != nil {
		return err
	}

	for _, id := range toInstall.InstallOrder {
		mark := "+"
		if toInstall.Installed[id] {
			mark = "="
		}

		fmt.Printf("%s %s\n", mark, id)
	}

	return nil
}

func searchF(ctx context.Context, opts struct {
	Pos struct {
		Term string `positional-arg-name:"term"`
	} `positional-args:"yes"`
}) error {
	if opts.Pos.Term == "" {
		return fmt.Errorf("no search term given")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	var rs ops.RepoSearch
	rs.Loader = &ops.ScriptLoad{
		Store:  cfg.Store(),
		Config: cfg,
	}

	tw := tabwriter.NewWriter(os.Stdout, 4, 2, 1, ' ', 0)
	defer tw.Flush()

	for _, part := range cfg.NamedPath() {
		fi, err := os.Stat(part.Path)
		if err != nil || !fi.IsDir() {
			continue
		}

		entries, err := rs.Search(part.Path, opts.Pos.Term)
		if err != nil {
			return errors.Wrapf(err, "searching %s", part.Path)
		}

		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Version, e.Description)
		}
	}

	return nil
}

func indexF(ctx context.Context, opts struct {
	Watch bool `short:"w" long:"watch" description:"stay running and rebuild the index on changes"`

	Pos struct {
		Dir string `positional-arg-name:"dir"`
	} `positional-args:"yes"`
}) error {
	dir := opts.Pos.Dir
	if dir == "" {
		dir = "."
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if opts.Watch {
		var rw ops.RepoWatch
		rw.Store = cfg.Store()
		rw.Config = cfg

		err = rw.Watch(ctx, dir)
		if err == context.Canceled {
			return nil
		}

		return err
	}

	var rwi ops.RepoWriteIndex
	rwi.Loader = &ops.ScriptLoad{
		Store:  cfg.Store(),
		Config: cfg,
	}

	idx, err := rwi.Write(dir)
	if err != nil {
		return err
	}

	fmt.Printf("indexed %d packages\n", len(idx.Entries))

	return nil
}

func packF(ctx context.Context, opts struct {
	Dest string `short:"d" long:"dest" description:"directory to write archives into" default:"."`

	Pos struct {
		Packages []string `positional-arg-name:"package"`
	} `positional-args:"yes"`
}) error {
	if len(opts.Pos.Packages) == 0 {
		return fmt.Errorf("no packages given")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	err = os.MkdirAll(opts.Dest, 0755)
	if err != nil {
		return err
	}

	var sf ops.StoreFind
	sf.Store = cfg.Store()

	ae := ops.NewArchiveExport(cfg)

	for _, name := range opts.Pos.Packages {
		pkg, err := sf.InstalledPackage(name)
		if err != nil {
			return errors.Wrapf(err, "resolving %s", name)
		}

		archives, err := ae.ExportClosure(ctx, pkg, opts.Dest)
		if err != nil {
			return errors.Wrapf(err, "exporting %s", pkg.ID())
		}

		for _, ar := range archives {
			fmt.Printf("%x  %s\n", ar.Sha256, ar.Path)
		}
	}

	return nil
}

func unpackF(ctx context.Context, opts struct {
	Pos struct {
		Files []string `positional-arg-name:"file"`
	} `positional-args:"yes"`
}) error {
	if len(opts.Pos.Files) == 0 {
		return fmt.Errorf("no archives given")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	cleanup, err := takeLock(ctx, cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	err = os.MkdirAll(cfg.StorePath(), 0755)
	if err != nil {
		return err
	}

	ai := ops.NewArchiveImport(cfg)

	for _, file := range opts.Pos.Files {
		id, err := ai.Import(ctx, file)
		if err != nil {
			return errors.Wrapf(err, "importing %s", file)
		}

		fmt.Printf("installed %s\n", id)
	}

	return nil
}

func inspectStoneF(ctx context.Context, opts struct {
	Pos struct {
		File string `positional-arg-name:"file"`
	} `positional-args:"yes"`
}) error {
	if opts.Pos.File == "" {
		return fmt.Errorf("no archive given")
	}

	f, err := os.Open(opts.Pos.File)
	if err != nil {
		return err
	}

	defer f.Close()

	var si ops.ArchiveInspect

	tw := tabwriter.NewWriter(os.Stdout, 4, 2, 1, ' ', 0)
	defer tw.Flush()

	return si.Show(f, tw)
}

func envF(ctx context.Context, opts struct {
	Dump    bool   `short:"E" long:"dump" description:"dump the environment in direnv's wire format"`
	Profile string `short:"p" long:"profile" description:"use the named profile"`

	Pos struct {
		Command []string `positional-arg-name:"command"`
	} `positional-args:"yes"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	prof, err := openProfile(cfg, opts.Profile)
	if err != nil {
		return err
	}

	if len(opts.Pos.Command) > 0 {
		env := prof.ComputeEnv(os.Environ())

		path, err := exec.LookPath(opts.Pos.Command[0])
		if err != nil {
			return err
		}

		return unix.Exec(path, opts.Pos.Command, env)
	}

	if opts.Dump {
		var w io.Writer

		path := os.Getenv("DIRENV_DUMP_FILE_PATH")

		if path == "" {
			w = os.Stdout
		} else {
			f, err := os.Create(path)
			if err != nil {
				return err
			}

			defer f.Close()

			w = f
		}

		fmt.Fprintln(w, direnv.Dump(prof.EnvMap(os.Environ())))
		return nil
	}

	for _, u := range prof.UpdateEnv(os.Environ()) {
		fmt.Printf("export %s\n", u)
	}

	return nil
}

func gcF(ctx context.Context, opts struct {
	DryRun bool `short:"n" long:"dry-run" description:"report what would be removed without removing"`
}) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	col, err := gc.NewCollector(cfg.DataDir, cfg.ProfilesPath)
	if err != nil {
		return err
	}

	if opts.DryRun {
		toKeep, err := col.Mark()
		if err != nil {
			return err
		}

		fmt.Println("## Packages Kept")
		for _, p := range toKeep {
			fmt.Println(p)
		}

		total, err := col.DiskUsage(toKeep)
		if err != nil {
			return err
		}

		sz, unit := humanize.Size(total)

		fmt.Printf("=> Disk Usage: %.2f%s\n", sz, unit)

		toRemove, err := col.SweepUnmarked(ctx, toKeep)
		if err != nil {
			return err
		}

		fmt.Println("\n## Packages Removed")
		for _, p := range toRemove {
			fmt.Println(p)
		}

		total, err = col.DiskUsage(toRemove)
		if err != nil {
			return err
		}

		sz, unit = humanize.Size(total)

		fmt.Printf("=> Disk Usage: %.2f%s\n", sz, unit)

		return nil
	}

	cleanup, err := takeLock(ctx, cfg)
	if err != nil {
		return err
	}

	defer cleanup()

	toKeep, err := col.Mark()
	if err != nil {
		return err
	}

	total, err := col.DiskUsage(toKeep)
	if err != nil {
		return err
	}

	sz, unit := humanize.Size(total)

	fmt.Printf("## Packages Kept: %.2f%s\n", sz, unit)
	for _, p := range toKeep {
		fmt.Println(p)
	}

	res, err := col.SweepAndRemove(ctx, toKeep)
	if err != nil {
		return err
	}

	sz, unit = humanize.Size(res.BytesRecovered)

	fmt.Printf("\nSpace Recovered: %.2f%s\n", sz, unit)
	fmt.Printf("Entries Removed: %d (%d files)\n", len(res.Removed), res.EntriesRemoved)

	return nil
}

func versionF(ctx context.Context, opts struct{}) error {
	osName, osVersion, arch := config.Platform()

	fmt.Printf("stela %s\n", version)
	fmt.Printf("platform: %s %s (%s)\n", osName, osVersion, arch)

	return nil
}
