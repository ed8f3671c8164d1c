package ops

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/data"
	"cairn.dev/cairn/pkg/recipe"
	"cairn.dev/cairn/pkg/repo"
	"github.com/lab47/exprcore/exprcore"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

type ScriptLoad struct {
	common

	Store  *config.Store
	Config *config.Config

	lookup *ScriptLookup

	loaded map[string]*ScriptPackage
}

func loadedKey(name, ns string, args map[string]string, path string) string {
	var keys []string

	for k := range args {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString("-")
	sb.WriteString(ns)

	if len(keys) > 0 {
		sb.WriteByte('-')

		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(args[k])
		}
	}

	sb.WriteString(path)

	return sb.String()
}

type ScriptPackage struct {
	loader *ScriptLoad

	requestName string
	id          string
	sig         string
	repo        string
	prototype   *exprcore.Prototype

	cs ScriptCalcSig

	ent repo.Entry

	helpers    exprcore.StringDict
	helpersSum []byte

	constraints map[string]string

	// PackageInfo caches the installed metadata once read from the
	// store, so dependency walks don't reparse it per edge.
	PackageInfo *data.PackageInfo
}

func (s *ScriptPackage) Name() string {
	return s.cs.Name
}

func (s *ScriptPackage) Version() string {
	return s.cs.Version
}

func (s *ScriptPackage) Description() string {
	return s.cs.Description
}

func (s *ScriptPackage) License() string {
	return s.cs.License
}

func (s *ScriptPackage) Homepage() string {
	return s.cs.Homepage
}

func (s *ScriptPackage) Vendor() string {
	return s.cs.Vendor
}

func (s *ScriptPackage) Metadata() map[string]string {
	return s.cs.Metadata
}

// String returns the string representation of the value.
// exprcore string values are quoted as if by Python's repr.
func (s *ScriptPackage) String() string {
	return fmt.Sprintf("<script: %s>", s.requestName)
}

// Type returns a short string describing the value's type.
func (s *ScriptPackage) Type() string {
	return "script"
}

// Freeze causes the value, and all values transitively
// reachable from it through collections and closures, to be
// marked as frozen.  All subsequent mutations to the data
// structure through this API will fail dynamically, making the
// data structure immutable and safe for publishing to other
// exprcore interpreters running concurrently.
func (s *ScriptPackage) Freeze() {
}

// Truth returns the truth value of an object.
func (s *ScriptPackage) Truth() exprcore.Bool {
	return exprcore.True
}

// Hash returns a function of x such that Equals(x, y) => Hash(x) == Hash(y).
// Hash may fail if the value's type is not hashable, or if the value
// contains a non-hashable value. The hash is used only by dictionaries and
// is not exposed to the exprcore program.
func (s *ScriptPackage) Hash() (uint32, error) {
	return 0, io.EOF
}

func (s *ScriptPackage) ID() string {
	return s.id
}

func (s *ScriptPackage) Signature() string {
	return s.sig
}

func (s *ScriptPackage) Repo() string {
	return s.repo
}

// Entry is the repo entry the package was loaded from, nil for
// packages synthesized outside a repo.
func (s *ScriptPackage) Entry() repo.Entry {
	return s.ent
}

func (s *ScriptPackage) Constraints() map[string]string {
	return s.constraints
}

func (s *ScriptPackage) Origins() []*Origin {
	return s.cs.Origins
}

func (s *ScriptPackage) Recipe() *recipe.Recipe {
	return s.cs.Recipe
}

func (s *ScriptPackage) Hook() *exprcore.Function {
	return s.cs.Hook
}

func (s *ScriptPackage) PostInstall() *exprcore.Function {
	return s.cs.PostInstall
}

// Dependencies returns any ScriptPackages that this one depends on, as
// declared via the dependencies keyword.
func (s *ScriptPackage) Dependencies() []*ScriptPackage {
	// Make a copy so that the caller can't accidentally manipulate our canonical list of
	// dependencies.
	slice := make([]*ScriptPackage, len(s.cs.Dependencies))
	copy(slice, s.cs.Dependencies)
	return slice
}

// ExplicitDependencies are the ones retained at runtime no matter
// what reference pruning finds.
func (s *ScriptPackage) ExplicitDependencies() []*ScriptPackage {
	slice := make([]*ScriptPackage, len(s.cs.ExplicitDeps))
	copy(slice, s.cs.ExplicitDeps)
	return slice
}

func (s *ScriptPackage) DependencyNames() []string {
	var out []string

	for _, c := range s.cs.Dependencies {
		out = append(out, c.requestName)
	}

	return out
}

var ErrBadScript = errors.New("script error detected")

type Option func(c *loadCfg)

type loadCfg struct {
	namespace         string
	args, constraints map[string]string
	repoPath          string
	lenientSums       bool
}

func WithArgs(args map[string]string) Option {
	return func(c *loadCfg) {
		c.args = args
	}
}

func WithConstraints(args map[string]string) Option {
	return func(c *loadCfg) {
		c.constraints = args
	}
}

func WithNamespace(ns string) Option {
	return func(c *loadCfg) {
		c.namespace = ns
	}
}

// WithRepoPath pins lookup to one repo directory, the way imports
// from within that repo resolve.
func WithRepoPath(path string) Option {
	return func(c *loadCfg) {
		c.repoPath = path
	}
}

// WithLenientSums lets scripts load without every source sum present,
// so sums can be computed and recorded in the first place. Packages
// loaded this way carry unusable signatures.
func WithLenientSums() Option {
	return func(c *loadCfg) {
		c.lenientSums = true
	}
}

type loadContext struct {
	repoPath    string
	constraints map[string]string
	lenientSums bool
}

func (s *ScriptLoad) namespacePath(ns string) (string, error) {
	if s.Config == nil {
		return "", fmt.Errorf("unknown namespace: %s", ns)
	}

	for _, part := range s.Config.NamedPath() {
		if part.Name == ns {
			return part.Path, nil
		}
	}

	return "", fmt.Errorf("unknown namespace: %s", ns)
}

func (s *ScriptLoad) Load(name string, opts ...Option) (*ScriptPackage, error) {
	if s.loaded == nil {
		s.loaded = make(map[string]*ScriptPackage)
	}

	if s.lookup == nil {
		s.lookup = &ScriptLookup{common: s.common}

		if s.Config != nil {
			s.lookup.Path = s.Config.LoadPath()
		}
	}

	var lc loadCfg

	for _, o := range opts {
		o(&lc)
	}

	cacheKey := loadedKey(name, lc.namespace, lc.args, lc.repoPath)
	if lc.lenientSums {
		cacheKey = "lenient!" + cacheKey
	}

	sp, ok := s.loaded[cacheKey]
	if ok {
		if sp == nil {
			return nil, fmt.Errorf("recursive dependencies detected")
		}

		return sp, nil
	}

	var (
		ent repo.Entry
		err error
	)

	repoPath := lc.repoPath

	switch {
	case lc.namespace != "":
		repoPath, err = s.namespacePath(lc.namespace)
		if err != nil {
			return nil, err
		}

		s.L().Debug("looking up script", "namespace", lc.namespace, "name", name)

		ent, err = s.lookup.LoadDir(repoPath, name)
	case repoPath != "":
		s.L().Debug("looking up script", "repo-path", repoPath, "name", name)

		ent, err = s.lookup.LoadDir(repoPath, name)
	default:
		s.L().Debug("looking up script", "name", name)

		if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "/") {
			// imports from a directly addressed repo stay within it
			repoPath = filepath.Dir(name)
		}

		ent, err = s.lookup.Load(name)
	}

	if err != nil {
		return nil, err
	}

	fname, source, err := ent.Script()
	if err != nil {
		return nil, err
	}

	pkgobj := exprcore.FromStringDict(exprcore.Root, nil)

	args := exprcore.NewDict(len(lc.args))

	for k, v := range lc.args {
		args.SetKey(exprcore.String(k), exprcore.String(v))
	}

	osName, _, arch := config.Platform()

	sysobj := exprcore.FromStringDict(exprcore.Root, exprcore.StringDict{
		"os":       exprcore.String(osName),
		"arch":     exprcore.String(arch),
		"platform": exprcore.String(osName + "-" + arch),
	})

	vars := exprcore.StringDict{
		"pkg":       pkgobj,
		"args":      args,
		"file":      exprcore.NewBuiltin("file", s.fileFn),
		"dir":       exprcore.NewBuiltin("dir", s.dirFn),
		"url_fetch": exprcore.NewBuiltin("url_fetch", s.urlFetchFn),
		"git_fetch": exprcore.NewBuiltin("git_fetch", s.gitFetchFn),
		"join":      exprcore.NewBuiltin("join", joinFn),
		"fmt":       exprcore.NewBuiltin("fmt", fmtFn),
		"basename":  exprcore.NewBuiltin("basename", basenameFn),
		"sys":       sysobj,
	}

	for k, v := range recipe.Builtins {
		vars[k] = v
	}

	_, prog, err := exprcore.SourceProgram(fname, source, vars.Has)
	if err != nil {
		return nil, err
	}

	var thread exprcore.Thread

	lctx := &loadContext{
		repoPath:    repoPath,
		constraints: lc.constraints,
		lenientSums: lc.lenientSums,
	}

	thread.Import = func(thread *exprcore.Thread, namespace, pkg string, args *exprcore.Dict) (exprcore.Value, error) {
		return s.importPkg(thread, lctx, namespace, pkg, args)
	}

	thread.SetLocal("constraints", lc.constraints)
	thread.SetLocal("script-entry", ent)

	if lc.lenientSums {
		thread.SetLocal("lenient-sums", true)
	}

	s.loaded[cacheKey] = nil

	_, pkgval, err := prog.Init(&thread, vars)
	if err != nil {
		return nil, err
	}

	ppkg, ok := pkgval.(*exprcore.Prototype)
	if !ok {
		return nil, errors.Wrapf(ErrBadScript, "script '%s' did not return an object: %T", name, pkgval)
	}

	sp = &ScriptPackage{
		requestName: name,
		repo:        ent.RepoId(),
		loader:      s,
		constraints: lc.constraints,
		prototype:   ppkg,
		ent:         ent,
	}

	s.loaded[cacheKey] = sp

	err = s.loadHelpers(sp, lctx, fname, ent, vars)
	if err != nil {
		return nil, err
	}

	sp.cs.common.logger = s.common.logger

	sig, id, err := sp.cs.Calculate(ppkg, sp.helpersSum, lc.constraints)
	if err != nil {
		return nil, err
	}

	sp.sig = sig
	sp.id = id

	return sp, nil
}

// ProcessPrototype computes the package a prototype value describes
// without any repo context, for callers that evaluated a script
// themselves.
func ProcessPrototype(pkgval exprcore.Value, constraints map[string]string) (*ScriptPackage, error) {
	ppkg, ok := pkgval.(*exprcore.Prototype)
	if !ok {
		return nil, errors.Wrapf(ErrBadScript, "script did not return an object")
	}

	sp := &ScriptPackage{
		prototype:   ppkg,
		constraints: constraints,
	}

	sig, id, err := sp.cs.Calculate(ppkg, nil, constraints)
	if err != nil {
		return nil, err
	}

	sp.sig = sig
	sp.id = id
	sp.requestName = sp.cs.Name

	return sp, nil
}

func (s *ScriptLoad) importPkg(thread *exprcore.Thread, lctx *loadContext, ns, name string, args *exprcore.Dict) (exprcore.Value, error) {
	var opts []Option

	if lctx.constraints != nil {
		opts = append(opts, WithConstraints(lctx.constraints))
	}

	if args != nil {
		loadArgs := make(map[string]string)

		for _, pair := range args.Items() {
			k, ok := pair[0].(exprcore.String)
			if !ok {
				return nil, fmt.Errorf("load arg key not a string")
			}

			v, ok := pair[1].(exprcore.String)
			if !ok {
				return nil, fmt.Errorf("load arg value not a string")
			}

			loadArgs[string(k)] = string(v)
		}

		opts = append(opts, WithArgs(loadArgs))
	}

	if ns != "" {
		opts = append(opts, WithNamespace(ns))
	} else if lctx.repoPath != "" {
		opts = append(opts, WithRepoPath(lctx.repoPath))
	}

	if lctx.lenientSums {
		opts = append(opts, WithLenientSums())
	}

	return s.Load(name, opts...)
}

func fmtFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var format string

	if len(kwargs) > 1 {
		return nil, fmt.Errorf("fmt: too many keyword args")
	}

	if len(kwargs) == 1 {
		pair := kwargs[0]
		if pair[0].(exprcore.String) == "format" {
			if str, ok := pair[1].(exprcore.String); ok {
				format = string(str)
			}
		} else {
			return nil, fmt.Errorf("fmt: unknown argument '%s'", pair[0])
		}
	} else {
		if len(args) == 0 {
			return nil, fmt.Errorf("fmt: format missing")
		}

		if str, ok := args[0].(exprcore.String); ok {
			format = string(str)
		} else {
			return nil, fmt.Errorf("fmt: format must be a string")
		}

		args = args[1:]
	}

	var parts []interface{}

	for _, a := range args {
		switch v := a.(type) {
		case exprcore.String:
			parts = append(parts, string(v))
		case exprcore.Int:
			parts = append(parts, v.String())
		default:
			return nil, fmt.Errorf("fmt only accepts strings and ints, got a %T", a)
		}
	}

	return exprcore.String(fmt.Sprintf(format, parts...)), nil
}

func joinFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var parts []string

	for _, a := range args {
		if s, ok := a.(exprcore.String); ok {
			parts = append(parts, string(s))
		} else {
			return nil, fmt.Errorf("join only accepts strings, got a %T", a)
		}
	}

	return exprcore.String(filepath.Join(parts...)), nil
}

func basenameFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var path string

	if err := exprcore.UnpackArgs(
		"basename", args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	return exprcore.String(filepath.Base(path)), nil
}

func (l *ScriptLoad) loadHelpers(s *ScriptPackage, lctx *loadContext, fname string, ent repo.Entry, vars exprcore.StringDict) error {
	exportName := strings.TrimSuffix(fname, repo.Extension) + repo.ExportExtension

	_, b, err := ent.Asset(exportName)
	if err != nil {
		return nil
	}

	_, prog, err := exprcore.SourceProgram(exportName, b, vars.Has)
	if err != nil {
		return err
	}

	var thread exprcore.Thread

	thread.Import = func(thread *exprcore.Thread, namespace, pkg string, args *exprcore.Dict) (exprcore.Value, error) {
		return l.importPkg(thread, lctx, namespace, pkg, args)
	}

	thread.SetLocal("script-entry", ent)

	gbls, _, err := prog.Init(&thread, vars)
	if err != nil {
		return err
	}

	s.helpers = gbls

	var keys []string

	for k := range gbls {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	h, _ := blake2b.New256(nil)

	for _, k := range keys {
		v := gbls[k]

		if fn, ok := v.(*exprcore.Function); ok {
			d, err := fn.HashCode()
			if err != nil {
				return err
			}

			h.Write(d)
		}
	}

	s.helpersSum = h.Sum(nil)

	return nil
}

func (s *ScriptPackage) Attr(name string) (exprcore.Value, error) {
	switch name {
	case "prefix":
		path, err := s.loader.Store.Locate(s.ID())
		if err != nil {
			if errors.Is(err, config.ErrNoEntry) {
				path = s.loader.Store.ExpectedPath(s.ID())
			} else {
				return nil, err
			}
		}

		return exprcore.String(path), nil
	}

	if s.helpers == nil {
		return nil, nil
	}

	val, ok := s.helpers[name]
	if !ok {
		return nil, nil
	}

	return val, nil
}

func (s *ScriptPackage) AttrNames() []string {
	if s.helpers == nil {
		return nil
	}

	return s.helpers.Keys()
}
