package recipe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"cairn.dev/cairn/pkg/fileutils"
	"github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-hclog"
	"github.com/lab47/exprcore/exprcore"
	"github.com/pkg/errors"
)

var ErrCommandNotFound = errors.New("command not found")

// Env configures a Runtime for one build.
type Env struct {
	Logger  hclog.Logger
	Context context.Context

	// WorkDir is where phases run, TopDir is the root of the build
	// area, InstallDir is the store path being populated.
	WorkDir    string
	TopDir     string
	InstallDir string

	// Environ is the full environment commands run under. Path is
	// consulted for executable lookup, cached outside Environ.
	Environ []string
	Path    string

	// SourcePath is the staged origin, a file or a directory under
	// TopDir. Empty when the package has no source.
	SourcePath string

	Jobs int

	// OutputPrefix labels each streamed command line. Console
	// receives the labeled lines, BuildLog the raw ones.
	OutputPrefix string
	Console      io.Writer
	BuildLog     io.Writer

	// Hasher puts the runtime in replay mode: operations describe
	// themselves to the hash instead of running.
	Hasher io.Writer
}

// Runtime is the value handed to recipe phases and hook functions. It
// carries the build and install directories and exposes the operations
// a phase may perform.
type Runtime struct {
	L hclog.Logger

	ctx context.Context

	installDir, workDir, topDir string
	extraEnv                    []string

	// Used by system, so cached outside extraEnv
	path string

	h io.Writer

	jobs int

	sourcePath string

	outputPrefix string
	console      io.Writer
	log          io.Writer

	emitMu sync.Mutex

	attrs exprcore.StringDict
}

func NewRuntime(env Env) *Runtime {
	r := &Runtime{
		L:            env.Logger,
		ctx:          env.Context,
		installDir:   env.InstallDir,
		workDir:      env.WorkDir,
		topDir:       env.TopDir,
		extraEnv:     env.Environ,
		path:         env.Path,
		h:            env.Hasher,
		jobs:         env.Jobs,
		sourcePath:   env.SourcePath,
		outputPrefix: env.OutputPrefix,
		console:      env.Console,
		log:          env.BuildLog,
		attrs:        RuntimeFunctions,
	}

	if r.L == nil {
		r.L = hclog.L()
	}

	if r.ctx == nil {
		r.ctx = context.Background()
	}

	if r.topDir == "" {
		r.topDir = r.workDir
	}

	if r.console == nil {
		r.console = os.Stdout
	}

	if r.jobs <= 0 {
		r.jobs = 1
	}

	if r.path == "" {
		for _, kv := range r.extraEnv {
			if strings.HasPrefix(kv, "PATH=") {
				r.path = kv[len("PATH="):]
				break
			}
		}
	}

	return r
}

func (r *Runtime) WorkDir() string {
	return r.workDir
}

func (r *Runtime) InstallDir() string {
	return r.installDir
}

// SetInstallDir repoints prefix. Dependency hooks run with the
// dependency's own store path as the prefix, then it is put back.
func (r *Runtime) SetInstallDir(dir string) {
	r.installDir = dir
}

// RunPhase executes one phase against the runtime. Script phases are
// called with the runtime as their only argument.
func (r *Runtime) RunPhase(thread *exprcore.Thread, ph Phase) error {
	if ph.Run != nil {
		return ph.Run(r)
	}

	_, err := exprcore.Call(thread, ph.Fn, exprcore.Tuple{r}, nil)
	return err
}

// HashPhase feeds the identity of a phase into h. Script phases are
// replayed against a hashing runtime, so the signature tracks what the
// function would do rather than its source text. Builtin phases hash
// by their stable name.
func HashPhase(thread *exprcore.Thread, h io.Writer, ph Phase) error {
	fmt.Fprintf(h, "phase %s\n", ph.Name)

	if ph.Run != nil {
		fmt.Fprintln(h, "builtin")
		return nil
	}

	rt := NewRuntime(Env{
		WorkDir:    "$build",
		TopDir:     "$top",
		InstallDir: "$prefix",
		Hasher:     h,
	})

	_, err := exprcore.Call(thread, ph.Fn, exprcore.Tuple{rt}, nil)
	return err
}

// String returns the string representation of the value.
// exprcore string values are quoted as if by Python's repr.
func (r *Runtime) String() string {
	return "<runtime>"
}

// Type returns a short string describing the value's type.
func (r *Runtime) Type() string {
	return "runtime"
}

// Freeze causes the value, and all values transitively
// reachable from it through collections and closures, to be
// marked as frozen.  All subsequent mutations to the data
// structure through this API will fail dynamically, making the
// data structure immutable and safe for publishing to other
// exprcore interpreters running concurrently.
func (r *Runtime) Freeze() {
}

// Truth returns the truth value of an object.
func (r *Runtime) Truth() exprcore.Bool {
	return exprcore.True
}

// Hash returns a function of x such that Equals(x, y) => Hash(x) == Hash(y).
// Hash may fail if the value's type is not hashable, or if the value
// contains a non-hashable value. The hash is used only by dictionaries and
// is not exposed to the exprcore program.
func (r *Runtime) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (r *Runtime) Attr(name string) (exprcore.Value, error) {
	switch name {
	case "prefix":
		return exprcore.String(r.installDir), nil
	case "build":
		return exprcore.String(r.workDir), nil
	case "top":
		return exprcore.String(r.topDir), nil
	case "jobs":
		return exprcore.MakeInt(r.jobs), nil
	}

	val, err := r.attrs.Attr(name)
	if err != nil {
		return nil, err
	}

	return val.(*exprcore.Builtin).BindReceiver(r), nil
}

func (r *Runtime) AttrNames() []string {
	return append([]string{"prefix", "build", "top", "jobs"}, r.attrs.AttrNames()...)
}

func noRuntime(v interface{}) (exprcore.Value, error) {
	return nil, fmt.Errorf("no runtime bound available: %T", v)
}

var RuntimeFunctions = exprcore.StringDict{
	"system":        exprcore.NewBuiltin("system", systemFn),
	"shell":         exprcore.NewBuiltin("shell", shellFn),
	"apply_patch":   exprcore.NewBuiltin("apply_patch", patchFn),
	"inreplace":     exprcore.NewBuiltin("inreplace", inreplaceFn),
	"inreplace_re":  exprcore.NewBuiltin("inreplace_re", inreplaceReFn),
	"rm_f":          exprcore.NewBuiltin("rm_f", rmrfFn),
	"rm_rf":         exprcore.NewBuiltin("rm_rf", rmrfFn),
	"set_env":       exprcore.NewBuiltin("set_env", setEnvFn),
	"append_env":    exprcore.NewBuiltin("append_env", appendEnvFn),
	"prepend_env":   exprcore.NewBuiltin("prepend_env", prependEnvFn),
	"link":          exprcore.NewBuiltin("link", linkFn),
	"install_files": exprcore.NewBuiltin("install_files", installFn),
	"write_file":    exprcore.NewBuiltin("write_file", writeFileFn),
	"chdir":         exprcore.NewBuiltin("chdir", chdirFn),
	"set_root":      exprcore.NewBuiltin("set_root", setRootFn),
	"mkdir":         exprcore.NewBuiltin("mkdir", mkdirFn),
	"unpack":        exprcore.NewBuiltin("unpack", unpackFn),
}

func addHash(rt *Runtime, parts ...interface{}) (exprcore.Value, error) {
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			fmt.Fprintln(rt.h, strconv.Quote(v))
		default:
			fmt.Fprintf(rt.h, "%v\n", v)
		}
	}

	fmt.Fprintln(rt.h)

	return exprcore.None, nil
}

func checkPath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("invalid path, contains ..")
	}

	return nil
}

func (r *Runtime) workPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(r.workDir, path)
}

func (r *Runtime) outPath(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.installDir, path)
	}

	return path
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0111 != 0 {
		return nil
	}
	return os.ErrPermission
}

// lookPath searches for an executable named file in the directories
// named by path. If file contains a slash, it is tried directly and
// the path is not consulted.
func lookPath(file string, path string) (string, error) {
	if strings.Contains(file, "/") {
		err := findExecutable(file)
		if err == nil {
			return file, nil
		}
		return "", err
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		path := filepath.Join(dir, file)
		if err := findExecutable(path); err == nil {
			return path, nil
		}
	}
	return "", errors.Wrapf(ErrCommandNotFound, "unable to find executable: %s", file)
}

func (r *Runtime) emit(line string) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if r.log != nil {
		io.WriteString(r.log, line)
		if !strings.HasSuffix(line, "\n") {
			io.WriteString(r.log, "\n")
		}
	}

	fmt.Fprintf(r.console, "%s │ %s\n", r.outputPrefix, strings.TrimRight(line, " \n\t"))
}

func (r *Runtime) runCmd(cmd *exec.Cmd) error {
	if r.log != nil {
		fmt.Fprintf(r.log, "$ %s\n", strings.Join(cmd.Args, " "))
	}

	or, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	er, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	stream := func(in io.Reader) {
		defer wg.Done()

		br := bufio.NewReader(in)
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				r.emit(line)
			}

			if err != nil {
				return
			}
		}
	}

	wg.Add(2)
	go stream(or)
	go stream(er)

	err = cmd.Start()
	if err != nil {
		return err
	}

	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		return err
	}

	return nil
}

// System runs a command with the build environment, streaming its
// output. Relative dir is taken under the working directory.
func (r *Runtime) System(dir string, segments ...string) error {
	exe := segments[0]
	var err error

	r.L.Debug("system", "args", segments, "path", r.path)

	if filepath.Base(exe) == exe {
		exe, err = lookPath(exe, r.path)
		if err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(r.ctx, exe, segments[1:]...)
	cmd.Env = r.extraEnv
	cmd.Dir = filepath.Join(r.workDir, dir)

	return r.runCmd(cmd)
}

// Shell feeds code to bash running in the working directory.
func (r *Runtime) Shell(code string) error {
	sh, err := lookPath("bash", r.path)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(r.ctx, sh)
	cmd.Stdin = strings.NewReader(code)
	cmd.Env = r.extraEnv
	cmd.Dir = r.workDir

	return r.runCmd(cmd)
}

func unpackFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	var path, output string

	if err := exprcore.UnpackArgs(
		"unpack", args, kwargs,
		"path?", &path,
		"output?", &output,
	); err != nil {
		return nil, err
	}

	if env.h != nil {
		hp := path
		if hp == "" {
			hp = "$source"
		}

		return addHash(env, "unpack", "path", hp, "output", output)
	}

	if path == "" {
		path = env.sourcePath
	}

	if path == "" {
		return nil, fmt.Errorf("unpack: no staged source and no path given")
	}

	if output == "" {
		output = env.workDir
	}

	err := env.Unpack(path, output)
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

// Unpack extracts an archive into output, defaulting to the directory
// holding the archive. The decompressor is picked by suffix.
func (r *Runtime) Unpack(path, output string) error {
	path = r.workPath(path)

	var (
		archive string
		dec     getter.Decompressor
	)

	matchingLen := 0
	for k := range getter.Decompressors {
		if strings.HasSuffix(path, "."+k) && len(k) > matchingLen {
			archive = k
			matchingLen = len(k)
		}
	}

	if output == "" {
		output = filepath.Dir(path)
	} else {
		output = r.workPath(output)
	}

	r.L.Debug("unpacking", "path", path, "output", output)

	dec, ok := getter.Decompressors[archive]
	if !ok {
		return fmt.Errorf("no known decompressor for path: %s", path)
	}

	if _, err := os.Stat(output); err != nil {
		return errors.Wrapf(err, "unpack target missing")
	}

	err := dec.Decompress(output, path, true, 0)
	if err != nil {
		return errors.Wrapf(err, "unable to decompress %s", path)
	}

	return nil
}

// setRoot points the working directory at tgt, descending into a lone
// unpacked subdirectory when there is exactly one.
func (r *Runtime) setRoot(tgt string) error {
	sf, err := ioutil.ReadDir(tgt)
	if err != nil {
		return err
	}

	var (
		ent os.FileInfo
		cnt int
	)

	for _, e := range sf {
		if e.Name()[0] != '.' {
			cnt++
			ent = e
		}
	}

	if cnt == 1 && ent.IsDir() {
		tgt = filepath.Join(tgt, ent.Name())
	}

	r.workDir = tgt

	return nil
}

func setRootFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	var dir string

	if err := exprcore.UnpackArgs(
		"set_root", args, kwargs,
		"dir", &dir,
	); err != nil {
		return nil, err
	}

	if env.h != nil {
		return addHash(env, "set-root", dir)
	}

	err := env.setRoot(filepath.Join(env.workDir, dir))
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func chdirFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	var (
		dir string
		fn  exprcore.Callable
	)

	if err := exprcore.UnpackArgs(
		"chdir", args, kwargs,
		"dir", &dir,
		"fn", &fn,
	); err != nil {
		return nil, err
	}

	if env.h != nil {
		return addHash(env, "chdir", dir)
	}

	old := env.workDir
	defer func() {
		env.workDir = old
	}()

	env.workDir = filepath.Join(env.workDir, dir)

	return exprcore.Call(thread, fn, exprcore.Tuple{}, nil)
}

func mkdirFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	var dir string

	if err := exprcore.UnpackArgs(
		"mkdir", args, kwargs,
		"dir", &dir,
	); err != nil {
		return nil, err
	}

	if env.h != nil {
		return addHash(env, "mkdir", dir)
	}

	err := os.MkdirAll(filepath.Join(env.workDir, dir), 0755)
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func shellFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	var code string

	if err := exprcore.UnpackArgs(
		"shell", args, kwargs,
		"code", &code,
	); err != nil {
		return nil, err
	}

	if env.h != nil {
		return addHash(env, "shell", code)
	}

	err := env.Shell(code)
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func patchFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	var patch string

	if err := exprcore.UnpackArgs(
		"patch", args, kwargs,
		"patch", &patch,
	); err != nil {
		return nil, err
	}

	if env.h != nil {
		return addHash(env, "patch", patch)
	}

	bin, err := lookPath("patch", env.path)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(env.ctx, bin, "-p1")
	cmd.Stdin = strings.NewReader(patch)
	cmd.Env = env.extraEnv
	cmd.Dir = env.workDir

	err = env.runCmd(cmd)
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func joinQuote(elems []string, sep string) string {
	switch len(elems) {
	case 0:
		return ""
	case 1:
		return elems[0]
	}

	n := len(sep) * (len(elems) - 1)
	for i := 0; i < len(elems); i++ {
		n += len(elems[i])
	}

	var b strings.Builder
	b.Grow(n)
	b.WriteString(strconv.Quote(elems[0]))

	for _, s := range elems[1:] {
		b.WriteString(sep)
		b.WriteString(strconv.Quote(s))
	}
	return b.String()
}

func systemFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	var segments []string

	for _, arg := range args {
		switch sv := arg.(type) {
		case exprcore.String:
			segments = append(segments, string(sv))
		default:
			segments = append(segments, arg.String())
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("system: no command given")
	}

	dir := ""

	for _, item := range kwargs {
		name, arg := item[0].(exprcore.String), item[1]
		if name == "dir" {
			s, ok := arg.(exprcore.String)
			if !ok {
				return exprcore.None, fmt.Errorf("expected a string for dir")
			}

			dir = string(s)
		}
	}

	if env.h != nil {
		return addHash(env, "system", "dir", dir, joinQuote(segments, " "))
	}

	err := env.System(dir, segments...)
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func inreplaceFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var file, pattern, target string

	if err := exprcore.UnpackArgs(
		"inreplace", args, kwargs,
		"file", &file,
		"pattern", &pattern,
		"target", &target,
	); err != nil {
		return nil, err
	}

	err := checkPath(file)
	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, "inreplace", file, "pattern", pattern, "target", target)
	}

	path := env.workPath(file)

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	replacer := strings.NewReplacer(pattern, target)

	_, err = replacer.WriteString(f, string(data))
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func inreplaceReFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var file, pattern, target string

	err := exprcore.UnpackArgs(
		"inreplace_re", args, kwargs,
		"file", &file,
		"pattern", &pattern,
		"target", &target,
	)

	if err != nil {
		return exprcore.None, err
	}

	err = checkPath(file)
	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, "inreplace-re", file, "pattern", pattern, "target", target)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return exprcore.None, err
	}

	path := env.workPath(file)

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	data = re.ReplaceAll(data, []byte(target))

	_, err = f.Write(data)
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func rmrfFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var path string

	err := exprcore.UnpackArgs(
		b.Name(), args, kwargs,
		"path", &path,
	)

	if err != nil {
		return exprcore.None, err
	}

	err = checkPath(path)
	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, b.Name(), path)
	}

	err = os.RemoveAll(env.workPath(path))
	if err != nil {
		return nil, err
	}

	return exprcore.None, nil
}

func setEnvFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var key, value string

	err := exprcore.UnpackArgs(
		"set_env", args, kwargs,
		"key", &key,
		"value", &value,
	)

	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, "set-env", "key", key, "value", value)
	}

	env.setEnv(key, value)

	return exprcore.None, nil
}

func (r *Runtime) setEnv(key, value string) {
	if key == "PATH" {
		r.path = value
	}

	prefix := key + "="

	for i, kv := range r.extraEnv {
		if strings.HasPrefix(kv, prefix) {
			r.extraEnv[i] = prefix + value
			return
		}
	}

	r.extraEnv = append(r.extraEnv, prefix+value)
}

func appendEnvFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var key, value string

	err := exprcore.UnpackArgs(
		"append_env", args, kwargs,
		"key", &key,
		"value", &value,
	)

	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, "append-env", "key", key, "value", value)
	}

	if key == "PATH" {
		env.path = env.path + ":" + value
	}

	prefix := key + "="

	for i, kv := range env.extraEnv {
		if strings.HasPrefix(kv, prefix) {
			env.extraEnv[i] += (string(filepath.ListSeparator) + value)
			return exprcore.None, nil
		}
	}

	env.extraEnv = append(env.extraEnv, key+"="+value)

	return exprcore.None, nil
}

func prependEnvFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var key, value string

	err := exprcore.UnpackArgs(
		"prepend_env", args, kwargs,
		"key", &key,
		"value", &value,
	)

	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, "prepend-env", "key", key, "value", value)
	}

	if key == "PATH" {
		env.path = value + ":" + env.path
	}

	prefix := key + "="

	for i, kv := range env.extraEnv {
		if strings.HasPrefix(kv, prefix) {
			env.extraEnv[i] = prefix + value + string(filepath.ListSeparator) + kv[len(prefix):]
			return exprcore.None, nil
		}
	}

	env.extraEnv = append(env.extraEnv, key+"="+value)

	return exprcore.None, nil
}

func linkFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var path exprcore.Value
	var target string

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	err := exprcore.UnpackArgs(
		"link", args, kwargs,
		"path", &path,
		"target", &target,
	)

	if err != nil {
		return exprcore.None, err
	}

	target = env.outPath(target)

	link := func(epath string) error {
		dest := filepath.Join(target, filepath.Base(epath))

		if env.h != nil {
			addHash(env, "symlink", "target", dest, "path", epath)
			return nil
		}

		env.L.Debug("symlinking", "old-path", epath, "new-path", dest)

		err := os.MkdirAll(filepath.Dir(dest), 0755)
		if err != nil {
			return err
		}

		return os.Symlink(epath, dest)
	}

	switch sv := path.(type) {
	case *exprcore.List:
		iter := sv.Iterate()
		defer iter.Done()

		var ele exprcore.Value
		for iter.Next(&ele) {
			var epath string

			if str, ok := ele.(exprcore.String); ok {
				epath = string(str)
			} else {
				epath = ele.String()
			}

			if err := link(epath); err != nil {
				return exprcore.None, err
			}
		}
	case exprcore.String:
		if err := link(string(sv)); err != nil {
			return exprcore.None, err
		}
	default:
		return exprcore.None, fmt.Errorf("link: expected a string or list of strings, got %s", path.Type())
	}

	return exprcore.None, nil
}

func installFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var (
		target, pattern string
		symlink         bool
	)

	err := exprcore.UnpackArgs(
		"install_files", args, kwargs,
		"target", &target,
		"pattern", &pattern,
		"symlink?", &symlink,
	)

	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, "install", "target", target, "pattern", pattern, "symlink", symlink)
	}

	var inst fileutils.Install
	inst.Ctx = env.ctx
	inst.L = env.L
	inst.Dest = env.outPath(target)
	inst.Pattern = env.workPath(pattern)
	inst.Linked = symlink

	return exprcore.None, inst.Install()
}

func writeFileFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var (
		target, data string
	)

	err := exprcore.UnpackArgs(
		"write_file", args, kwargs,
		"target", &target,
		"data", &data,
	)

	if err != nil {
		return exprcore.None, err
	}

	env, ok := b.Receiver().(*Runtime)
	if !ok {
		return noRuntime(b.Receiver())
	}

	if env.h != nil {
		return addHash(env, "write-file", "target", target, "data", data)
	}

	target = env.outPath(target)

	err = os.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(target)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	_, err = f.WriteString(data)

	return exprcore.None, err
}
