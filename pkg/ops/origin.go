package ops

import (
	"fmt"
	"hash/fnv"
	"path"
	"strings"

	"cairn.dev/cairn/pkg/repo"
	"github.com/lab47/exprcore/exprcore"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const (
	OriginURL  = "url"
	OriginGit  = "git"
	OriginFile = "file"
	OriginDir  = "dir"
)

// Origin describes where a package's source would come from and the
// sum its content must have. Nothing here fetches: origins are records
// that staging resolves against local files.
type Origin struct {
	Kind string

	// URL for url and git origins, Path for file and dir origins,
	// relative to the script.
	URL  string
	Path string

	// Exactly one of Tag or Commit is set on git origins.
	Tag    string
	Commit string

	SumType string
	Sum     []byte

	// Into places the staged source under a named subdirectory of
	// the build area. Chdir marks this origin as the one whose tree
	// the work dir enters; the first origin is entered otherwise.
	Into  string
	Chdir bool
}

// Rev is the git revision an origin pins, however it was spelled.
func (o *Origin) Rev() string {
	if o.Commit != "" {
		return o.Commit
	}

	return o.Tag
}

// Entity is the name sums are recorded under in a sumfile.
func (o *Origin) Entity() string {
	switch o.Kind {
	case OriginURL:
		return o.URL
	case OriginGit:
		return o.URL + "@" + o.Rev()
	default:
		return o.Path
	}
}

// Basename is the file name the origin stages as.
func (o *Origin) Basename() string {
	switch o.Kind {
	case OriginGit:
		return strings.TrimSuffix(path.Base(o.URL), ".git")
	case OriginURL:
		return path.Base(o.URL)
	default:
		base := path.Base(o.Path)
		if base == "." || base == "/" {
			return "source"
		}

		return base
	}
}

// Render is the stable description hashed into package signatures.
func (o *Origin) Render() string {
	return fmt.Sprintf("%s %s %s", o.Kind, o.Entity(), renderSum(o.SumType, o.Sum))
}

// String returns the string representation of the value.
// exprcore string values are quoted as if by Python's repr.
func (o *Origin) String() string {
	return fmt.Sprintf("<origin %s %s>", o.Kind, o.Entity())
}

// Type returns a short string describing the value's type.
func (o *Origin) Type() string {
	return "origin"
}

// Freeze causes the value, and all values transitively
// reachable from it through collections and closures, to be
// marked as frozen.  All subsequent mutations to the data
// structure through this API will fail dynamically, making the
// data structure immutable and safe for publishing to other
// exprcore interpreters running concurrently.
func (o *Origin) Freeze() {}

// Truth returns the truth value of an object.
func (o *Origin) Truth() exprcore.Bool {
	return exprcore.True
}

// Hash returns a function of x such that Equals(x, y) => Hash(x) == Hash(y).
// Hash may fail if the value's type is not hashable, or if the value
// contains a non-hashable value. The hash is used only by dictionaries and
// is not exposed to the exprcore program.
func (o *Origin) Hash() (uint32, error) {
	h := fnv.New32()
	h.Write([]byte(o.Render()))
	return h.Sum32(), nil
}

// scriptEntry is the repo entry of the script a thread is evaluating,
// used by origin builtins to read assets and recorded sums.
func scriptEntry(thread *exprcore.Thread) repo.Entry {
	ent, _ := thread.Local("script-entry").(repo.Entry)
	return ent
}

// sumOrRecorded decodes an inline sum, falling back to the script's
// sumfile when none was written in the script itself.
func sumOrRecorded(thread *exprcore.Thread, entity, sha256, b2 string) (string, []byte, error) {
	algo, sum, err := decodeSumArgs(sha256, b2)
	if err != nil {
		return "", nil, err
	}

	if sum != nil {
		return algo, sum, nil
	}

	ent := scriptEntry(thread)
	if ent != nil {
		sf, err := ent.Sumfile()
		if err == nil {
			if algo, sum, ok := sf.Lookup(entity); ok {
				return algo, sum, nil
			}
		}
	}

	if lenient, _ := thread.Local("lenient-sums").(bool); lenient {
		return "", nil, nil
	}

	return "", nil, errors.Wrapf(ErrSumFormat, "no sum given or recorded for %s", entity)
}

func (l *ScriptLoad) urlFetchFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var (
		url, sha256, b2 string
		into            string
	)

	if err := exprcore.UnpackArgs(
		"url_fetch", args, kwargs,
		"url", &url,
		"sha256?", &sha256,
		"b2?", &b2,
		"into?", &into,
	); err != nil {
		return nil, err
	}

	algo, sum, err := sumOrRecorded(thread, url, sha256, b2)
	if err != nil {
		return nil, err
	}

	return &Origin{
		Kind:    OriginURL,
		URL:     url,
		SumType: algo,
		Sum:     sum,
		Into:    into,
	}, nil
}

func (l *ScriptLoad) gitFetchFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var (
		url, tag, commit string
		sha256, b2       string
		into             string
	)

	if err := exprcore.UnpackArgs(
		"git_fetch", args, kwargs,
		"url", &url,
		"tag?", &tag,
		"commit?", &commit,
		"sha256?", &sha256,
		"b2?", &b2,
		"into?", &into,
	); err != nil {
		return nil, err
	}

	if tag == "" && commit == "" {
		return nil, fmt.Errorf("git_fetch: a tag or commit is required")
	}

	if tag != "" && commit != "" {
		return nil, fmt.Errorf("git_fetch: tag and commit are exclusive")
	}

	o := &Origin{
		Kind:   OriginGit,
		URL:    url,
		Tag:    tag,
		Commit: commit,
		Into:   into,
	}

	algo, sum, err := sumOrRecorded(thread, o.Entity(), sha256, b2)
	if err != nil {
		return nil, err
	}

	o.SumType = algo
	o.Sum = sum

	return o, nil
}

func (l *ScriptLoad) fileFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var (
		fpath, sha256, b2 string
		into              string
		chdir             bool
	)

	if err := exprcore.UnpackArgs(
		"file", args, kwargs,
		"path", &fpath,
		"sha256?", &sha256,
		"b2?", &b2,
		"into?", &into,
		"chdir?", &chdir,
	); err != nil {
		return nil, err
	}

	algo, sum, err := decodeSumArgs(sha256, b2)
	if err != nil {
		return nil, err
	}

	if sum == nil {
		// assets ship beside the script, so sum them now rather
		// than make authors maintain sums by hand.
		ent := scriptEntry(thread)
		if ent == nil {
			return nil, fmt.Errorf("file: no script context to read %s", fpath)
		}

		_, data, err := ent.Asset(fpath)
		if err != nil {
			return nil, errors.Wrapf(err, "file: reading %s", fpath)
		}

		h, _ := blake2b.New256(nil)
		h.Write(data)

		algo = "b2"
		sum = h.Sum(nil)
	}

	return &Origin{
		Kind:    OriginFile,
		Path:    fpath,
		SumType: algo,
		Sum:     sum,
		Into:    into,
		Chdir:   chdir,
	}, nil
}

func (l *ScriptLoad) dirFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	var (
		dpath, into string
		chdir       bool
	)

	if err := exprcore.UnpackArgs(
		"dir", args, kwargs,
		"path?", &dpath,
		"into?", &into,
		"chdir?", &chdir,
	); err != nil {
		return nil, err
	}

	if dpath == "" {
		dpath = "."
	}

	ent := scriptEntry(thread)
	if ent == nil {
		return nil, fmt.Errorf("dir: no script context to read %s", dpath)
	}

	sum, err := hashTree(l.L(), pathUnder(ent.Dir(), dpath))
	if err != nil {
		return nil, errors.Wrapf(err, "dir: summing %s", dpath)
	}

	l.L().Trace("dir origin", "path", dpath, "sum", renderSum("b2", sum))

	return &Origin{
		Kind:    OriginDir,
		Path:    dpath,
		SumType: "b2",
		Sum:     sum,
		Into:    into,
		Chdir:   chdir,
	}, nil
}
