package ops

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"

	"cairn.dev/cairn/pkg/lang"
	"cairn.dev/cairn/pkg/recipe"
	"github.com/hashicorp/go-hclog"
	"github.com/lab47/exprcore/exprcore"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// ScriptCalcSig extracts the declared fields of a package prototype
// and computes the content signature its id is derived from.
type ScriptCalcSig struct {
	common

	Name        string
	Version     string
	Description string
	License     string
	Homepage    string
	Vendor      string
	Metadata    map[string]string

	Origins []*Origin
	Recipe  *recipe.Recipe

	Hook        *exprcore.Function
	PostInstall *exprcore.Function

	Dependencies []*ScriptPackage
	ExplicitDeps []*ScriptPackage
}

func exprString(val exprcore.Value) string {
	switch v := val.(type) {
	case exprcore.String:
		return string(v)
	default:
		return v.String()
	}
}

func (s *ScriptCalcSig) extract(proto *exprcore.Prototype) error {
	name, err := lang.StringValue(proto.Attr("name"))
	if err != nil {
		return err
	}

	if name == "" {
		return errors.Wrapf(ErrBadScript, "package name not set")
	}

	s.Name = name

	ver, err := lang.StringValue(proto.Attr("version"))
	if err != nil {
		return err
	}

	if ver == "" {
		ver = "unknown"
	}

	s.Version = ver

	s.Description, err = lang.StringValue(proto.Attr("description"))
	if err != nil {
		return err
	}

	s.License, err = lang.StringValue(proto.Attr("license"))
	if err != nil {
		return err
	}

	s.Homepage, err = lang.StringValue(proto.Attr("homepage"))
	if err != nil {
		return err
	}

	s.Vendor, err = lang.StringValue(proto.Attr("vendor"))
	if err != nil {
		return err
	}

	val, err := proto.Attr("metadata")
	if err == nil {
		m, ok := val.(exprcore.IterableMapping)
		if ok {
			metadata := map[string]string{}

			for _, items := range m.Items() {
				metadata[exprString(items[0])] = exprString(items[1])
			}

			s.Metadata = metadata
		}
	}

	val, err = proto.Attr("source")
	if err != nil {
		if _, ok := err.(exprcore.NoSuchAttrError); !ok {
			return err
		}

		val = nil
	}

	if val != nil {
		err = s.processSource(val)
		if err != nil {
			return err
		}
	}

	err = s.extractRecipe(proto)
	if err != nil {
		return err
	}

	hook, err := lang.FuncValue(proto.Attr("hook"))
	if err != nil {
		return err
	}

	s.Hook = hook

	post, err := lang.FuncValue(proto.Attr("post_install"))
	if err != nil {
		return err
	}

	s.PostInstall = post

	depSet := map[string]struct{}{}

	deps, err := lang.ListValue(proto.Attr("dependencies"))
	if err != nil {
		return err
	}

	if deps != nil {
		var scripts []*ScriptPackage

		iter := deps.Iterate()
		defer iter.Done()
		var x exprcore.Value
		for iter.Next(&x) {
			script, ok := x.(*ScriptPackage)
			if !ok {
				return errors.Wrapf(ErrBadScript, "dependencies must be packages, got %s", x.Type())
			}

			depSet[script.ID()] = struct{}{}
			scripts = append(scripts, script)
		}

		s.Dependencies = scripts
	}

	deps, err = lang.ListValue(proto.Attr("explicit_dependencies"))
	if err != nil {
		return err
	}

	if deps != nil {
		var scripts []*ScriptPackage

		iter := deps.Iterate()
		defer iter.Done()
		var x exprcore.Value
		for iter.Next(&x) {
			script, ok := x.(*ScriptPackage)
			if !ok {
				return errors.Wrapf(ErrBadScript, "explicit_dependencies must be packages, got %s", x.Type())
			}

			scripts = append(scripts, script)
			if _, ok := depSet[script.ID()]; !ok {
				s.Dependencies = append(s.Dependencies, script)
			}
		}

		s.ExplicitDeps = scripts
	}

	return nil
}

// extractRecipe reads either the recipe attribute or the install
// shorthand, which becomes the only phase of a single-phase recipe.
func (s *ScriptCalcSig) extractRecipe(proto *exprcore.Prototype) error {
	val, err := proto.Attr("recipe")
	if err != nil {
		if _, ok := err.(exprcore.NoSuchAttrError); !ok {
			return err
		}

		val = nil
	}

	install, err := lang.FuncValue(proto.Attr("install"))
	if err != nil {
		return err
	}

	if val != nil {
		if install != nil {
			return errors.Wrapf(ErrBadScript, "package declares both recipe and install")
		}

		rec, ok := val.(*recipe.Recipe)
		if !ok {
			return errors.Wrapf(ErrBadScript, "recipe must be a recipe value, got %s", val.Type())
		}

		s.Recipe = rec

		return nil
	}

	if install != nil {
		s.Recipe = recipe.New(recipe.Phase{Name: "install", Fn: install})

		return nil
	}

	// packages that declare neither get the stock phases
	s.Recipe = recipe.Standard()

	return nil
}

func (s *ScriptCalcSig) processSource(val exprcore.Value) error {
	switch v := val.(type) {
	case *Origin:
		s.Origins = []*Origin{v}
	case *exprcore.List:
		var origins []*Origin

		iter := v.Iterate()
		defer iter.Done()

		var x exprcore.Value
		for iter.Next(&x) {
			o, ok := x.(*Origin)
			if !ok {
				return errors.Wrapf(ErrBadScript, "source list must hold origins, got %s", x.Type())
			}

			origins = append(origins, o)
		}

		s.Origins = origins
	default:
		return errors.Wrapf(ErrBadScript, "source must be an origin, got %s", val.Type())
	}

	return nil
}

// calcLogger tees everything fed to the signature hash into the debug
// log, which is the only practical way to see why two signatures
// differ.
type calcLogger struct {
	logger hclog.Logger
	h      hash.Hash
}

func (c *calcLogger) Write(b []byte) (int, error) {
	c.h.Write(b)

	s := strconv.QuoteToASCII(string(b))

	c.logger.Debug("calc-part", "part", s[1:len(s)-1], "sum", hex.EncodeToString(c.h.Sum(nil)))
	return len(b), nil
}

type sigData struct {
	_            struct{} `hash:"signature"`
	Name         string
	Version      string
	Constraints  map[string]string
	Origins      map[string]struct{}
	Phases       []string
	HookSig      string
	PostSig      string
	HelperSum    []byte
	Dependencies map[string]struct{}
}

func (s *ScriptCalcSig) calcSig(
	proto *exprcore.Prototype,
	helperSum []byte,
	constraints map[string]string,
) (string, error) {
	if s.Name == "" {
		err := s.extract(proto)
		if err != nil {
			return "", err
		}
	}

	sd := sigData{
		Name:        s.Name,
		Version:     s.Version,
		Constraints: constraints,
		HelperSum:   helperSum,
	}

	if len(s.Origins) > 0 {
		sd.Origins = map[string]struct{}{}

		for _, o := range s.Origins {
			sd.Origins[o.Render()] = struct{}{}
		}
	}

	if s.Recipe != nil {
		// phase order is meaningful, so these hash as a sequence
		// rather than a set.
		for _, ph := range s.Recipe.Phases() {
			dig, err := s.calcPhaseSig(ph)
			if err != nil {
				return "", err
			}

			sd.Phases = append(sd.Phases, ph.Name+":"+dig)
		}
	}

	if s.Hook != nil {
		funcSig, err := s.calcFuncSig(s.Hook)
		if err != nil {
			return "", err
		}

		sd.HookSig = funcSig
	}

	if s.PostInstall != nil {
		funcSig, err := s.calcFuncSig(s.PostInstall)
		if err != nil {
			return "", err
		}

		sd.PostSig = funcSig
	}

	sd.Dependencies = make(map[string]struct{})

	for _, scr := range s.Dependencies {
		sd.Dependencies[scr.ID()] = struct{}{}
	}

	hb, _ := blake2b.New256(nil)

	h := &calcLogger{logger: s.L(), h: hb}

	err := recipe.HashInto(&sd, h)
	if err != nil {
		return "", err
	}

	return base58.Encode(hb.Sum(nil)), nil
}

// hashingRuntime is a phase runtime that records operations instead
// of performing them, against placeholder directories.
func hashingRuntime(h hash.Hash) *recipe.Runtime {
	return recipe.NewRuntime(recipe.Env{
		WorkDir:    "$build",
		TopDir:     "$top",
		InstallDir: "$prefix",
		Hasher:     h,
	})
}

func (s *ScriptCalcSig) calcPhaseSig(ph recipe.Phase) (string, error) {
	h, _ := blake2b.New256(nil)

	var thread exprcore.Thread

	err := recipe.HashPhase(&thread, h, ph)
	if err != nil {
		return "", err
	}

	return base58.Encode(h.Sum(nil)), nil
}

func (s *ScriptCalcSig) calcFuncSig(fn *exprcore.Function) (string, error) {
	h, _ := blake2b.New256(nil)

	rt := hashingRuntime(h)

	var thread exprcore.Thread

	_, err := exprcore.Call(&thread, fn, exprcore.Tuple{rt}, nil)
	if err != nil {
		return "", err
	}

	return base58.Encode(h.Sum(nil)), nil
}

// Calculate computes the signature and id for a package prototype.
// Two prototypes declaring the same content hash identically no
// matter how their declarations are ordered.
func (s *ScriptCalcSig) Calculate(
	proto *exprcore.Prototype,
	helperSum []byte,
	constraints map[string]string,
) (string, string, error) {
	sig, err := s.calcSig(proto, helperSum, constraints)
	if err != nil {
		return "", "", err
	}

	return sig, fmt.Sprintf("%s-%s-%s", sig, s.Name, s.Version), nil
}
