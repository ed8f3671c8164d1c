package recipe

import (
	"fmt"
	"strings"

	"github.com/lab47/exprcore/exprcore"
	"github.com/pkg/errors"
)

// A Phase is one named step of a recipe. Script-defined phases carry
// Fn; standard phases carry Run. Exactly one of the two is set.
type Phase struct {
	Name string
	Fn   *exprcore.Function
	Run  func(*Runtime) error
}

// Recipe is an ordered list of named phases. Recipes are immutable:
// every modification returns a new value, so a descriptor derived
// from another never sees its base change underneath it.
type Recipe struct {
	phases []Phase
}

var ErrUnknownPhase = errors.New("unknown phase")

func New(phases ...Phase) *Recipe {
	return &Recipe{phases: phases}
}

// Phases returns the ordered phase list. The slice is a copy.
func (r *Recipe) Phases() []Phase {
	out := make([]Phase, len(r.phases))
	copy(out, r.phases)

	return out
}

func (r *Recipe) Names() []string {
	names := make([]string, len(r.phases))
	for i, p := range r.phases {
		names[i] = p.Name
	}

	return names
}

func (r *Recipe) index(name string) int {
	for i, p := range r.phases {
		if p.Name == name {
			return i
		}
	}

	return -1
}

func (r *Recipe) clone() *Recipe {
	phases := make([]Phase, len(r.phases))
	copy(phases, r.phases)

	return &Recipe{phases: phases}
}

// Replace swaps the body of the named phase, keeping its position.
func (r *Recipe) Replace(name string, fn *exprcore.Function) (*Recipe, error) {
	idx := r.index(name)
	if idx == -1 {
		return nil, errors.Wrapf(ErrUnknownPhase, "replace %q", name)
	}

	nr := r.clone()
	nr.phases[idx] = Phase{Name: name, Fn: fn}

	return nr, nil
}

func (r *Recipe) insert(at int, p Phase) (*Recipe, error) {
	if r.index(p.Name) != -1 {
		return nil, fmt.Errorf("phase already exists: %s", p.Name)
	}

	nr := r.clone()

	nr.phases = append(nr.phases, Phase{})
	copy(nr.phases[at+1:], nr.phases[at:])
	nr.phases[at] = p

	return nr, nil
}

// AddBefore inserts a new phase just ahead of anchor.
func (r *Recipe) AddBefore(anchor, name string, fn *exprcore.Function) (*Recipe, error) {
	idx := r.index(anchor)
	if idx == -1 {
		return nil, errors.Wrapf(ErrUnknownPhase, "add_before %q", anchor)
	}

	return r.insert(idx, Phase{Name: name, Fn: fn})
}

// AddAfter inserts a new phase just after anchor.
func (r *Recipe) AddAfter(anchor, name string, fn *exprcore.Function) (*Recipe, error) {
	idx := r.index(anchor)
	if idx == -1 {
		return nil, errors.Wrapf(ErrUnknownPhase, "add_after %q", anchor)
	}

	return r.insert(idx+1, Phase{Name: name, Fn: fn})
}

// Drop removes the named phase.
func (r *Recipe) Drop(name string) (*Recipe, error) {
	idx := r.index(name)
	if idx == -1 {
		return nil, errors.Wrapf(ErrUnknownPhase, "drop %q", name)
	}

	nr := r.clone()
	nr.phases = append(nr.phases[:idx], nr.phases[idx+1:]...)

	return nr, nil
}

// String returns the string representation of the value.
func (r *Recipe) String() string {
	return "<recipe " + strings.Join(r.Names(), " ") + ">"
}

// Type returns a short string describing the value's type.
func (r *Recipe) Type() string {
	return "recipe"
}

// Freeze renders the value immutable, which a Recipe already is.
func (r *Recipe) Freeze() {
}

// Truth returns the truth value of the object.
func (r *Recipe) Truth() exprcore.Bool {
	return exprcore.True
}

func (r *Recipe) Hash() (uint32, error) {
	return 0, fmt.Errorf("recipe is not hashable")
}

func (r *Recipe) Attr(name string) (exprcore.Value, error) {
	val, err := recipeMethods.Attr(name)
	if err != nil {
		return nil, err
	}

	return val.(*exprcore.Builtin).BindReceiver(r), nil
}

func (r *Recipe) AttrNames() []string {
	return recipeMethods.AttrNames()
}

var recipeMethods = exprcore.StringDict{
	"replace":    exprcore.NewBuiltin("replace", replaceFn),
	"add_before": exprcore.NewBuiltin("add_before", addBeforeFn),
	"add_after":  exprcore.NewBuiltin("add_after", addAfterFn),
	"drop":       exprcore.NewBuiltin("drop", dropFn),
	"phases":     exprcore.NewBuiltin("phases", phasesFn),
}

// Builtins are the recipe constructors made available to package
// scripts.
var Builtins = exprcore.StringDict{
	"std_recipe": exprcore.NewBuiltin("std_recipe", stdRecipeFn),
	"new_recipe": exprcore.NewBuiltin("new_recipe", newRecipeFn),
}

func recipeSelf(b *exprcore.Builtin) (*Recipe, error) {
	r, ok := b.Receiver().(*Recipe)
	if !ok {
		return nil, fmt.Errorf("no recipe bound: %T", b.Receiver())
	}

	return r, nil
}

func phaseFunc(name string, v exprcore.Value) (*exprcore.Function, error) {
	fn, ok := v.(*exprcore.Function)
	if !ok {
		return nil, fmt.Errorf("phase %q: expected a function, got %s", name, v.Type())
	}

	return fn, nil
}

func replaceFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	r, err := recipeSelf(b)
	if err != nil {
		return nil, err
	}

	var (
		name string
		fv   exprcore.Value
	)

	if err := exprcore.UnpackArgs(
		"replace", args, kwargs,
		"name", &name,
		"fn", &fv,
	); err != nil {
		return nil, err
	}

	fn, err := phaseFunc(name, fv)
	if err != nil {
		return nil, err
	}

	return r.Replace(name, fn)
}

func addBeforeFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	r, err := recipeSelf(b)
	if err != nil {
		return nil, err
	}

	var (
		anchor, name string
		fv           exprcore.Value
	)

	if err := exprcore.UnpackArgs(
		"add_before", args, kwargs,
		"anchor", &anchor,
		"name", &name,
		"fn", &fv,
	); err != nil {
		return nil, err
	}

	fn, err := phaseFunc(name, fv)
	if err != nil {
		return nil, err
	}

	return r.AddBefore(anchor, name, fn)
}

func addAfterFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	r, err := recipeSelf(b)
	if err != nil {
		return nil, err
	}

	var (
		anchor, name string
		fv           exprcore.Value
	)

	if err := exprcore.UnpackArgs(
		"add_after", args, kwargs,
		"anchor", &anchor,
		"name", &name,
		"fn", &fv,
	); err != nil {
		return nil, err
	}

	fn, err := phaseFunc(name, fv)
	if err != nil {
		return nil, err
	}

	return r.AddAfter(anchor, name, fn)
}

func dropFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	r, err := recipeSelf(b)
	if err != nil {
		return nil, err
	}

	var name string

	if err := exprcore.UnpackArgs(
		"drop", args, kwargs,
		"name", &name,
	); err != nil {
		return nil, err
	}

	return r.Drop(name)
}

func phasesFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	r, err := recipeSelf(b)
	if err != nil {
		return nil, err
	}

	var vals []exprcore.Value
	for _, name := range r.Names() {
		vals = append(vals, exprcore.String(name))
	}

	return exprcore.NewList(vals), nil
}

func stdRecipeFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	if err := exprcore.UnpackArgs("std_recipe", args, kwargs); err != nil {
		return nil, err
	}

	return Standard(), nil
}

// newRecipeFn builds a recipe from keyword arguments, in the order
// they were written: new_recipe(compile = fn, install = fn2).
func newRecipeFn(thread *exprcore.Thread, b *exprcore.Builtin, args exprcore.Tuple, kwargs []exprcore.Tuple) (exprcore.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("new_recipe: phases are given as keyword arguments")
	}

	var phases []Phase

	for _, item := range kwargs {
		name := string(item[0].(exprcore.String))

		fn, err := phaseFunc(name, item[1])
		if err != nil {
			return nil, err
		}

		phases = append(phases, Phase{Name: name, Fn: fn})
	}

	if len(phases) == 0 {
		return nil, fmt.Errorf("new_recipe: no phases given")
	}

	return New(phases...), nil
}
