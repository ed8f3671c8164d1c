package ops

import (
	"context"
	"fmt"
	"os"
	"sort"

	"cairn.dev/cairn/pkg/config"
	"cairn.dev/cairn/pkg/status"
)

// UI is how ops narrate progress to the user. The zero value prints
// to stdout without a rewritable status line.
type UI struct {
	Status *status.Line
}

func (u *UI) println(format string, args ...interface{}) {
	if u.Status != nil {
		u.Status.Println(format, args...)
		return
	}

	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func (u *UI) BuildScript(pkg *ScriptPackage) {
	u.println("Building %s/%s-%s (%s)...", pkg.Repo(), pkg.Name(), pkg.Version(), pkg.ID())
}

func (u *UI) BuildPhase(pkg *ScriptPackage, phase string) {
	if u.Status == nil {
		u.println("%s: %s", pkg.Name(), phase)
		return
	}

	u.Status.Set("%s: %s", pkg.Name(), phase)
}

func (u *UI) PhaseDone() {
	if u.Status != nil {
		u.Status.Clear()
	}
}

func (u *UI) InstallPrologue(cfg *config.Config) {
	constraints := cfg.Constraints()

	var keys []string

	for k := range constraints {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	u.println("Constraints:")

	for _, k := range keys {
		u.println("  %s: %s", k, constraints[k])
	}
}

func (u *UI) ListDependencies(pkgs []*ScriptPackage) {
	u.println("Dependencies:")

	for _, p := range pkgs {
		u.println("  %s", p.ID())
	}
}

type uiMarker struct{}

// AddUI attaches a UI to the context for ops further down the call
// tree to narrate through.
func AddUI(ctx context.Context, ui *UI) context.Context {
	return context.WithValue(ctx, uiMarker{}, ui)
}

func GetUI(ctx context.Context) *UI {
	v := ctx.Value(uiMarker{})
	if v == nil {
		return &UI{}
	}

	return v.(*UI)
}
