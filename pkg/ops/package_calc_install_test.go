package ops

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"cairn.dev/cairn/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageCalcInstall(t *testing.T) {
	depPkg := func(id string, deps ...*ScriptPackage) *ScriptPackage {
		return &ScriptPackage{
			id: id,
			cs: ScriptCalcSig{Dependencies: deps},
		}
	}

	indexOf := func(t *testing.T, order []string, id string) int {
		t.Helper()

		for i, x := range order {
			if x == id {
				return i
			}
		}

		t.Fatalf("id %s not in install order %v", id, order)
		return -1
	}

	t.Run("installs dependencies before their dependents", func(t *testing.T) {
		c := depPkg("ccc-c-1.0")
		a := depPkg("aaa-a-1.0", c)
		b := depPkg("bbb-b-1.0", c)
		root := depPkg("rrr-root-1.0", a, b)

		var pci PackageCalcInstall

		pti, err := pci.Calculate(root)
		require.NoError(t, err)

		require.Len(t, pti.InstallOrder, 4)

		ci := indexOf(t, pti.InstallOrder, "ccc-c-1.0")
		ai := indexOf(t, pti.InstallOrder, "aaa-a-1.0")
		bi := indexOf(t, pti.InstallOrder, "bbb-b-1.0")
		ri := indexOf(t, pti.InstallOrder, "rrr-root-1.0")

		assert.Less(t, ci, ai)
		assert.Less(t, ci, bi)
		assert.Less(t, ai, ri)
		assert.Less(t, bi, ri)
	})

	t.Run("a shared dependency is considered once", func(t *testing.T) {
		c := depPkg("ccc-c-1.0")
		a := depPkg("aaa-a-1.0", c)
		b := depPkg("bbb-b-1.0", c)
		root := depPkg("rrr-root-1.0", a, b)

		var pci PackageCalcInstall

		pti, err := pci.Calculate(root)
		require.NoError(t, err)

		assert.Len(t, pti.PackageIDs, 4)
		assert.Equal(t, []string{"ccc-c-1.0"}, pti.Dependencies["aaa-a-1.0"])
		assert.Equal(t, []string{"ccc-c-1.0"}, pti.Dependencies["bbb-b-1.0"])
	})

	t.Run("a root that is also a dependency keeps its place", func(t *testing.T) {
		c := depPkg("ccc-c-1.0")
		a := depPkg("aaa-a-1.0", c)

		var pci PackageCalcInstall

		pti, err := pci.CalculateSet([]*ScriptPackage{a, c})
		require.NoError(t, err)

		assert.Equal(t, []string{"ccc-c-1.0", "aaa-a-1.0"}, pti.InstallOrder)
	})

	t.Run("installed packages need no installer", func(t *testing.T) {
		dir := t.TempDir()

		installed := filepath.Join(dir, "ccc-c-1.0")

		err := os.MkdirAll(installed, 0755)
		require.NoError(t, err)

		err = ioutil.WriteFile(filepath.Join(installed, ".pkg-info.json"), []byte(`{}`), 0644)
		require.NoError(t, err)

		c := depPkg("ccc-c-1.0")
		root := depPkg("rrr-root-1.0", c)

		pci := PackageCalcInstall{
			Store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		pti, err := pci.Calculate(root)
		require.NoError(t, err)

		assert.True(t, pti.Installed["ccc-c-1.0"])
		assert.False(t, pti.Installed["rrr-root-1.0"])

		assert.Contains(t, pti.Installers, "rrr-root-1.0")
		assert.NotContains(t, pti.Installers, "ccc-c-1.0")

		// the order still carries the installed entry so dependents
		// can see it
		assert.Equal(t, []string{"ccc-c-1.0", "rrr-root-1.0"}, pti.InstallOrder)
	})

	t.Run("a store entry without package info counts as absent", func(t *testing.T) {
		dir := t.TempDir()

		err := os.MkdirAll(filepath.Join(dir, "ccc-c-1.0"), 0755)
		require.NoError(t, err)

		c := depPkg("ccc-c-1.0")

		pci := PackageCalcInstall{
			Store: &config.Store{Paths: []string{dir}, Default: dir},
		}

		pti, err := pci.Calculate(c)
		require.NoError(t, err)

		assert.False(t, pti.Installed["ccc-c-1.0"])
		assert.Contains(t, pti.Installers, "ccc-c-1.0")
	})
}
