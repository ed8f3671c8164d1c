package ops

import (
	"context"
	"os"
)

// PackagesInstall runs the installers a plan calls for, in order.
type PackagesInstall struct {
	common

	ienv *InstallEnv

	Installed []string
	Failed    string
}

func (p *PackagesInstall) Install(ctx context.Context, ienv *InstallEnv, toInstall *PackagesToInstall) error {
	p.ienv = ienv

	if toInstall.InstallDirs == nil {
		toInstall.InstallDirs = map[string]string{}
	}

	for _, id := range toInstall.InstallOrder {
		storeDir := ienv.Store.ExpectedPath(id)

		if toInstall.Installed[id] {
			if dir, err := ienv.Store.Locate(id); err == nil {
				storeDir = dir
			}

			toInstall.InstallDirs[id] = storeDir
			continue
		}

		toInstall.InstallDirs[id] = storeDir

		fn, ok := toInstall.Installers[id]
		if !ok {
			continue
		}

		p.L().Debug("running installer", "id", id)

		err := fn.Install(ctx, p.ienv)
		if err != nil {
			// a half written store entry would shadow the failure on
			// the next run, so take it out with us
			p.Failed = id
			os.RemoveAll(storeDir)
			return err
		}

		p.Installed = append(p.Installed, id)
	}

	return nil
}
