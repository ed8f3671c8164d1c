package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// profileVars maps each env var the profile feeds to the profile dir
// feeding it. PATH always participates; the others only once the
// profile has the backing dir.
func (p *Profile) profileVars() map[string]string {
	vars := map[string]string{
		"PATH": filepath.Join(p.path, "bin"),
	}

	optional := map[string]string{
		"MANPATH":         filepath.Join("share", "man"),
		"PKG_CONFIG_PATH": filepath.Join("lib", "pkgconfig"),
	}

	for name, sub := range optional {
		dir := filepath.Join(p.path, sub)

		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			vars[name] = dir
		}
	}

	return vars
}

// freshValue is the value for a var absent from the caller's env. An
// empty MANPATH element keeps the system man path in play.
func freshValue(k, dir string) string {
	if k == "MANPATH" {
		return dir + ":"
	}

	return dir
}

// UpdateEnv returns just the entries of env the profile changes or
// adds, each search path prefixed with the profile dir feeding it.
func (p *Profile) UpdateEnv(env []string) []string {
	vars := p.profileVars()

	var updates []string

	for _, kv := range env {
		eq := strings.IndexByte(kv, '=')
		if eq == -1 {
			continue
		}

		k := kv[:eq]

		dir, ok := vars[k]
		if !ok {
			continue
		}

		delete(vars, k)

		updates = append(updates, fmt.Sprintf("%s=%s:%s", k, dir, kv[eq+1:]))
	}

	for k, dir := range vars {
		updates = append(updates, k+"="+freshValue(k, dir))
	}

	sort.Strings(updates)

	return updates
}

// ComputeEnv rewrites env to run under the profile, updating the
// process environment along the way.
func (p *Profile) ComputeEnv(env []string) []string {
	vars := p.profileVars()

	var updates []string

	for _, kv := range env {
		eq := strings.IndexByte(kv, '=')
		if eq != -1 {
			k := kv[:eq]

			if dir, ok := vars[k]; ok {
				delete(vars, k)

				val := dir + ":" + kv[eq+1:]
				os.Setenv(k, val)
				kv = k + "=" + val
			}
		}

		updates = append(updates, kv)
	}

	for k, dir := range vars {
		val := freshValue(k, dir)
		os.Setenv(k, val)

		updates = append(updates, k+"="+val)
	}

	return updates
}

// EnvMap renders env as a map with the profile applied, the form the
// direnv dump format wants.
func (p *Profile) EnvMap(env []string) map[string]string {
	vars := p.profileVars()

	m := map[string]string{}

	for _, kv := range env {
		eq := strings.IndexByte(kv, '=')
		if eq == -1 {
			continue
		}

		k := kv[:eq]
		v := kv[eq+1:]

		if dir, ok := vars[k]; ok {
			delete(vars, k)

			v = dir + string(filepath.ListSeparator) + v
		}

		m[k] = v
	}

	for k, dir := range vars {
		m[k] = freshValue(k, dir)
	}

	return m
}
