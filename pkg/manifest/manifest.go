// Package manifest loads declarative install manifests, the file a
// project checks in to pin what a profile holds.
package manifest

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultName is the file AutoLoad looks for in each search path.
const DefaultName = "stela.yaml"

var ErrNoManifest = errors.New("no manifest found")

// Request is one package the manifest asks for: a name, an optional
// repo namespace to resolve it in, and optional descriptor args.
type Request struct {
	Name string            `yaml:"name" json:"name"`
	Repo string            `yaml:"repo,omitempty" json:"repo,omitempty"`
	Args map[string]string `yaml:"args,omitempty" json:"args,omitempty"`
}

// UnmarshalYAML accepts either a bare package name or a full mapping,
// so simple manifests stay a flat list of names.
func (r *Request) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&r.Name)
	}

	type plain Request

	return value.Decode((*plain)(r))
}

// String renders the request the way the CLI accepts it.
func (r *Request) String() string {
	if r.Repo != "" {
		return r.Repo + "/" + r.Name
	}

	return r.Name
}

// Manifest names the packages a profile should hold.
type Manifest struct {
	Profile  string     `yaml:"profile,omitempty" json:"profile,omitempty"`
	Packages []*Request `yaml:"packages" json:"packages"`
}

func (m *Manifest) validate() error {
	if len(m.Packages) == 0 {
		return errors.Errorf("manifest names no packages")
	}

	seen := map[string]struct{}{}

	for _, req := range m.Packages {
		if req.Name == "" {
			return errors.Errorf("manifest entry with no name")
		}

		key := req.Repo + "/" + req.Name

		if _, ok := seen[key]; ok {
			return errors.Errorf("package listed twice: %s", req.String())
		}

		seen[key] = struct{}{}
	}

	return nil
}

// Loader finds and parses manifests. Paths are searched in order for
// the default name.
type Loader struct {
	SearchPaths []string
}

func NewLoader(paths ...string) *Loader {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	return &Loader{SearchPaths: paths}
}

// Load parses the manifest at path. A .json extension reads as json,
// anything else as yaml. STELA_PROFILE overrides the recorded
// profile.
func (l *Loader) Load(path string) (*Manifest, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %s", path)
	}

	var m Manifest

	switch filepath.Ext(path) {
	case ".json":
		err = json.Unmarshal(data, &m)
	default:
		err = yaml.Unmarshal(data, &m)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "parsing manifest %s", path)
	}

	if prof := os.Getenv("STELA_PROFILE"); prof != "" {
		m.Profile = prof
	}

	err = m.validate()
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", path)
	}

	return &m, nil
}

// Find returns the first manifest file along the search paths.
func (l *Loader) Find() (string, error) {
	names := []string{DefaultName, "stela.yml", "stela.json"}

	for _, dir := range l.SearchPaths {
		for _, name := range names {
			path := filepath.Join(dir, name)

			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", errors.Wrapf(ErrNoManifest, "searched %v", l.SearchPaths)
}

// AutoLoad finds and parses the nearest manifest.
func (l *Loader) AutoLoad() (*Manifest, error) {
	path, err := l.Find()
	if err != nil {
		return nil, err
	}

	return l.Load(path)
}
