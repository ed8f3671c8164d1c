package data

// BuildInfo is made available in the STELA_BUILD_INFO env var
// to the phases of any package that is built.
//
type BuildInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ID      string `json:"id"`

	Prefix   string `json:"prefix"`
	BuildDir string `json:"build_dir"`
	LogPath  string `json:"log_path"`

	Dependencies map[string]*BuildInfoDependency `json:"dependencies"`
}

type BuildInfoDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ID      string `json:"id"`
	Path    string `json:"path"`

	Dependencies []string `json:"dependencies"`
}
