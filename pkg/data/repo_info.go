package data

// RepoInfo is the contents of a .repo-info.json file, placed at the
// root of a repo checkout to pin its identity explicitly.
type RepoInfo struct {
	Id string `json:"id"`

	Metadata map[string]string `json:"metadata,omitempty"`
}
