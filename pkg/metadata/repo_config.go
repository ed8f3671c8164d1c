package metadata

// RepoConfig is the optional config.json at the root of a script
// repository, authored by its maintainers.
type RepoConfig struct {
	Id          string            `json:"id"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
