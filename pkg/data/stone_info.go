package data

type ArchiveDependency struct {
	ID     string `json:"id"`
	Repo   string `json:"repo"`
	Signer string `json:"signer"`
}

type ArchivePlatform struct {
	OS        string `json:"os"`
	OSVersion string `json:"os_version"`
	Arch      string `json:"architecture"`
}

// ArchiveInfo is the manifest entry embedded in every .stone file,
// ahead of the content it describes.
type ArchiveInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`

	Repo string `json:"repo"`

	Signer string `json:"signer"`

	Dependencies []*ArchiveDependency `json:"dependencies"`

	Platform *ArchivePlatform `json:"platform"`

	Constraints map[string]string `json:"constraints"`
}
