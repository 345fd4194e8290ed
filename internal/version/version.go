package version

// Version values are set at build time using -ldflags.
var (
	Version   = "dev"
	Built     = ""
	GitCommit = ""
)

type Info struct {
	Version   string `json:"version"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders the version with the short commit appended when known.
func (i Info) String() string {
	if i.GitCommit == "" {
		return i.Version
	}
	commit := i.GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return i.Version + "+" + commit
}
