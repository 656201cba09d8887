package types

import "strings"

// Action is the handling policy a deployment server requests for download or update.
type Action int

const (
	ActionUnknown Action = iota
	ActionForced
	ActionSoft
	ActionDownloadOnly
	ActionTimeForced
)

var actionNames = []struct {
	action Action
	name   string
}{
	{ActionForced, "forced"},
	{ActionSoft, "soft"},
	{ActionDownloadOnly, "downloadonly"},
	{ActionTimeForced, "timeforced"},
}

// ParseAction maps a deployment action string. A value matches an action when it
// starts with the action name; anything else is ActionUnknown.
func ParseAction(s string) Action {
	for _, a := range actionNames {
		if strings.HasPrefix(s, a.name) {
			return a.action
		}
	}
	return ActionUnknown
}

func (a Action) String() string {
	for _, n := range actionNames {
		if n.action == a {
			return n.name
		}
	}
	return "unknown"
}

// Artifact is one downloadable file of a chunk.
type Artifact struct {
	Filename     string
	Size         int64
	DownloadHTTP string
}

// Chunk is one software part of a deployment.
type Chunk struct {
	Part      string
	Version   string
	Name      string
	Artifacts []Artifact
}

// Deployment is the parsed deployment descriptor. At most MaxChunks chunks with
// at most MaxArtifacts artifacts each.
type Deployment struct {
	Download Action
	Update   Action
	Chunks   []Chunk
}

// UpdateResult is the latched outcome of the last update attempt awaiting report.
type UpdateResult int

const (
	ResultNone UpdateResult = iota
	ResultSuccess
	ResultFailed
)

func (r UpdateResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	default:
		return "none"
	}
}
