package media

import "github.com/stellarlinkco/geminibot/internal/compose"

// State is the lifecycle position of an asset.
type State int

const (
	Created State = iota
	Uploading
	Pending
	Active
	Failed
	Deleted
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Uploading:
		return "uploading"
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Failed:
		return "failed"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Input is one file offered to the pipeline. MIMEType may be empty.
type Input struct {
	Path     string
	MIMEType string
}

// Asset tracks one file from local path to remote reference. Only the
// pipeline mutates it.
type Asset struct {
	Path       string
	MIMEType   string
	Size       int64
	RemoteName string
	URI        string
	State      State

	remoteReleased bool
	localReleased  bool
}

func (a *Asset) uploaded() bool {
	return a.RemoteName != ""
}

// Part is the request element referencing the remote copy.
func (a *Asset) Part() compose.Part {
	return compose.MediaPart(a.URI, a.MIMEType)
}
