package store

import "time"

// Info is descriptive metadata about a unit.
type Info struct {
	Unit        string `json:"unit"`
	Description string `json:"description,omitempty"`
	License     string `json:"license,omitempty"`
	Maintainer  string `json:"maintainer,omitempty"`
	Category    string `json:"category,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
	SCM         string `json:"scm,omitempty"`
	SCMWeb      string `json:"scmWeb,omitempty"`
}

// Installed marks a unit as explicitly installed by the user.
type Installed struct {
	Unit    string    `json:"unit"`
	Version string    `json:"version"`
	Date    time.Time `json:"date"`
}

// PhaseRecord is one completed phase for a unit at a dist version.
type PhaseRecord struct {
	Unit    string
	Version string
	Phase   string
}

// FileRecord is a live filesystem entry created by activation.
type FileRecord struct {
	Path string
	Unit string
}

// DirRecord is a live directory used by a unit's activation.
type DirRecord struct {
	Path string
	Unit string
}

// InstallDirectories records the real paths produced by each phase for a
// unit version. Empty fields mean the phase has not recorded a path yet.
type InstallDirectories struct {
	Unit     string `json:"unit"`
	Version  string `json:"version"`
	Download string `json:"download,omitempty"`
	Source   string `json:"source,omitempty"`
	Build    string `json:"build,omitempty"`
	Destroot string `json:"destroot,omitempty"`
}

// merge overlays the non-empty fields of other onto d.
func (d *InstallDirectories) merge(other InstallDirectories) {
	if other.Download != "" {
		d.Download = other.Download
	}
	if other.Source != "" {
		d.Source = other.Source
	}
	if other.Build != "" {
		d.Build = other.Build
	}
	if other.Destroot != "" {
		d.Destroot = other.Destroot
	}
}
