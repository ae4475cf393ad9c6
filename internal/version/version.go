// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type Info struct {
	Version   string `json:"version" yaml:"version"`
	Major     int    `json:"major" yaml:"major"`
	Minor     int    `json:"minor" yaml:"minor"`
	Patch     int    `json:"patch" yaml:"patch"`
	Built     string `json:"built,omitempty" yaml:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty" yaml:"git_commit,omitempty"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// Label renders "linkreload <version> (built ..., commit ...)".
func (info Info) Label() string {
	label := fmt.Sprintf("linkreload %s", info.Version)
	var details []string
	if info.Built != "" {
		details = append(details, "built "+info.Built)
	}
	if info.GitCommit != "" {
		details = append(details, "commit "+info.GitCommit)
	}
	if len(details) > 0 {
		label = fmt.Sprintf("%s (%s)", label, strings.Join(details, ", "))
	}
	return label
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
