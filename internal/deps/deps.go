// Package deps reports whether the external drive tools can be found.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"discarchive/internal/config"
)

// Requirement defines an external binary the daemon invokes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Path        string `json:"path,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// DriveTools lists the binaries named in the [tools] section.
func DriveTools(tools config.Tools) []Requirement {
	return []Requirement{
		{Name: "lsscsi", Command: tools.Lsscsi, Description: "Discovers optical drives at startup"},
		{Name: "blkid", Command: tools.Blkid, Description: "Detects inserted media"},
		{Name: "isoinfo", Command: tools.Isoinfo, Description: "Reads volume label and size"},
		{Name: "eject", Command: tools.Eject, Description: "Opens and closes drive trays", Optional: true},
	}
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch path, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the names of unavailable required binaries.
func Missing(statuses []Status) []string {
	var names []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			names = append(names, status.Name)
		}
	}
	return names
}
