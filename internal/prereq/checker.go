// Package prereq verifies the external tools bwprobe shells out to.
package prereq

import (
	"fmt"
	"os/exec"
	"strings"
)

// Result contains the result of a prerequisite check.
type Result struct {
	Name       string `json:"name"`
	Required   bool   `json:"required"`
	Found      bool   `json:"found"`
	Version    string `json:"version,omitempty"`
	Path       string `json:"path,omitempty"`
	Message    string `json:"message,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Checker performs prerequisite checks. Startup validation failures
// are immediately fatal, with no retry.
type Checker struct {
	sshRequired bool
	results     []Result

	// lookPath is a test seam over exec.LookPath.
	lookPath func(name string) (string, error)
}

// NewChecker creates a new prerequisite Checker.
func NewChecker() *Checker {
	return &Checker{
		results:  make([]Result, 0),
		lookPath: exec.LookPath,
	}
}

// RequireSSH marks the SSH client as required (remote nodes are
// configured).
func (c *Checker) RequireSSH() *Checker {
	c.sshRequired = true
	return c
}

// Check performs all prerequisite checks and returns the results.
func (c *Checker) Check() ([]Result, error) {
	c.results = make([]Result, 0)

	c.checkIperf3()
	c.checkProcTools()
	if c.sshRequired {
		c.checkSSH()
	}

	for _, result := range c.results {
		if result.Required && !result.Found {
			return c.results, fmt.Errorf("prerequisite not met: %s - %s", result.Name, result.Message)
		}
	}

	return c.results, nil
}

// Results returns the check results.
func (c *Checker) Results() []Result {
	return c.results
}

// AllPassed returns true if all required checks passed.
func (c *Checker) AllPassed() bool {
	for _, result := range c.results {
		if result.Required && !result.Found {
			return false
		}
	}
	return true
}

// checkIperf3 checks that iperf3 is installed and records its version.
func (c *Checker) checkIperf3() {
	result := Result{
		Name:     "iperf3",
		Required: true,
	}

	path, err := c.lookPath("iperf3")
	if err != nil {
		result.Found = false
		result.Message = "iperf3 is not installed"
		result.Suggestion = "Install iperf3 with your package manager"
		c.results = append(c.results, result)
		return
	}
	result.Path = path

	out, err := exec.Command("iperf3", "--version").Output()
	if err == nil {
		// First line looks like "iperf 3.12 (cJSON 1.7.15)".
		line := strings.SplitN(string(out), "\n", 2)[0]
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			result.Version = fields[1]
		}
	}

	result.Found = true
	result.Message = fmt.Sprintf("iperf3 %s is available", result.Version)
	c.results = append(c.results, result)
}

// checkSSH checks the ssh client used for the remote command channel.
func (c *Checker) checkSSH() {
	result := Result{
		Name:     "ssh",
		Required: true,
	}

	path, err := c.lookPath("ssh")
	if err != nil {
		result.Found = false
		result.Message = "ssh client is not installed"
		result.Suggestion = "Install openssh-client with your package manager"
		c.results = append(c.results, result)
		return
	}

	result.Found = true
	result.Path = path
	result.Message = "ssh is available"
	c.results = append(c.results, result)
}

// checkProcTools checks pgrep/pkill, used for server verification and
// stale-process cleanup.
func (c *Checker) checkProcTools() {
	for _, tool := range []string{"pgrep", "pkill"} {
		result := Result{
			Name:     tool,
			Required: true,
		}
		path, err := c.lookPath(tool)
		if err != nil {
			result.Found = false
			result.Message = fmt.Sprintf("%s is not installed", tool)
			result.Suggestion = "Install procps with your package manager"
			c.results = append(c.results, result)
			continue
		}
		result.Found = true
		result.Path = path
		result.Message = fmt.Sprintf("%s is available", tool)
		c.results = append(c.results, result)
	}
}
