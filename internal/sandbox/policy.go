package sandbox

import "time"

// Policy defines resource limits for sandboxed execution. Student backend
// code gets no network and a short leash; a stuck endpoint must not stall
// the whole suite.
type Policy struct {
	MaxMemory  string        // Docker memory limit (e.g. "256m")
	MaxTimeout time.Duration // Maximum execution time
	MaxPids    int           // Process count limit inside the container
	Network    bool          // Whether network access is allowed
	Images     []string      // Allowed Docker images
}

// DefaultPolicy returns the limits used for student endpoint execution.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory:  "256m",
		MaxTimeout: 15 * time.Second,
		MaxPids:    64,
		Network:    false,
		Images: []string{
			"python:3.12-slim",
			"python:3.11-slim",
		},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	for _, allowed := range p.Images {
		if allowed == image {
			return true
		}
	}
	return false
}
