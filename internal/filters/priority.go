package filters

import "github.com/bmatcuk/doublestar/v4"

var priorityPatterns = []string{
	"**/*.request",
	"**/*.response",
	"**/syft.pub.yaml",
}

// Priority matches relative datasite paths eligible for the event-bus fast
// path: requests, responses, and ACL files.
type Priority struct{}

// NewPriority builds the priority matcher. It carries no state today but is
// a struct (rather than a bare function) so future per-datasite overrides
// have somewhere to live without changing call sites.
func NewPriority() *Priority {
	return &Priority{}
}

// ShouldPrioritize reports whether relPath qualifies for the fast path.
func (p *Priority) ShouldPrioritize(relPath string) bool {
	for _, pattern := range priorityPatterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// IsACLFile reports whether relPath is specifically a syft.pub.yaml.
func (p *Priority) IsACLFile(relPath string) bool {
	ok, _ := doublestar.Match("**/syft.pub.yaml", relPath)
	return ok
}
