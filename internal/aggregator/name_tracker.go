package aggregator

import (
	"strings"
	"sync"
)

// nameEntry maps one exposed tool name back to its upstream origin.
type nameEntry struct {
	upstreamName string
	originalName string
}

// NameTracker handles prefixing of tool names and maps exposed names back to
// their upstream server and original name.
type NameTracker struct {
	mu          sync.RWMutex
	nameMapping map[string]nameEntry
	prefix      string
}

// NewNameTracker creates a name tracker with the given global prefix.
func NewNameTracker(prefix string) *NameTracker {
	if prefix == "" {
		prefix = "x"
	}
	return &NameTracker{
		nameMapping: make(map[string]nameEntry),
		prefix:      prefix,
	}
}

// ExposedToolName returns the fully prefixed name for a tool and records the
// mapping. The layout is <prefix>_<upstream>_<tool>; an upstream-prefixed
// name is not double-prefixed.
func (nt *NameTracker) ExposedToolName(upstreamName, toolName string) string {
	name := toolName
	if !strings.HasPrefix(name, upstreamName+"_") {
		name = upstreamName + "_" + name
	}
	exposed := nt.prefix + "_" + name

	nt.mu.Lock()
	nt.nameMapping[exposed] = nameEntry{upstreamName: upstreamName, originalName: toolName}
	nt.mu.Unlock()

	return exposed
}

// ResolveToolName maps an exposed name back to (upstream, original tool).
func (nt *NameTracker) ResolveToolName(exposed string) (upstreamName, originalName string, ok bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()

	entry, ok := nt.nameMapping[exposed]
	return entry.upstreamName, entry.originalName, ok
}

// ForgetUpstream drops all mappings for one upstream, e.g. on deregistration.
func (nt *NameTracker) ForgetUpstream(upstreamName string) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	for exposed, entry := range nt.nameMapping {
		if entry.upstreamName == upstreamName {
			delete(nt.nameMapping, exposed)
		}
	}
}
