// Package wsboundary implements the workspace boundary: the filesystem
// allow/deny engine that classifies paths relative to a workspace root
// against the never-allow, auto-allow and mode/escape-policy rules of §4.7.
package wsboundary

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/Mindburn-Labs/helm/core/pkg/policy"
	"golang.org/x/text/unicode/norm"
)

// PathCheck is the classification a Boundary assigns to a single path.
type PathCheck int

const (
	Allowed PathCheck = iota
	AutoAllowed
	NeverAllowed
	RequiresApproval
)

func (c PathCheck) String() string {
	switch c {
	case Allowed:
		return "allowed"
	case AutoAllowed:
		return "auto_allowed"
	case NeverAllowed:
		return "never_allowed"
	case RequiresApproval:
		return "requires_approval"
	default:
		return "unknown"
	}
}

// restrictiveness orders checks from least to most restrictive, used by
// CheckAll to pick the worst classification across several paths.
func (c PathCheck) restrictiveness() int {
	switch c {
	case Allowed:
		return 0
	case AutoAllowed:
		return 1
	case RequiresApproval:
		return 2
	case NeverAllowed:
		return 3
	default:
		return 3
	}
}

// Boundary holds a compiled view of a WorkspaceConfig for fast, repeated
// path classification. Glob patterns are compiled once at construction;
// invalid patterns are recorded via the optional logger and ignored rather
// than aborting construction, per §4.7's "Glob compilation."
type Boundary struct {
	mu     sync.RWMutex
	config policy.WorkspaceConfig
	globs  []glob.Glob
	logf   func(format string, args ...any)
}

// New compiles cfg into a Boundary. logf may be nil, in which case invalid
// glob patterns are silently dropped.
func New(cfg policy.WorkspaceConfig, logf func(format string, args ...any)) *Boundary {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	b := &Boundary{config: cfg, logf: logf}
	b.compileGlobs()
	return b
}

func (b *Boundary) compileGlobs() {
	b.globs = b.globs[:0]
	for _, pattern := range b.config.AutoAllowGlob {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			b.logf("wsboundary: ignoring invalid auto_allow_glob pattern %q: %v", pattern, err)
			continue
		}
		b.globs = append(b.globs, g)
	}
}

// SetConfig atomically replaces the boundary's configuration and recompiles
// its globs.
func (b *Boundary) SetConfig(cfg policy.WorkspaceConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
	b.compileGlobs()
}

// canonicalizePath resolves ".." and normalizes the path lexically (it does not
// follow symlinks -- callers needing symlink resolution should pass an
// already-resolved path, e.g. via filepath.EvalSymlinks on an existing
// file). Unicode input is first normalized to NFC so visually identical
// paths produced by different input methods classify identically.
func canonicalizePath(path string) string {
	nfc := norm.NFC.String(path)
	return filepath.Clean(nfc)
}

func hasPathPrefix(path, prefix string) bool {
	prefix = filepath.Clean(prefix)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPathPrefix(path, p) {
			return true
		}
	}
	return false
}

// Check classifies path against the boundary's configuration, following the
// evaluation order of §4.7:
//  1. canonicalise
//  2. never_allow prefix match -> NeverAllowed
//  3. descendant of workspace root -> Allowed
//  4. auto_allow_read/write prefix or compiled auto_allow_glob -> AutoAllowed
//  5. otherwise dispatch on mode/escape-policy
func (b *Boundary) Check(path string) PathCheck {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clean := canonicalizePath(path)

	if matchesAnyPrefix(clean, b.config.NeverAllow) {
		return NeverAllowed
	}
	if b.config.Root != "" && hasPathPrefix(clean, canonicalizePath(b.config.Root)) {
		return Allowed
	}
	if matchesAnyPrefix(clean, b.config.AutoAllowRead) || matchesAnyPrefix(clean, b.config.AutoAllowWrite) {
		return AutoAllowed
	}
	for _, g := range b.globs {
		if g.Match(clean) {
			return AutoAllowed
		}
	}

	if b.config.Mode == policy.ModeAutonomous {
		return Allowed
	}
	switch b.config.EscapePolicy {
	case policy.EscapeAllow:
		return Allowed
	case policy.EscapeAsk:
		return RequiresApproval
	default:
		return NeverAllowed
	}
}

// CheckAll classifies every path in paths and returns the most restrictive
// classification across all of them (NeverAllowed > RequiresApproval >
// AutoAllowed > Allowed), matching §4.7's CheckAll contract.
func (b *Boundary) CheckAll(paths []string) PathCheck {
	worst := Allowed
	for _, p := range paths {
		c := b.Check(p)
		if c.restrictiveness() > worst.restrictiveness() {
			worst = c
		}
		if worst == NeverAllowed {
			break
		}
	}
	return worst
}
