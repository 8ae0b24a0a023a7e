package policy

// MergeWarning records a workspace-layer override that tried to relax the
// baseline and was clamped back, per §4.8's "reverting overreach with a
// warning."
type MergeWarning struct {
	Field  string
	Reason string
}

// MergeResult is the tightened WorkspaceConfig plus any warnings raised
// while clamping the override against the baseline.
type MergeResult struct {
	Config   WorkspaceConfig
	Warnings []MergeWarning
}

// stringSet builds a membership set from a slice for union/subset checks.
func stringSet(xs []string) map[string]bool {
	s := make(map[string]bool, len(xs))
	for _, x := range xs {
		s[x] = true
	}
	return s
}

func unionSorted(a, b []string) []string {
	set := stringSet(a)
	out := append([]string{}, a...)
	for _, x := range b {
		if !set[x] {
			out = append(out, x)
			set[x] = true
		}
	}
	return out
}

// isSubset reports whether every element of sub is present in super.
func isSubset(sub, super []string) bool {
	superSet := stringSet(super)
	for _, x := range sub {
		if !superSet[x] {
			return false
		}
	}
	return true
}

// Merge applies override on top of baseline, enforcing the tightening
// guarantee: deny-lists (NeverAllow) only ever grow (invariant 5), allow-
// lists (AutoAllowRead/Write/Glob) may only shrink, Mode may not move
// towards Autonomous, EscapePolicy may not move towards Allow, and budget
// limits may only decrease. Any override field that tries to relax the
// baseline is clamped to the baseline's value and recorded as a warning
// instead of silently applied.
func Merge(baseline, override WorkspaceConfig) MergeResult {
	result := override
	var warnings []MergeWarning

	// NeverAllow only grows: union, never shrinks.
	result.NeverAllow = unionSorted(baseline.NeverAllow, override.NeverAllow)

	// Allow-lists may only shrink relative to baseline: any override entry
	// not present in baseline is dropped (it would be a relaxation).
	if !isSubset(override.AutoAllowRead, baseline.AutoAllowRead) {
		warnings = append(warnings, MergeWarning{"auto_allow_read", "workspace override attempted to widen the baseline read allow-list; entries outside baseline dropped"})
		result.AutoAllowRead = intersect(override.AutoAllowRead, baseline.AutoAllowRead)
	}
	if !isSubset(override.AutoAllowWrite, baseline.AutoAllowWrite) {
		warnings = append(warnings, MergeWarning{"auto_allow_write", "workspace override attempted to widen the baseline write allow-list; entries outside baseline dropped"})
		result.AutoAllowWrite = intersect(override.AutoAllowWrite, baseline.AutoAllowWrite)
	}
	if !isSubset(override.AutoAllowGlob, baseline.AutoAllowGlob) {
		warnings = append(warnings, MergeWarning{"auto_allow_glob", "workspace override attempted to widen the baseline glob allow-list; entries outside baseline dropped"})
		result.AutoAllowGlob = intersect(override.AutoAllowGlob, baseline.AutoAllowGlob)
	}

	// Mode cannot move towards Autonomous.
	if override.Mode > baseline.Mode {
		warnings = append(warnings, MergeWarning{"mode", "workspace override attempted to relax mode beyond baseline; clamped"})
		result.Mode = baseline.Mode
	}

	// EscapePolicy cannot move towards Allow.
	if override.EscapePolicy > baseline.EscapePolicy {
		warnings = append(warnings, MergeWarning{"escape_policy", "workspace override attempted to relax escape policy beyond baseline; clamped"})
		result.EscapePolicy = baseline.EscapePolicy
	}

	// Budgets can only decrease (0 means "unset"; an unset baseline imposes
	// no ceiling to clamp against).
	if baseline.SessionLimitCents > 0 && (override.SessionLimitCents <= 0 || override.SessionLimitCents > baseline.SessionLimitCents) {
		warnings = append(warnings, MergeWarning{"session_limit_cents", "workspace override attempted to raise the session budget beyond baseline; clamped"})
		result.SessionLimitCents = baseline.SessionLimitCents
	}
	if baseline.PerActionLimitCents > 0 && (override.PerActionLimitCents <= 0 || override.PerActionLimitCents > baseline.PerActionLimitCents) {
		warnings = append(warnings, MergeWarning{"per_action_limit_cents", "workspace override attempted to raise the per-action budget beyond baseline; clamped"})
		result.PerActionLimitCents = baseline.PerActionLimitCents
	}
	if baseline.WarnFraction > 0 && (override.WarnFraction <= 0 || override.WarnFraction > baseline.WarnFraction) {
		warnings = append(warnings, MergeWarning{"warn_fraction", "workspace override attempted to raise the warn fraction (later warning) beyond baseline; clamped"})
		result.WarnFraction = baseline.WarnFraction
	}

	return MergeResult{Config: result, Warnings: warnings}
}

func intersect(xs []string, allowed []string) []string {
	allowedSet := stringSet(allowed)
	var out []string
	for _, x := range xs {
		if allowedSet[x] {
			out = append(out, x)
		}
	}
	return out
}
