package agent

import "strings"

// Completion tokens the agent embeds in its output. The contract is purely
// textual; no structured return type is assumed of the agent.
const (
	TokenPhaseComplete   = "[PHASE_COMPLETE]"
	TokenFeatureComplete = "[FEATURE_COMPLETE]"
	TokenNeedsInput      = "[NEEDS_INPUT]"
	TokenBlocked         = "[BLOCKED]"
)

// Signals is the machine-readable reading of one agent reply.
type Signals struct {
	// PhaseComplete means the agent finished the instructed phase.
	PhaseComplete bool

	// FeatureComplete is emitted only by the terminal wrap-up phase,
	// alongside PhaseComplete.
	FeatureComplete bool

	// NeedsInput means required decisions are missing and cannot be
	// defaulted; a human has to weigh in.
	NeedsInput bool

	// Blocked means the agent could not make progress.
	Blocked bool
}

// ParseSignals scans agent output for the bracketed completion tokens.
// This is the single point of change if the agent's output format evolves;
// nothing else in the executor inspects agent prose.
func ParseSignals(output string) Signals {
	return Signals{
		PhaseComplete:   strings.Contains(output, TokenPhaseComplete),
		FeatureComplete: strings.Contains(output, TokenFeatureComplete),
		NeedsInput:      strings.Contains(output, TokenNeedsInput),
		Blocked:         strings.Contains(output, TokenBlocked),
	}
}

// BlockedReason extracts the text the agent wrote after [BLOCKED] on the
// same line, so failure records can say what stopped it. Empty when the
// token is absent or stands alone.
func BlockedReason(output string) string {
	_, rest, ok := strings.Cut(output, TokenBlocked)
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
}
