package model

// MatchLabel is the advisory confidence label attached to a match score.
type MatchLabel string

const (
	// LabelStrong marks scores at or above the strong threshold.
	LabelStrong MatchLabel = "Strong"
	// LabelLikely marks scores at or above the likely threshold.
	LabelLikely MatchLabel = "Likely"
	// LabelNone marks scores below every threshold.
	LabelNone MatchLabel = ""
)

// Label thresholds. Callers apply their own action thresholds on top.
const (
	StrongScoreMin = 75
	LikelyScoreMin = 40

	// MaxScore is the ceiling a match score is clamped to. No signal
	// combination is ever treated as certain.
	MaxScore = 95
)

// LabelForScore maps a score to its advisory label.
func LabelForScore(score int) MatchLabel {
	switch {
	case score >= StrongScoreMin:
		return LabelStrong
	case score >= LikelyScoreMin:
		return LabelLikely
	default:
		return LabelNone
	}
}

// MatchResult is the transient outcome of scoring one candidate document
// against one transaction. It is recomputed on demand and never persisted as
// authoritative state.
type MatchResult struct {
	Breakdown     map[string]int // Points per signal category
	TransactionID string
	DocumentID    string // Synthetic id for not-yet-downloaded candidates
	Label         MatchLabel
	Reasons       []string
	Score         int // 0..MaxScore
}
