package biz

import "reelguard/internal/pkg/moderator"

// ReconcileViolence merges the text-derived violence flag into the visual
// label. The text flag wins when both signals exist and disagree; a missing
// flag or a visual label other than Violence/NonViolence leaves the visual
// label unchanged.
func ReconcileViolence(textSignal *bool, visualLabel string) string {
	if textSignal == nil {
		return visualLabel
	}
	var visual bool
	switch visualLabel {
	case moderator.LabelViolence:
		visual = true
	case moderator.LabelNonViolence:
		visual = false
	default:
		return visualLabel
	}
	if *textSignal == visual {
		return visualLabel
	}
	if *textSignal {
		return moderator.LabelViolence
	}
	return moderator.LabelNonViolence
}
