// Package moderator runs the per-category text classifiers and the visual
// classifiers over one prepared video.
package moderator

import "errors"

// Category is a text moderation category.
type Category string

const (
	CategoryAbusive   Category = "abusive"
	CategoryViolent   Category = "violent"
	CategoryNSFW      Category = "nsfw"
	CategoryPolitical Category = "political"
	CategoryReligious Category = "religious"
)

// Categories lists every category in the order they are classified.
var Categories = []Category{
	CategoryAbusive,
	CategoryViolent,
	CategoryNSFW,
	CategoryPolitical,
	CategoryReligious,
}

func (c Category) String() string {
	return string(c)
}

// Visual labels.
const (
	LabelNSFW        = "NSFW (Not Safe For Work)"
	LabelSFW         = "SFW (Safe For Work)"
	LabelViolence    = "Violence"
	LabelNonViolence = "NonViolence"
	LabelError       = "Error"
)

var (
	// ErrNoFrames means sampling produced no frames.
	ErrNoFrames = errors.New("moderator: no frames sampled")
	// ErrUnavailable means no runner is configured for the task.
	ErrUnavailable = errors.New("moderator: classifier unavailable")
)
