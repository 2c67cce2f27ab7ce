package biz

import "github.com/go-kratos/kratos/v2/errors"

var (
	// ErrNoDetectionSelected is returned when a request enables no category.
	ErrNoDetectionSelected = errors.BadRequest("NO_DETECTION_SELECTED", "Error: At least one detection option must be selected.")
	// ErrMediaNotFound is returned when the uploaded video is missing.
	ErrMediaNotFound = errors.NotFound("MEDIA_NOT_FOUND", "Error: File not found")
)
