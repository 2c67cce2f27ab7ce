package biz

import (
	"context"
	"time"

	"reelguard/internal/pkg/moderator"
)

// UsageRecord is the spend of one text classification attempt. It carries no
// transcript or verdict content.
type UsageRecord struct {
	RequestID    string
	Category     string
	Model        string
	InputTokens  int
	OutputTokens int
	USD          float64
	PKR          float64
	Cached       bool
	Status       string
	CreatedAt    time.Time
}

// UsageRepo persists usage records.
type UsageRepo interface {
	Record(ctx context.Context, records []*UsageRecord) error
}

func usageRecords(requestID string, verdicts []*moderator.TextVerdict, now time.Time) []*UsageRecord {
	records := make([]*UsageRecord, 0, len(verdicts))
	for _, v := range verdicts {
		records = append(records, &UsageRecord{
			RequestID:    requestID,
			Category:     v.Category.String(),
			Model:        v.Model,
			InputTokens:  v.Usage.InputTokens,
			OutputTokens: v.Usage.OutputTokens,
			USD:          v.Cost.USD,
			PKR:          v.Cost.PKR,
			Cached:       v.Cached,
			Status:       v.Status(),
			CreatedAt:    now,
		})
	}
	return records
}
