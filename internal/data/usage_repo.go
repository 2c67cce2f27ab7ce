package data

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"

	"reelguard/internal/biz"
)

const insertUsageSQL = `INSERT INTO llm_usage
	(request_id, category, model, input_tokens, output_tokens, cost_usd, cost_pkr, cached, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

type usageRepo struct {
	data *Data
	log  *log.Helper
}

// NewUsageRepo creates a new UsageRepo. Records are dropped when the ledger
// is disabled.
func NewUsageRepo(data *Data, logger log.Logger) biz.UsageRepo {
	return &usageRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *usageRepo) Record(ctx context.Context, records []*biz.UsageRecord) error {
	if r.data == nil || r.data.Pool == nil || len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertUsageSQL,
			rec.RequestID,
			rec.Category,
			rec.Model,
			rec.InputTokens,
			rec.OutputTokens,
			rec.USD,
			rec.PKR,
			rec.Cached,
			rec.Status,
			rec.CreatedAt,
		)
	}

	br := r.data.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert usage: %w", err)
		}
	}
	r.log.Debugf("recorded %d usage rows", len(records))
	return nil
}
