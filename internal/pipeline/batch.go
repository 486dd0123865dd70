package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// BatchResult summarizes a batch run.
type BatchResult struct {
	Runs      []RunRecord `json:"runs"`
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Canceled  bool        `json:"canceled"`
}

// RunBatch runs files in order. A failed file does not stop the batch; once
// ctx is done no further file is started and the context error is returned.
func (o *Orchestrator) RunBatch(ctx context.Context, files []string) (BatchResult, error) {
	res := BatchResult{Total: len(files)}
	o.batch(res)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			res.Canceled = true
			return res, fmt.Errorf("batch stopped after %d of %d: %w", res.Completed, res.Total, err)
		}

		rec, err := o.Run(ctx, f)
		res.Runs = append(res.Runs, rec)
		res.Completed++
		if err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
		o.batch(res)

		if errors.Is(err, context.Canceled) {
			res.Canceled = true
			return res, err
		}
	}

	return res, nil
}

func (o *Orchestrator) batch(res BatchResult) {
	o.cfg.Observer.OnEvent(Event{Kind: EventBatch, Completed: res.Completed, BatchTotal: res.Total})
}
