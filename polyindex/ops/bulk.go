package ops

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/mapping"
	"github.com/polyindex/polyindex/polyindex/metrics"
	"github.com/polyindex/polyindex/polyindex/model"
)

// DefaultBatchSize is the number of index operations per bulk request.
const DefaultBatchSize = 250

type BulkOptions struct {
	// Suffix selects the generation; empty writes through the stable alias.
	Suffix    string
	BatchSize int
	// Apps restricts the run to types of these app labels.
	Apps []string
	// Progress receives one line per flush.
	Progress io.Writer
}

type BulkResult struct {
	RunID     uuid.UUID
	Types     []*model.Type
	Processed int
	Flushes   int
}

// BulkMismatchError reports a flush whose response does not account for every
// item as accepted: rejected items, or fewer items answered than sent. The run
// stops at the first such flush; items the engine accepted stay indexed.
type BulkMismatchError struct {
	RunID  uuid.UUID
	Batch  int
	Failed []engine.BulkItem
	// Answered is the number of items in the engine's response.
	Answered int
}

func (e *BulkMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d items in batch were rejected", perrors.ErrBulkMismatch, len(e.Failed), e.Batch)
	if e.Answered != e.Batch {
		fmt.Fprintf(&b, "; engine answered %d items", e.Answered)
	}
	for i, item := range e.Failed {
		if i == 5 {
			fmt.Fprintf(&b, "; and %d more", len(e.Failed)-i)
			break
		}
		fmt.Fprintf(&b, "; %s/%s/%s status %d: %s", item.Index, item.Type, item.ID, item.Status, item.Error)
	}
	return b.String()
}

// Reindexer streams rows from the store into a family index generation.
// Writes are upserts: rows deleted from the store are not removed from the index.
type Reindexer struct {
	env       Env
	extractor *mapping.Extractor
}

func NewReindexer(env Env) *Reindexer {
	env = env.withDefaults()
	var resolver mapping.RelatedResolver
	if env.Store != nil {
		resolver = env.Store
	}
	return &Reindexer{env: env, extractor: mapping.NewExtractor(resolver)}
}

func (r *Reindexer) Run(ctx context.Context, opts BulkOptions) (*BulkResult, error) {
	if r.env.Store == nil {
		return nil, perrors.NewError(perrors.ErrConfig, "reindex requires a store")
	}
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	res := &BulkResult{RunID: uuid.New(), Types: WorkingSet(r.env.Registry.Types(), opts.Apps)}
	log := r.env.Logger.With(zap.String("run", res.RunID.String()), zap.String("suffix", opts.Suffix))
	log.Info("reindex started", zap.Int("types", len(res.Types)), zap.Int("batch_size", size))

	batch := make([]engine.BulkOp, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.flush(ctx, res, batch); err != nil {
			return err
		}
		res.Processed += len(batch)
		batch = batch[:0]
		fmt.Fprintf(progress, "Indexed %d items\n", res.Processed)
		log.Debug("flushed", zap.Int("processed", res.Processed))
		return nil
	}

	for _, t := range res.Types {
		index := r.env.Naming.Generation(t, opts.Suffix)
		err := r.env.Store.IterateInstanceOf(ctx, t, false, 0, func(inst *model.Instance) error {
			doc, err := r.extractor.Extract(ctx, inst)
			if err != nil {
				return fmt.Errorf("extract %s %d: %w", inst.Type.QualifiedName(), inst.ID, err)
			}
			batch = append(batch, engine.BulkOp{
				Action: engine.BulkIndex,
				Index:  index,
				Type:   inst.Type.DocTypeName(),
				ID:     strconv.FormatInt(inst.ID, 10),
				Doc:    doc,
			})
			if len(batch) >= size {
				return flush()
			}
			return nil
		})
		if err != nil {
			log.Error("reindex halted", zap.String("type", t.QualifiedName()), zap.Int("processed", res.Processed), zap.Error(err))
			return res, err
		}
	}
	if err := flush(); err != nil {
		log.Error("reindex halted", zap.Int("processed", res.Processed), zap.Error(err))
		return res, err
	}
	log.Info("reindex finished", zap.Int("processed", res.Processed), zap.Int("flushes", res.Flushes))
	return res, nil
}

func (r *Reindexer) flush(ctx context.Context, res *BulkResult, batch []engine.BulkOp) error {
	start := time.Now()
	resp, err := r.env.Engine.Bulk(ctx, batch)
	r.env.Metrics.BulkFlushSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return perrors.Wrap(perrors.ErrEngine, "bulk request", err)
	}
	res.Flushes++
	r.env.Metrics.ReindexFlushes.Inc()

	var failed []engine.BulkItem
	for _, item := range resp.Items {
		if item.Failed() {
			failed = append(failed, item)
		}
	}
	r.env.Metrics.ReindexDocuments.WithLabelValues(metrics.ResultIndexed).Add(float64(len(resp.Items) - len(failed)))
	if len(failed) > 0 || len(resp.Items) != len(batch) {
		rejected := len(failed)
		if missing := len(batch) - len(resp.Items); missing > 0 {
			rejected += missing
		}
		r.env.Metrics.ReindexDocuments.WithLabelValues(metrics.ResultRejected).Add(float64(rejected))
		return &BulkMismatchError{RunID: res.RunID, Batch: len(batch), Failed: failed, Answered: len(resp.Items)}
	}
	return nil
}

// WorkingSet keeps the types of apps (all when empty) that have no strict
// ancestor in the set: an instance-of walk of the ancestor already yields them.
func WorkingSet(types []*model.Type, apps []string) []*model.Type {
	var candidates []*model.Type
	for _, t := range types {
		if len(apps) == 0 || containsApp(apps, t.App) {
			candidates = append(candidates, t)
		}
	}
	var out []*model.Type
	for _, t := range candidates {
		covered := false
		for _, other := range candidates {
			if other != t && other.IsAncestorOf(t) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, t)
		}
	}
	return out
}

func containsApp(apps []string, app string) bool {
	for _, a := range apps {
		if a == app {
			return true
		}
	}
	return false
}
