package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

// Pipeline anonymizes transaction batches over a bounded worker pool
type Pipeline struct {
	engine     *anonymizer.Engine
	config     *Config
	logger     *zap.Logger
	stats      *ProcessingStats
	onProgress func(ProcessingStats)
	mu         sync.RWMutex
}

// NewPipeline creates a new batch pipeline
func NewPipeline(engine *anonymizer.Engine, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = &Config{}
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 1000
	}
	return &Pipeline{
		engine: engine,
		config: config,
		logger: logger,
		stats:  &ProcessingStats{StartTime: time.Now()},
	}
}

// OnProgress registers fn to receive a stats snapshot every
// ProgressReport records and once at the end of each run.
func (p *Pipeline) OnProgress(fn func(ProcessingStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onProgress = fn
}

// outcome is the per-record result of a run; done is false for records
// never reached because the run was cancelled.
type outcome struct {
	record  anonymizer.Record
	results []*anonymizer.Result
	err     error
	done    bool
}

// ProcessFile anonymizes inPath and writes outPath in the same format.
// Records that fail are reported in the result and left out of the output.
func (p *Pipeline) ProcessFile(ctx context.Context, inPath, outPath string, method anonymizer.ReplaceMethod) (*ProcessingResult, error) {
	format := DetectFileFormat(inPath)
	p.logger.Info("Starting batch pipeline",
		zap.String("input", inPath),
		zap.String("output", outPath),
		zap.String("format", string(format)),
		zap.Int("workers", p.config.WorkerCount))

	data, err := readDataset(inPath, format)
	if err != nil {
		return nil, fmt.Errorf("%s read failed: %w", format, err)
	}

	outcomes, result := p.run(ctx, data.records, data.positions, method)
	result.TotalRecords += int64(len(data.invalid))
	result.Failed += int64(len(data.invalid))
	for _, recErr := range data.invalid {
		result.FailedIDs = append(result.FailedIDs, recErr.ID)
		result.Errors = append(result.Errors, recErr.Error())
	}

	if err := writeDataset(outPath, data, outcomes); err != nil {
		return result, fmt.Errorf("%s write failed: %w", format, err)
	}

	p.logger.Info("Batch pipeline completed",
		zap.String("run_id", result.RunID),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed", result.Processed),
		zap.Int64("failed", result.Failed),
		zap.Int64("review", result.ReviewCount),
		zap.Duration("duration", result.Duration))

	if result.Cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// ProcessRecords anonymizes records and returns the successful ones in input
// order. On cancellation the partial result is returned with ctx.Err().
func (p *Pipeline) ProcessRecords(ctx context.Context, records []anonymizer.Record, method anonymizer.ReplaceMethod) ([]anonymizer.Record, *ProcessingResult, error) {
	outcomes, result := p.run(ctx, records, nil, method)

	out := make([]anonymizer.Record, 0, len(records))
	for _, o := range outcomes {
		if o.done && o.err == nil {
			out = append(out, o.record)
		}
	}
	if result.Cancelled {
		return out, result, ctx.Err()
	}
	return out, result, nil
}

// run anonymizes records with the worker pool. positions maps each record to
// its row in the source; nil means records are the source rows.
func (p *Pipeline) run(ctx context.Context, records []anonymizer.Record, positions []int, method anonymizer.ReplaceMethod) ([]outcome, *ProcessingResult) {
	start := time.Now()
	runID := uuid.NewString()
	p.resetStats(runID, int64(len(records)))

	outcomes := make([]outcome, len(records))
	jobs := make(chan int, p.config.QueueSize)

	var wg sync.WaitGroup
	for w := 0; w < p.config.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				rec, results, err := p.engine.AnonymizeRecord(ctx, records[i], method)
				outcomes[i] = outcome{record: rec, results: results, err: err, done: true}
				p.progress(err != nil)
			}
		}()
	}

feed:
	for i := range records {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	result := &ProcessingResult{
		RunID:          runID,
		TotalRecords:   int64(len(records)),
		FailedIDs:      []string{},
		EntitiesByType: make(map[anonymizer.EntityType]int),
	}
	for i, o := range outcomes {
		if !o.done {
			result.Cancelled = true
			continue
		}
		if o.err != nil {
			result.Failed++
			pos := i
			if positions != nil {
				pos = positions[i]
			}
			id := records[i].ID(pos)
			result.FailedIDs = append(result.FailedIDs, id)
			var recErr *anonymizer.RecordError
			if errors.As(o.err, &recErr) {
				recErr.Index, recErr.ID = pos, id
			}
			result.Errors = append(result.Errors, fmt.Sprintf("record %s: %v", id, unwrapRecord(o.err)))
			continue
		}
		result.Processed++
		review := false
		for _, r := range o.results {
			for _, e := range r.Entities {
				result.EntitiesByType[e.Type]++
			}
			review = review || r.RequiresReview
		}
		if review {
			result.ReviewCount++
		}
	}
	result.Duration = time.Since(start)

	p.report()
	return outcomes, result
}

func unwrapRecord(err error) error {
	var recErr *anonymizer.RecordError
	if errors.As(err, &recErr) && recErr.Err != nil {
		return recErr.Err
	}
	return err
}

func (p *Pipeline) progress(failed bool) {
	p.mu.Lock()
	p.stats.RecordsDone++
	if failed {
		p.stats.RecordsFailed++
	}
	due := p.stats.RecordsDone%int64(p.config.ProgressReport) == 0
	p.mu.Unlock()

	if due {
		p.report()
	}
}

// report logs current processing progress
func (p *Pipeline) report() {
	stats := p.GetStats()
	if elapsed := time.Since(stats.StartTime).Seconds(); elapsed > 0 {
		stats.ProcessingRate = float64(stats.RecordsDone) / elapsed
	}

	p.logger.Info("Processing progress",
		zap.String("run_id", stats.RunID),
		zap.Int64("records_read", stats.RecordsRead),
		zap.Int64("records_done", stats.RecordsDone),
		zap.Int64("records_failed", stats.RecordsFailed),
		zap.Float64("rate_per_sec", stats.ProcessingRate))

	p.mu.RLock()
	fn := p.onProgress
	p.mu.RUnlock()
	if fn != nil {
		fn(*stats)
	}
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats(runID string, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		RunID:       runID,
		StartTime:   time.Now(),
		RecordsRead: total,
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
