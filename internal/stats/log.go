package stats

import (
	"fmt"
	"sync"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
)

const (
	defaultQueueSize     = 1024
	defaultKeepUncertain = 1000
)

type entry struct {
	record    *anonymizer.ProcessingRecord
	uncertain *anonymizer.UncertainCase
	flushed   chan error
}

// Log aggregates processing records in memory and forwards them to the
// configured sinks through a single writer goroutine. Record never blocks:
// when the queue is full the entry is dropped from persistence but still
// counted.
type Log struct {
	mu             sync.RWMutex
	total          int64
	sumConfidence  float64
	sumLatency     float64
	sumEntities    int64
	uncertainCount int64
	uncertain      []anonymizer.UncertainCase
	keepUncertain  int

	sinks   []Sink
	queue   chan entry
	done    chan struct{}
	closed  bool
	dropped int64
	logger  *zap.Logger
}

// NewLog creates a log writing to sinks. With no sinks the log is purely
// in-memory.
func NewLog(cfg Config, logger *zap.Logger, sinks ...Sink) *Log {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.KeepUncertain <= 0 {
		cfg.KeepUncertain = defaultKeepUncertain
	}

	l := &Log{
		keepUncertain: cfg.KeepUncertain,
		sinks:         sinks,
		queue:         make(chan entry, cfg.QueueSize),
		done:          make(chan struct{}),
		logger:        logger,
	}
	go l.run()
	return l
}

// Open creates a log with the sinks selected by cfg.
func Open(cfg Config, logger *zap.Logger) (*Log, error) {
	var sinks []Sink
	if cfg.JSONLPath != "" {
		sink, err := OpenJSONL(cfg.JSONLPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.DatabaseURL != "" {
		sink, err := OpenSQL(&cfg, logger)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return NewLog(cfg, logger, sinks...), nil
}

// Record implements anonymizer.Recorder.
func (l *Log) Record(r anonymizer.ProcessingRecord) {
	l.mu.Lock()
	l.total++
	l.sumConfidence += r.Confidence
	l.sumLatency += r.LatencyMS
	l.sumEntities += int64(r.EntityCount)
	l.mu.Unlock()

	l.enqueue(entry{record: &r})
}

// RecordUncertain implements anonymizer.Recorder.
func (l *Log) RecordUncertain(c anonymizer.UncertainCase) {
	l.mu.Lock()
	l.uncertainCount++
	l.uncertain = append(l.uncertain, c)
	if len(l.uncertain) > l.keepUncertain {
		l.uncertain = l.uncertain[len(l.uncertain)-l.keepUncertain:]
	}
	l.mu.Unlock()

	l.enqueue(entry{uncertain: &c})
}

func (l *Log) enqueue(e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.sinks) == 0 {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped++
		l.logger.Warn("Stats queue full, entry not persisted", zap.Int64("dropped", l.dropped))
	}
}

// Summary returns aggregate statistics. learnedPatterns is reported as is.
func (l *Log) Summary(learnedPatterns int) Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{
		TotalProcessed:  l.total,
		UncertainCases:  l.uncertainCount,
		LearnedPatterns: learnedPatterns,
	}
	if l.total == 0 {
		return s
	}
	n := float64(l.total)
	s.AverageConfidence = round(l.sumConfidence/n, 3)
	s.AverageTimeMS = round(l.sumLatency/n, 1)
	s.AverageEntitiesPerText = round(float64(l.sumEntities)/n, 1)
	return s
}

// Uncertain returns the most recent uncertain cases, oldest first.
func (l *Log) Uncertain() []anonymizer.UncertainCase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]anonymizer.UncertainCase(nil), l.uncertain...)
}

// Flush waits until every queued entry is written and the sinks are flushed.
func (l *Log) Flush() error {
	l.mu.Lock()
	if l.closed || len(l.sinks) == 0 {
		l.mu.Unlock()
		return nil
	}
	ack := make(chan error, 1)
	l.queue <- entry{flushed: ack}
	l.mu.Unlock()
	return <-ack
}

// Close drains the queue and closes the sinks.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done

	var firstErr error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", anonymizer.ErrPersistence, err)
		}
	}
	return firstErr
}

func (l *Log) run() {
	defer close(l.done)
	for e := range l.queue {
		switch {
		case e.flushed != nil:
			e.flushed <- l.flushSinks()
		case e.record != nil:
			for _, s := range l.sinks {
				if err := s.WriteRecord(*e.record); err != nil {
					l.logger.Warn("Failed to persist processing record",
						zap.Error(fmt.Errorf("%w: %v", anonymizer.ErrPersistence, err)))
				}
			}
		case e.uncertain != nil:
			for _, s := range l.sinks {
				if err := s.WriteUncertain(*e.uncertain); err != nil {
					l.logger.Warn("Failed to persist uncertain case",
						zap.Error(fmt.Errorf("%w: %v", anonymizer.ErrPersistence, err)))
				}
			}
		}
	}
	if err := l.flushSinks(); err != nil {
		l.logger.Warn("Failed to flush stats sinks on close", zap.Error(err))
	}
}

func (l *Log) flushSinks() error {
	var firstErr error
	for _, s := range l.sinks {
		if err := s.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", anonymizer.ErrPersistence, err)
		}
	}
	return firstErr
}
