package main

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/cache"
	"github.com/raaihank/txn-sentinel/internal/config"
	"github.com/raaihank/txn-sentinel/internal/learning"
	"github.com/raaihank/txn-sentinel/internal/llm"
	"github.com/raaihank/txn-sentinel/internal/logger"
	"github.com/raaihank/txn-sentinel/internal/ner"
	"github.com/raaihank/txn-sentinel/internal/stats"
)

// services holds everything a command needs to process text
type services struct {
	engine   *anonymizer.Engine
	catalog  *anonymizer.Catalog
	stats    *stats.Log
	learning *learning.Store
	verdicts cache.Store
	logger   *logger.Logger
}

// initializeServices builds the detection engine and its collaborators.
// Optional tiers that cannot be reached are logged and left out; the static
// tier always runs.
func initializeServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	s := &services{logger: log}

	specs := anonymizer.DefaultSpecs()
	if path := cfg.Anonymizer.ExtensionsFile; path != "" {
		ext, err := anonymizer.LoadExtensionFile(path)
		if err != nil {
			return nil, err
		}
		if specs, err = anonymizer.ApplyExtensions(specs, ext); err != nil {
			return nil, err
		}
		log.Info("Catalog extensions loaded", zap.String("file", path), zap.Int("patterns", len(ext.Patterns)))
	}

	catalog, err := anonymizer.NewCatalog(specs)
	if err != nil {
		return nil, err
	}

	store, err := learning.Open(cfg.Learning.Path, log.WithComponent("learning").Logger)
	if err != nil {
		return nil, err
	}
	s.learning = store

	if cfg.Learning.UseLearned {
		var errs []error
		catalog, errs = catalog.WithLearned(store.Snapshot(), cfg.Learning.LearnedConfidence)
		for _, e := range errs {
			log.Warn("Skipping learned pattern", zap.Error(e))
		}
		log.Info("Learned patterns enabled", zap.Int("patterns", catalog.LearnedCount()))
	}
	s.catalog = catalog

	statsLog, err := stats.Open(cfg.Stats, log.WithComponent("stats").Logger)
	if err != nil {
		return nil, err
	}
	s.stats = statsLog

	opts := []anonymizer.Option{
		anonymizer.WithRecorder(statsLog),
		anonymizer.WithThresholds(cfg.Thresholds()),
		anonymizer.WithLanguage(cfg.Anonymizer.Language),
	}

	if cfg.Statistical.Enabled {
		nerLog := log.WithComponent("ner").Logger
		recognizer, err := ner.NewRecognizer(cfg.Statistical, catalog, nerLog)
		switch {
		case errors.Is(err, anonymizer.ErrCollaboratorUnavailable):
			log.Warn("Statistical tier disabled", zap.Error(err))
		case err != nil:
			s.close()
			return nil, err
		default:
			opts = append(opts, anonymizer.WithStatistical(
				anonymizer.NewStatisticalDetector(recognizer, cfg.Statistical.Language, nerLog)))
		}
	}

	if cfg.Adjudicator.Enabled {
		llmLog := log.WithComponent("llm").Logger
		verdicts, err := cache.Open(cfg.Adjudicator.Cache, llmLog)
		if err != nil {
			log.Warn("Verdict cache unavailable, adjudicating without cache", zap.Error(err))
			verdicts = nil
		}
		s.verdicts = verdicts
		if bolt, ok := verdicts.(*cache.BoltStore); ok {
			if n, err := bolt.Prune(); err != nil {
				log.Warn("Failed to prune verdict cache", zap.Error(err))
			} else if n > 0 {
				log.Info("Pruned stale verdicts", zap.Int("removed", n))
			}
		}

		adjudicator, err := llm.New(cfg.Adjudicator, verdicts, llmLog)
		switch {
		case errors.Is(err, anonymizer.ErrCollaboratorUnavailable):
			log.Warn("Adjudication tier disabled", zap.Error(err))
		case err != nil:
			s.close()
			return nil, err
		default:
			opts = append(opts, anonymizer.WithLLM(
				anonymizer.NewLLMTier(adjudicator, cfg.Adjudicator.Boost, llmLog)))
		}
	}

	s.engine = anonymizer.NewEngine(anonymizer.NewStaticDetector(catalog), log.WithComponent("anonymizer").Logger, opts...)
	return s, nil
}

// summary returns the processing summary including learned templates
func (s *services) summary() stats.Summary {
	return s.stats.Summary(s.learning.Count())
}

func (s *services) close() {
	if s.stats != nil {
		if err := s.stats.Close(); err != nil {
			s.logger.Warn("Failed to close stats log", zap.Error(err))
		}
	}
	if s.verdicts != nil {
		st := s.verdicts.Stats()
		s.logger.Info("Verdict cache statistics",
			zap.String("backend", st.Backend),
			zap.Int64("hits", st.Hits),
			zap.Int64("misses", st.Misses),
			zap.Float64("hit_rate", st.HitRate),
		)
		if err := s.verdicts.Close(); err != nil {
			s.logger.Warn("Failed to close verdict cache", zap.Error(err))
		}
	}
}

// printSummary writes the processing summary as key: value lines
func printSummary(w io.Writer, sum stats.Summary) {
	fmt.Fprintf(w, "total_processed: %d\n", sum.TotalProcessed)
	fmt.Fprintf(w, "average_confidence: %.3f\n", sum.AverageConfidence)
	fmt.Fprintf(w, "average_time_ms: %.1f\n", sum.AverageTimeMS)
	fmt.Fprintf(w, "average_entities_per_text: %.1f\n", sum.AverageEntitiesPerText)
	fmt.Fprintf(w, "uncertain_cases: %d\n", sum.UncertainCases)
	fmt.Fprintf(w, "learned_patterns: %d\n", sum.LearnedPatterns)
}
