package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/learning"
)

var learnInput string

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn pattern templates from human-validated entities",
	Long: `Reads a JSON file of validated entities, either an array or an object
with an "entities" array, each with entity_type and text. A template is
derived per entity and stored in learning.path.`,
	RunE: runLearn,
}

func init() {
	learnCmd.Flags().StringVar(&learnInput, "input", "", "Validated entities JSON file")
	_ = learnCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(learnCmd)
}

func runLearn(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	entities, err := readValidated(learnInput)
	if err != nil {
		return err
	}

	store, err := learning.Open(cfg.Learning.Path, log.WithComponent("learning").Logger)
	if err != nil {
		return err
	}

	added, err := store.Remember(entities)
	if err != nil {
		return err
	}

	log.Info("Learning completed",
		zap.Int("entities", len(entities)),
		zap.Int("added", added),
		zap.String("store", store.Path()))
	fmt.Fprintf(cmd.OutOrStdout(), "added: %d\nlearned_patterns: %d\n", added, store.Count())
	return nil
}

func readValidated(path string) ([]anonymizer.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entities []anonymizer.Entity
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Entities []anonymizer.Entity `json:"entities"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", anonymizer.ErrMalformedInput, path, err)
		}
		entities = wrapped.Entities
	} else if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", anonymizer.ErrMalformedInput, path, err)
	}

	for i, e := range entities {
		if e.Type == "" || e.Text == "" {
			return nil, fmt.Errorf("%w: entity %d needs entity_type and text", anonymizer.ErrMalformedInput, i)
		}
	}
	return entities, nil
}
