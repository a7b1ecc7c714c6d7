package ner

import (
	"time"
)

// Config contains statistical recognizer configuration
type Config struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend   string        `yaml:"backend" mapstructure:"backend"` // presidio or onnx
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	Language  string        `yaml:"language" mapstructure:"language"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	ModelPath string        `yaml:"model_path" mapstructure:"model_path"`   // "./models/ner-es.onnx"
	VocabPath string        `yaml:"vocab_path" mapstructure:"vocab_path"`   // "./models/vocab.txt"
	LabelPath string        `yaml:"labels_path" mapstructure:"labels_path"` // "./models/labels.txt"
	MaxLength int           `yaml:"max_length" mapstructure:"max_length"`   // 128
	MinScore  float64       `yaml:"min_score" mapstructure:"min_score"`
}

// runeToByte converts rune offsets into byte offsets for text. Offsets past
// the end map to len(text).
func runeToByte(text string) func(int) int {
	index := make([]int, 0, len(text)+1)
	for i := range text {
		index = append(index, i)
	}
	index = append(index, len(text))
	return func(r int) int {
		if r < 0 {
			return -1
		}
		if r >= len(index) {
			return len(text) + 1
		}
		return index[r]
	}
}
