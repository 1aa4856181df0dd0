// Package config handles training configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingKey reports a required key absent from the document.
	ErrMissingKey = errors.New("missing required config key")

	// ErrInvalidValue reports a key whose value is out of range.
	ErrInvalidValue = errors.New("invalid config value")
)

// FileName is the per-dataset configuration file.
const FileName = "train_Async.yaml"

// RequiredKeys must be present in every configuration document.
var RequiredKeys = []string{
	"diffusion.T_X",
	"diffusion.T_E",
	"train.batch_size",
	"train.val_batch_size",
	"train.num_epochs",
	"train.max_grad_norm",
	"optimizer_X.lr",
	"optimizer_E.lr",
	"lr_scheduler.factor",
	"lr_scheduler.patience",
}

// Config is the root configuration structure.
type Config struct {
	Diffusion   DiffusionConfig `yaml:"diffusion"`
	Train       TrainConfig     `yaml:"train"`
	OptimizerX  OptimizerConfig `yaml:"optimizer_X"`
	OptimizerE  OptimizerConfig `yaml:"optimizer_E"`
	LRScheduler SchedulerConfig `yaml:"lr_scheduler"`

	// Model sub-documents are passed through untouched.
	MLPX map[string]any `yaml:"mlp_X,omitempty"`
	GNNE map[string]any `yaml:"gnn_E,omitempty"`
}

// DiffusionConfig holds the diffusion step counts of both streams.
type DiffusionConfig struct {
	TX int `yaml:"T_X"`
	TE int `yaml:"T_E"`
}

// TrainConfig holds loop settings.
type TrainConfig struct {
	BatchSize    int     `yaml:"batch_size"`
	ValBatchSize int     `yaml:"val_batch_size"`
	NumEpochs    int     `yaml:"num_epochs"`
	MaxGradNorm  float64 `yaml:"max_grad_norm"`

	// ValEvery is the validation cadence in epochs.
	ValEvery int `yaml:"val_every"`

	// Patience is the number of validation cycles a stream may go without
	// improving before it is frozen. Zero disables early stopping.
	Patience int `yaml:"patience"`

	NumWorkers int   `yaml:"num_workers"`
	Seed       int64 `yaml:"seed"`
}

// OptimizerConfig holds AdamW settings of one stream.
type OptimizerConfig struct {
	LR          float64   `yaml:"lr"`
	WeightDecay float64   `yaml:"weight_decay"`
	Betas       []float64 `yaml:"betas"`
	Eps         float64   `yaml:"eps"`

	// MaxGradNorm overrides train.max_grad_norm for this stream when positive.
	MaxGradNorm float64 `yaml:"max_grad_norm,omitempty"`
}

// SchedulerConfig holds plateau scheduler settings shared by both streams.
type SchedulerConfig struct {
	Factor    float64 `yaml:"factor"`
	Patience  int     `yaml:"patience"`
	Threshold float64 `yaml:"threshold"`
	Cooldown  int     `yaml:"cooldown"`
	MinLR     float64 `yaml:"min_lr"`
	Eps       float64 `yaml:"eps"`
}

func defaultOptimizer() OptimizerConfig {
	return OptimizerConfig{
		WeightDecay: 0.01,
		Betas:       []float64{0.9, 0.999},
		Eps:         1e-8,
	}
}

// Default returns a configuration with every optional key set.
func Default() *Config {
	return &Config{
		Train: TrainConfig{
			ValEvery:   1,
			NumWorkers: 4,
		},
		OptimizerX: defaultOptimizer(),
		OptimizerE: defaultOptimizer(),
		LRScheduler: SchedulerConfig{
			Threshold: 1e-4,
			Eps:       1e-8,
		},
	}
}

// Resolve returns the configuration path of a dataset.
func Resolve(configDir, dataset string) string {
	return filepath.Join(configDir, dataset, FileName)
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for _, key := range RequiredKeys {
		if lookup(&doc, key) == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
	}

	cfg := Default()
	if err := doc.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// lookup walks a dotted key through nested mappings.
func lookup(doc *yaml.Node, dotted string) *yaml.Node {
	node := doc
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		node = node.Content[0]
	}
	for _, part := range strings.Split(dotted, ".") {
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == part {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil || next.Tag == "!!null" {
			return nil
		}
		node = next
	}
	return node
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	checks := []struct {
		key string
		ok  bool
	}{
		{"diffusion.T_X", c.Diffusion.TX > 0},
		{"diffusion.T_E", c.Diffusion.TE > 0},
		{"train.batch_size", c.Train.BatchSize > 0},
		{"train.val_batch_size", c.Train.ValBatchSize > 0},
		{"train.num_epochs", c.Train.NumEpochs > 0},
		{"train.max_grad_norm", c.Train.MaxGradNorm > 0},
		{"train.val_every", c.Train.ValEvery > 0},
		{"train.patience", c.Train.Patience >= 0},
		{"optimizer_X.lr", c.OptimizerX.LR > 0},
		{"optimizer_E.lr", c.OptimizerE.LR > 0},
		{"optimizer_X.betas", validBetas(c.OptimizerX.Betas)},
		{"optimizer_E.betas", validBetas(c.OptimizerE.Betas)},
		{"lr_scheduler.factor", c.LRScheduler.Factor > 0 && c.LRScheduler.Factor < 1},
		{"lr_scheduler.patience", c.LRScheduler.Patience >= 0},
		{"lr_scheduler.cooldown", c.LRScheduler.Cooldown >= 0},
		{"lr_scheduler.min_lr", c.LRScheduler.MinLR >= 0},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%w: %s", ErrInvalidValue, check.key)
		}
	}
	return nil
}

func validBetas(b []float64) bool {
	return len(b) == 2 && b[0] >= 0 && b[0] < 1 && b[1] >= 0 && b[1] < 1
}

// GradNorm returns the clipping threshold of a stream optimizer.
func (c *Config) GradNorm(opt OptimizerConfig) float64 {
	if opt.MaxGradNorm > 0 {
		return opt.MaxGradNorm
	}
	return c.Train.MaxGradNorm
}

// Flatten renders the document as slash-joined keys for run metadata.
func (c *Config) Flatten() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, v any, out map[string]any) {
	m, ok := v.(map[string]any)
	if !ok {
		out[prefix] = v
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "/" + k
		}
		flatten(key, m[k], out)
	}
}
