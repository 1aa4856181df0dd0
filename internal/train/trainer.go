// Package train drives the dual-stream training loop: one shared forward
// and backward pass per batch, then independent clipping, optimizer steps,
// plateau scheduling and checkpoint selection for each stream.
package train

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Benny93/graphdiff/internal/batching"
	"github.com/Benny93/graphdiff/internal/config"
	"github.com/Benny93/graphdiff/internal/ctxlog"
	"github.com/Benny93/graphdiff/internal/metrics"
	"github.com/Benny93/graphdiff/internal/model"
	"github.com/Benny93/graphdiff/internal/storage"
)

// Settings are the loop hyperparameters.
type Settings struct {
	NumEpochs int

	// ValEvery is the validation cadence in epochs.
	ValEvery int

	// Patience is the number of validation cycles a stream may go without
	// improving before it is frozen. Zero never freezes.
	Patience int

	Optimizers  map[model.Stream]AdamWConfig
	MaxGradNorm map[model.Stream]float64
	Scheduler   SchedulerConfig
}

// SettingsFromConfig maps a configuration document onto loop settings.
func SettingsFromConfig(c *config.Config) Settings {
	adamw := func(o config.OptimizerConfig) AdamWConfig {
		return AdamWConfig{
			LR:          o.LR,
			Beta1:       o.Betas[0],
			Beta2:       o.Betas[1],
			Eps:         o.Eps,
			WeightDecay: o.WeightDecay,
		}
	}
	return Settings{
		NumEpochs: c.Train.NumEpochs,
		ValEvery:  c.Train.ValEvery,
		Patience:  c.Train.Patience,
		Optimizers: map[model.Stream]AdamWConfig{
			model.StreamX: adamw(c.OptimizerX),
			model.StreamE: adamw(c.OptimizerE),
		},
		MaxGradNorm: map[model.Stream]float64{
			model.StreamX: c.GradNorm(c.OptimizerX),
			model.StreamE: c.GradNorm(c.OptimizerE),
		},
		Scheduler: SchedulerConfig{
			Factor:    c.LRScheduler.Factor,
			Patience:  c.LRScheduler.Patience,
			Threshold: c.LRScheduler.Threshold,
			Cooldown:  c.LRScheduler.Cooldown,
			MinLR:     c.LRScheduler.MinLR,
			Eps:       c.LRScheduler.Eps,
		},
	}
}

// Config wires a Trainer.
type Config struct {
	Model model.Denoiser
	State *model.State
	Train *batching.TrainLoader
	Val   *batching.ValLoader

	// Store receives a checkpoint whenever a stream improves.
	Store storage.CheckpointStore

	// Sink receives per-batch losses. Nil discards them.
	Sink metrics.Sink

	Settings Settings
}

// Result summarizes a finished run.
type Result struct {
	Epochs       int
	EarlyStopped bool
	Best         map[model.Stream]BestRecord
}

// Trainer runs the training loop.
type Trainer struct {
	cfg     Config
	streams []*StreamState
	step    int
}

// New validates the wiring and builds per-stream state.
func New(cfg Config) (*Trainer, error) {
	switch {
	case cfg.Model == nil:
		return nil, errors.New("trainer needs a model")
	case cfg.State == nil:
		return nil, errors.New("trainer needs a state")
	case cfg.Train == nil || cfg.Val == nil:
		return nil, errors.New("trainer needs train and validation loaders")
	case cfg.Store == nil:
		return nil, errors.New("trainer needs a checkpoint store")
	case cfg.Settings.NumEpochs <= 0:
		return nil, fmt.Errorf("num_epochs must be positive, got %d", cfg.Settings.NumEpochs)
	}
	if cfg.Settings.ValEvery <= 0 {
		cfg.Settings.ValEvery = 1
	}
	if cfg.Sink == nil {
		cfg.Sink = metrics.Discard{}
	}

	t := &Trainer{cfg: cfg}
	for _, s := range model.Streams {
		opt, ok := cfg.Settings.Optimizers[s]
		if !ok {
			return nil, fmt.Errorf("no optimizer settings for stream %s", s)
		}
		t.streams = append(t.streams, NewStreamState(
			s,
			cfg.Model.Params(s),
			opt,
			cfg.Settings.Scheduler,
			cfg.Settings.MaxGradNorm[s],
		))
	}
	return t, nil
}

// Stream returns the state of one stream.
func (t *Trainer) Stream(s model.Stream) *StreamState {
	return t.streams[s]
}

// Step runs one two-phase update on a batch. Phase one zeroes both
// gradient sets, computes both losses from a single forward pass and runs
// a single backward pass. Phase two clips every active stream with its own
// threshold before any optimizer steps, then steps each active stream.
func (t *Trainer) Step(ctx context.Context, b batching.Batch) error {
	for _, s := range t.streams {
		s.Params.ZeroGrad()
	}
	losses, err := t.cfg.Model.StepLosses(ctx, t.cfg.State, b)
	if err != nil {
		return fmt.Errorf("forward pass: %w", err)
	}
	if err := t.cfg.Model.Backward(); err != nil {
		return fmt.Errorf("backward pass: %w", err)
	}

	values := make(map[string]float64, 4)
	for _, s := range t.streams {
		values[s.Stream.String()+"/loss"] = losses.Of(s.Stream)
		if s.Frozen {
			continue
		}
		values[s.Stream.String()+"/grad_norm"] = ClipGradNorm(s.Params, s.MaxGradNorm)
	}
	for _, s := range t.streams {
		if !s.Frozen {
			s.Optimizer.Step()
		}
	}

	t.cfg.Sink.Log(ctx, t.step, values)
	t.step++
	return nil
}

// Run trains until the epoch budget is spent or every stream is frozen,
// then marks each stream's best checkpoint in the store.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	log := ctxlog.FromContext(ctx)
	res := &Result{}

	for epoch := 0; epoch < t.cfg.Settings.NumEpochs; epoch++ {
		start := time.Now()
		log.Debug("epoch start", "epoch", epoch)

		err := t.cfg.Train.Epoch(ctx, func(b batching.Batch) error {
			return t.Step(ctx, b)
		})
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		res.Epochs = epoch + 1
		log.Info("epoch done", "epoch", epoch, "duration", time.Since(start))

		if (epoch+1)%t.cfg.Settings.ValEvery != 0 {
			continue
		}
		if err := t.validate(ctx, epoch); err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if t.allFrozen() {
			res.EarlyStopped = true
			log.Info("every stream exhausted its patience", "epoch", epoch)
			break
		}
	}

	res.Best = make(map[model.Stream]BestRecord, len(t.streams))
	for _, s := range t.streams {
		if !s.Best.Valid() {
			continue
		}
		res.Best[s.Stream] = s.Best
		if err := t.cfg.Store.SetBest(ctx, s.Stream.String(), s.Best.Epoch); err != nil {
			return nil, fmt.Errorf("marking best of stream %s: %w", s.Stream, err)
		}
	}
	log.Info("training done", "epochs", res.Epochs, "early_stopped", res.EarlyStopped)
	return res, nil
}

func (t *Trainer) validate(ctx context.Context, epoch int) error {
	log := ctxlog.FromContext(ctx)

	results, err := t.cfg.Model.Validate(ctx, t.cfg.State, t.cfg.Val)
	if err != nil {
		return fmt.Errorf("validation: %w", err)
	}

	values := make(map[string]float64)
	for _, s := range t.streams {
		v, ok := results[s.Stream]
		if !ok {
			return fmt.Errorf("validation returned nothing for stream %s", s.Stream)
		}
		name := s.Stream.String()
		values[name+"/val_nll"] = v.NLL
		values[name+"/val_log_p0"] = v.LogP0
		values[name+"/val_denoise_match"] = v.DenoiseMatch
		log.Info("validation", "stream", name, "epoch", epoch, "nll", v.NLL, "log_p0", v.LogP0, "denoise_match", v.DenoiseMatch)

		if s.Frozen {
			continue
		}

		if s.Observe(epoch, v) {
			if err := t.cfg.Store.SaveCheckpoint(ctx, &storage.Checkpoint{
				Stream:       name,
				Epoch:        epoch,
				NLL:          v.NLL,
				LogP0:        v.LogP0,
				DenoiseMatch: v.DenoiseMatch,
				Params:       s.Best.Snapshot,
				SavedAt:      time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("saving checkpoint of stream %s: %w", name, err)
			}
			log.Info("new best", "stream", name, "epoch", epoch, "nll", v.NLL)
		}

		if s.Scheduler.Step(v.NLL) {
			log.Info("learning rate reduced", "stream", name, "lr", s.Optimizer.LR())
		}
		values[name+"/lr"] = s.Optimizer.LR()

		if t.cfg.Settings.Patience > 0 && s.SinceImprovement > t.cfg.Settings.Patience {
			s.Frozen = true
			log.Info("stream frozen", "stream", name, "epoch", epoch, "best_epoch", s.Best.Epoch)
		}
	}

	t.cfg.Sink.Log(ctx, t.step, values)
	return nil
}

func (t *Trainer) allFrozen() bool {
	for _, s := range t.streams {
		if !s.Frozen {
			return false
		}
	}
	return true
}

// CheckpointDir returns the checkpoint directory of a dataset under root.
func CheckpointDir(root, dataset string) string {
	return filepath.Join(root, dataset+"_cpts")
}

// EnsureCheckpointDir creates the checkpoint directory if it is missing.
func EnsureCheckpointDir(root, dataset string) (string, error) {
	dir := CheckpointDir(root, dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return dir, nil
}
