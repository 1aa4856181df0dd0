// Package runinfo identifies a training run and persists its metadata.
package runinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
)

// MetaFile is written into the checkpoint directory of every run.
const MetaFile = "meta.json"

// Best summarizes the best checkpoint of one stream.
type Best struct {
	Epoch        int     `json:"epoch"`
	NLL          float64 `json:"nll"`
	LogP0        float64 `json:"log_p0"`
	DenoiseMatch float64 `json:"denoise_match"`
}

// RunInfo is the identity and outcome of a training run.
type RunInfo struct {
	ID            string         `json:"id"`
	Project       string         `json:"project"`
	Name          string         `json:"name"`
	Dataset       string         `json:"dataset"`
	DatasetSHA256 string         `json:"dataset_sha256,omitempty"`
	Commit        string         `json:"commit,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Config        map[string]any `json:"config,omitempty"`

	Epochs       int             `json:"epochs"`
	EarlyStopped bool            `json:"early_stopped"`
	Best         map[string]Best `json:"best,omitempty"`
}

// New starts a run record. workDir is searched upward for a git repository.
func New(dataset string, tx, te int, workDir string) *RunInfo {
	return &RunInfo{
		ID:        uuid.NewString(),
		Project:   Project(dataset),
		Name:      Name(tx, te),
		Dataset:   dataset,
		Commit:    Commit(workDir),
		StartedAt: time.Now().UTC(),
	}
}

// Project is the experiment project a dataset's runs are grouped under.
func Project(dataset string) string {
	return dataset + "-Async"
}

// Name labels a run by its diffusion step counts.
func Name(tx, te int) string {
	return fmt.Sprintf("T_X%d, T_E%d", tx, te)
}

// Commit returns the HEAD hash of the repository containing path, or ""
// when path is not inside a repository.
func Commit(path string) string {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// Finish stamps the end time.
func (r *RunInfo) Finish() {
	now := time.Now().UTC()
	r.FinishedAt = &now
}

// WriteMeta writes the record as dir/meta.json.
func (r *RunInfo) WriteMeta(dir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", MetaFile, err)
	}
	return nil
}

// ReadMeta loads dir/meta.json.
func ReadMeta(dir string) (*RunInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", MetaFile, err)
	}
	var r RunInfo
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MetaFile, err)
	}
	return &r, nil
}
