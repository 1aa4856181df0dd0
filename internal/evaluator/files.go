package evaluator

import (
	"fmt"
	"math/rand"

	"github.com/Benny93/graphdiff/internal/dataset"
)

// LoadFile builds an evaluator for the real graph stored at path.
func LoadFile(path string, rng *rand.Rand) (*Evaluator, error) {
	ds, err := dataset.Load(path)
	if err != nil {
		return nil, err
	}
	feats := dataset.Preprocess(ds)
	return New(ds.Kind, ds.Graph, feats.X3D, feats.YOneHot, rng)
}

// CompareFile compares the generated graph stored at path with the real
// one. The generated file uses the dataset format; its name field may
// differ from the real kind.
func (ev *Evaluator) CompareFile(path string) (Report, error) {
	ds, err := dataset.Load(path)
	if err != nil {
		return Report{}, fmt.Errorf("loading generated graph: %w", err)
	}
	feats := dataset.Preprocess(ds)
	return ev.Compare(ds.Graph, feats.X3D, feats.YOneHot)
}
