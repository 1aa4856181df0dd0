package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Benny93/graphdiff/internal/graph"
)

// Raw is the on-disk form of an attributed graph.
type Raw struct {
	// Name is the dataset identifier, e.g. "cora".
	Name string `json:"name"`

	// NumNodes is the number of nodes N.
	NumNodes int `json:"num_nodes"`

	// Edges lists directed (src, dst) pairs.
	Edges [][2]int `json:"edges"`

	// EdgeTypes optionally assigns a type >= 1 to each entry of Edges.
	// When absent every edge has type 1.
	EdgeTypes []int `json:"edge_types,omitempty"`

	// Features is an N x F binary attribute matrix.
	Features [][]int `json:"features"`

	// Labels holds the class of every node.
	Labels []int `json:"labels"`

	// Masks is the native split, if the dataset ships one.
	Masks *graph.Masks `json:"masks,omitempty"`
}

// Dataset is a loaded graph with its raw node data.
type Dataset struct {
	Kind  Kind
	Graph *graph.Graph
	Raw   *Raw
}

// Load reads a dataset file and builds its graph.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}

	return FromRaw(&raw)
}

// FromRaw validates raw data and builds the dataset graph.
func FromRaw(raw *Raw) (*Dataset, error) {
	kind, err := ParseKind(raw.Name)
	if err != nil {
		return nil, err
	}
	if err := raw.validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset %s: %w", raw.Name, err)
	}

	edges := make([]graph.Edge, len(raw.Edges))
	for i, e := range raw.Edges {
		edges[i] = graph.Edge{Src: e[0], Dst: e[1]}
	}
	g, err := graph.FromEdges(raw.NumNodes, edges)
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}

	if raw.Masks != nil {
		if err := g.SetMasks(*raw.Masks); err != nil {
			return nil, fmt.Errorf("attaching native split: %w", err)
		}
	}

	return &Dataset{Kind: kind, Graph: g, Raw: raw}, nil
}

func (r *Raw) validate() error {
	if r.NumNodes < 2 {
		return fmt.Errorf("num_nodes must be at least 2, got %d", r.NumNodes)
	}
	if len(r.Features) != r.NumNodes {
		return fmt.Errorf("features has %d rows, want %d", len(r.Features), r.NumNodes)
	}
	if len(r.Labels) != r.NumNodes {
		return fmt.Errorf("labels has %d entries, want %d", len(r.Labels), r.NumNodes)
	}
	if r.EdgeTypes != nil && len(r.EdgeTypes) != len(r.Edges) {
		return fmt.Errorf("edge_types has %d entries, want %d", len(r.EdgeTypes), len(r.Edges))
	}

	width := len(r.Features[0])
	if width == 0 {
		return fmt.Errorf("features must have at least one field")
	}
	for i, row := range r.Features {
		if len(row) != width {
			return fmt.Errorf("feature row %d has %d fields, want %d", i, len(row), width)
		}
		for _, v := range row {
			if v != 0 && v != 1 {
				return fmt.Errorf("feature row %d has non-binary value %d", i, v)
			}
		}
	}
	for i, y := range r.Labels {
		if y < 0 {
			return fmt.Errorf("label %d is negative", i)
		}
	}
	for i, t := range r.EdgeTypes {
		if t < 1 {
			return fmt.Errorf("edge type %d must be >= 1, got %d", i, t)
		}
	}
	return nil
}
