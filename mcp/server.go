// Package mcp provides the MCP (Model Context Protocol) server for graphdiff.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/graphdiff/internal/evaluator"
	"github.com/Benny93/graphdiff/internal/model"
	"github.com/Benny93/graphdiff/internal/runinfo"
	"github.com/Benny93/graphdiff/internal/storage"
)

// Server represents the MCP server.
type Server struct {
	store  CheckpointReader
	runDir string
	server *mcp.Server
}

// CheckpointReader is the read side of a checkpoint store.
type CheckpointReader interface {
	GetBest(ctx context.Context, stream string) (*storage.Checkpoint, error)
	ListCheckpoints(ctx context.Context, stream string) ([]storage.Checkpoint, error)
	Count(ctx context.Context) (int, error)
}

// NewServer creates a new MCP server over a checkpoint store. runDir is
// the checkpoint directory holding meta.json.
func NewServer(store CheckpointReader, runDir string) *Server {
	s := &Server{
		store:  store,
		runDir: runDir,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "graphdiff",
			Version: "0.1.0",
		}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves MCP over t until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.server.Run(ctx, t)
}

// ServeStdio serves MCP over stdin and stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

type statsArgs struct {
	Path string `json:"path"`
	Seed int64  `json:"seed,omitempty"`
}

type compareArgs struct {
	Path      string `json:"path"`
	Generated string `json:"generated"`
	Seed      int64  `json:"seed,omitempty"`
}

type streamArgs struct {
	Stream string `json:"stream,omitempty"`
}

func (s *Server) registerTools() {
	streamSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"stream": {Type: "string", Description: "Stream name, X or E. Both streams when omitted."},
		},
	}
	seedSchema := &jsonschema.Schema{Type: "integer", Description: "Seed for split masks and subgraph sampling"}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graphdiff_stats",
		Description: "Load a dataset file and report node and edge counts, triangle count, communities and class homophily.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": {Type: "string", Description: "Path to the dataset JSON file"},
				"seed": seedSchema,
			},
			Required: []string{"path"},
		},
	}, func(_ context.Context, _ *mcp.CallToolRequest, args statsArgs) (*mcp.CallToolResult, any, error) {
		return textResult(handleStats(args.Path, args.Seed))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graphdiff_compare",
		Description: "Compare a generated graph with the real dataset: edge, triangle, modularity and homophily differences.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":      {Type: "string", Description: "Path to the real dataset JSON file"},
				"generated": {Type: "string", Description: "Path to the generated graph, in the dataset format"},
				"seed":      seedSchema,
			},
			Required: []string{"path", "generated"},
		},
	}, func(_ context.Context, _ *mcp.CallToolRequest, args compareArgs) (*mcp.CallToolResult, any, error) {
		return textResult(handleCompare(args.Path, args.Generated, args.Seed))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graphdiff_checkpoints",
		Description: "List the saved checkpoints of the current run with their validation metrics.",
		InputSchema: streamSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args streamArgs) (*mcp.CallToolResult, any, error) {
		streams, err := parseStreams(args.Stream)
		if err != nil {
			return nil, nil, err
		}
		return textResult(handleCheckpoints(ctx, s.store, streams))
	})

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graphdiff_best",
		Description: "Show the best checkpoint of each stream.",
		InputSchema: streamSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args streamArgs) (*mcp.CallToolResult, any, error) {
		streams, err := parseStreams(args.Stream)
		if err != nil {
			return nil, nil, err
		}
		return textResult(handleBest(ctx, s.store, streams))
	})
}

func (s *Server) registerResources() {
	resources := []struct {
		resource *mcp.Resource
		read     func(ctx context.Context) (string, error)
	}{
		{
			resource: &mcp.Resource{
				URI:         "graphdiff://run",
				Name:        "Run Metadata",
				Description: "meta.json of the latest training run",
				MIMEType:    "application/json",
			},
			read: func(context.Context) (string, error) { return getRunMeta(s.runDir) },
		},
		{
			resource: &mcp.Resource{
				URI:         "graphdiff://overview",
				Name:        "Checkpoint Overview",
				Description: "Number of stored checkpoints and the best epoch per stream",
				MIMEType:    "text/plain",
			},
			read: func(ctx context.Context) (string, error) { return getOverview(ctx, s.store) },
		},
		{
			resource: &mcp.Resource{
				URI:         "graphdiff://schema",
				Name:        "Metrics Schema",
				Description: "Metric keys and checkpoint fields written during training",
				MIMEType:    "text/plain",
			},
			read: func(context.Context) (string, error) { return getSchema(), nil },
		},
	}

	for _, r := range resources {
		res, read := r.resource, r.read
		s.server.AddResource(res, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := read(ctx)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: res.URI, MIMEType: res.MIMEType, Text: text}},
			}, nil
		})
	}
}

// textResult wraps a handler's markdown as tool output. A handler error
// becomes a tool error result.
func textResult(text string, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// Tool Handlers

func parseStreams(name string) ([]model.Stream, error) {
	if name == "" {
		return model.Streams, nil
	}
	s, err := model.ParseStream(name)
	if err != nil {
		return nil, err
	}
	return []model.Stream{s}, nil
}

func handleStats(path string, seed int64) (string, error) {
	if path == "" {
		return "", errors.New("no dataset path provided")
	}

	ev, err := evaluator.LoadFile(path, rand.New(rand.NewSource(seed)))
	if err != nil {
		return "", err
	}
	return FormatSummary(ev), nil
}

func handleCompare(path, generated string, seed int64) (string, error) {
	if path == "" || generated == "" {
		return "", errors.New("both the dataset path and the generated graph path are required")
	}

	ev, err := evaluator.LoadFile(path, rand.New(rand.NewSource(seed)))
	if err != nil {
		return "", err
	}
	r, err := ev.CompareFile(generated)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Generated vs Real: %s\n\n", ev.Kind))
	sb.WriteString("| Statistic | Real | Generated | Abs diff |\n")
	sb.WriteString("|-----------|------|-----------|----------|\n")
	sb.WriteString(fmt.Sprintf("| Edges | %d | %d | %d |\n", r.Real.NumEdges, r.Generated.NumEdges, r.EdgeDiff))
	sb.WriteString(fmt.Sprintf("| Triangles | %.0f | %.0f | %.0f |\n", r.Real.TriangleCount, r.Generated.TriangleCount, r.TriangleDiff))
	sb.WriteString(fmt.Sprintf("| Modularity | %.4f | %.4f | %.4f |\n", r.Real.Modularity, r.Generated.Modularity, r.ModularityDiff))
	sb.WriteString(fmt.Sprintf("| Homophily | %.4f | %.4f | %.4f |\n", r.Real.Homophily, r.Generated.Homophily, r.HomophilyDiff))
	return sb.String(), nil
}

// FormatSummary renders the real-graph statistics of an evaluator as
// markdown.
func FormatSummary(ev *evaluator.Evaluator) string {
	s := ev.Real

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Graph Statistics: %s\n\n", ev.Kind))
	sb.WriteString(fmt.Sprintf("**Nodes:** %d\n", s.NumNodes))
	sb.WriteString(fmt.Sprintf("**Edges:** %d\n", s.NumEdges))
	sb.WriteString(fmt.Sprintf("**Classes:** %d\n", s.NumClasses))
	if s.Sampled {
		sb.WriteString(fmt.Sprintf("**Triangles:** %.0f (estimated on %d sampled edges)\n", s.TriangleCount, s.SampledEdges))
	} else {
		sb.WriteString(fmt.Sprintf("**Triangles:** %.0f\n", s.TriangleCount))
	}
	sb.WriteString(fmt.Sprintf("**Communities:** %d (modularity %.4f)\n", s.Communities, s.Modularity))
	sb.WriteString(fmt.Sprintf("**Homophily:** %.4f\n", s.Homophily))
	return sb.String()
}

func handleCheckpoints(ctx context.Context, store CheckpointReader, streams []model.Stream) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Checkpoints\n\n")

	total := 0
	for _, stream := range streams {
		list, err := store.ListCheckpoints(ctx, stream.String())
		if err != nil {
			return "", err
		}
		total += len(list)

		sb.WriteString(fmt.Sprintf("### Stream %s (%d)\n\n", stream, len(list)))
		if len(list) == 0 {
			sb.WriteString("No checkpoints saved.\n\n")
			continue
		}
		sb.WriteString("| Epoch | NLL | log p0 | Denoise match |\n")
		sb.WriteString("|-------|-----|--------|---------------|\n")
		for _, c := range list {
			sb.WriteString(fmt.Sprintf("| %d | %.6f | %.6f | %.6f |\n", c.Epoch, c.NLL, c.LogP0, c.DenoiseMatch))
		}
		sb.WriteString("\n")
	}

	if total == 0 {
		sb.WriteString("Run `graphdiff train` to produce checkpoints.\n")
	}
	return sb.String(), nil
}

func handleBest(ctx context.Context, store CheckpointReader, streams []model.Stream) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Best Checkpoints\n\n")

	for _, stream := range streams {
		best, err := store.GetBest(ctx, stream.String())
		if errors.Is(err, storage.ErrNotFound) {
			sb.WriteString(fmt.Sprintf("- **%s**: none\n", stream))
			continue
		}
		if err != nil {
			return "", err
		}
		sb.WriteString(fmt.Sprintf("- **%s**: epoch %d, NLL %.6f (log p0 %.6f, denoise match %.6f)\n",
			stream, best.Epoch, best.NLL, best.LogP0, best.DenoiseMatch))
	}
	return sb.String(), nil
}

// Resource Handlers

func getRunMeta(dir string) (string, error) {
	info, err := runinfo.ReadMeta(dir)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func getOverview(ctx context.Context, store CheckpointReader) (string, error) {
	count, err := store.Count(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# graphdiff Checkpoint Overview\n\n")
	sb.WriteString(fmt.Sprintf("**Checkpoints:** %d\n\n", count))
	for _, stream := range model.Streams {
		best, err := store.GetBest(ctx, stream.String())
		switch {
		case errors.Is(err, storage.ErrNotFound):
			sb.WriteString(fmt.Sprintf("- %s: no best checkpoint\n", stream))
		case err != nil:
			return "", err
		default:
			sb.WriteString(fmt.Sprintf("- %s: best epoch %d, NLL %.6f\n", stream, best.Epoch, best.NLL))
		}
	}
	return sb.String(), nil
}

func getSchema() string {
	var sb strings.Builder
	sb.WriteString("# graphdiff Metrics Schema\n\n")
	sb.WriteString("## Metric Keys\n\n")
	sb.WriteString("| Key | Emitted | Meaning |\n")
	sb.WriteString("|-----|---------|---------|\n")
	sb.WriteString("| `<S>/loss` | every batch | training loss of stream S |\n")
	sb.WriteString("| `<S>/grad_norm` | every batch | pre-clip gradient norm of stream S |\n")
	sb.WriteString("| `<S>/val_nll` | every validation | validation NLL |\n")
	sb.WriteString("| `<S>/val_log_p0` | every validation | reconstruction term |\n")
	sb.WriteString("| `<S>/val_denoise_match` | every validation | denoising match term |\n")
	sb.WriteString("| `<S>/lr` | every validation | learning rate after the scheduler step |\n")
	sb.WriteString("\nS is `X` (node attributes) or `E` (edge types).\n")
	sb.WriteString("\n## Checkpoint Fields\n\n")
	sb.WriteString("| Field | Description |\n")
	sb.WriteString("|-------|-------------|\n")
	sb.WriteString("| `stream` | X or E |\n")
	sb.WriteString("| `epoch` | epoch the snapshot was taken after |\n")
	sb.WriteString("| `nll`, `log_p0`, `denoise_match` | validation metrics |\n")
	sb.WriteString("| `params` | parameter tensors by name |\n")
	sb.WriteString("| `saved_at` | write time |\n")
	return sb.String()
}
