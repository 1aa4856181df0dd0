package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/graphdiff/internal/dataset"
	"github.com/Benny93/graphdiff/internal/runinfo"
	"github.com/Benny93/graphdiff/internal/storage"
)

func newTestStore(t *testing.T) *storage.MemoryBackend {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	require.NoError(t, store.Initialize("", false))

	for epoch, nll := range []float64{3.0, 2.5, 2.75} {
		require.NoError(t, store.SaveCheckpoint(ctx, &storage.Checkpoint{
			Stream: "X", Epoch: epoch, NLL: nll, LogP0: nll - 1, DenoiseMatch: 1,
			Params: map[string][]float64{"x.logits": {0.1, 0.2}},
		}))
	}
	require.NoError(t, store.SetBest(ctx, "X", 1))
	return store
}

func writeDataset(t *testing.T, file string, edges ...[2]int) string {
	t.Helper()
	raw := dataset.Raw{
		Name:     "amazon_photo",
		NumNodes: 4,
		Edges:    edges,
		Features: [][]int{{1, 0}, {1, 1}, {0, 1}, {0, 0}},
		Labels:   []int{0, 0, 1, 1},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), file)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// connect starts a session between s and an in-memory client.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := s.server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

// callTool returns the text of a tool result and whether it is a tool error.
func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text, res.IsError
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	t.Run("CreatesServer", func(t *testing.T) {
		server := NewServer(storage.NewMemoryBackend(), t.TempDir())

		assert.NotNil(t, server)
		assert.NotNil(t, server.store)
		assert.NotNil(t, server.server)
	})
}

func TestServer_Tools(t *testing.T) {
	t.Parallel()

	cs := connect(t, NewServer(newTestStore(t), t.TempDir()))

	t.Run("ListTools", func(t *testing.T) {
		res, err := cs.ListTools(context.Background(), nil)
		require.NoError(t, err)

		toolNames := make(map[string]bool)
		for _, tool := range res.Tools {
			toolNames[tool.Name] = true
			assert.NotEmpty(t, tool.Description)
			assert.NotNil(t, tool.InputSchema)
		}

		for _, expected := range []string{"graphdiff_stats", "graphdiff_compare", "graphdiff_checkpoints", "graphdiff_best"} {
			assert.True(t, toolNames[expected], "Should have tool: %s", expected)
		}
	})
}

func TestServer_HandleToolCalls(t *testing.T) {
	t.Parallel()

	cs := connect(t, NewServer(newTestStore(t), t.TempDir()))
	triangle := writeDataset(t, "photo.json", [2]int{0, 1}, [2]int{1, 0}, [2]int{1, 2}, [2]int{2, 1}, [2]int{0, 2}, [2]int{2, 0}, [2]int{2, 3}, [2]int{3, 2})
	generated := writeDataset(t, "generated.json", [2]int{0, 1}, [2]int{1, 0}, [2]int{2, 3}, [2]int{3, 2})

	t.Run("Stats", func(t *testing.T) {
		text, isErr := callTool(t, cs, "graphdiff_stats", map[string]any{"path": triangle, "seed": 3})
		require.False(t, isErr, text)
		assert.Contains(t, text, "Graph Statistics: amazon_photo")
		assert.Contains(t, text, "**Nodes:** 4")
		assert.Contains(t, text, "**Edges:** 8")
		assert.Contains(t, text, "**Triangles:** 1")
		assert.Contains(t, text, "**Communities:**")
	})

	t.Run("StatsEmptyPath", func(t *testing.T) {
		text, isErr := callTool(t, cs, "graphdiff_stats", map[string]any{"path": ""})
		assert.True(t, isErr)
		assert.Contains(t, text, "no dataset path provided")
	})

	t.Run("StatsUnreadable", func(t *testing.T) {
		_, isErr := callTool(t, cs, "graphdiff_stats", map[string]any{
			"path": filepath.Join(t.TempDir(), "missing.json"),
		})
		assert.True(t, isErr)
	})

	t.Run("Compare", func(t *testing.T) {
		text, isErr := callTool(t, cs, "graphdiff_compare", map[string]any{"path": triangle, "generated": generated})
		require.False(t, isErr, text)
		assert.Contains(t, text, "Generated vs Real: amazon_photo")
		assert.Contains(t, text, "| Edges | 8 | 4 | 4 |")
		assert.Contains(t, text, "| Triangles | 1 | 0 | 1 |")
	})

	t.Run("CompareMissingGenerated", func(t *testing.T) {
		_, isErr := callTool(t, cs, "graphdiff_compare", map[string]any{
			"path":      triangle,
			"generated": filepath.Join(t.TempDir(), "missing.json"),
		})
		assert.True(t, isErr)
	})

	t.Run("Checkpoints", func(t *testing.T) {
		text, isErr := callTool(t, cs, "graphdiff_checkpoints", map[string]any{})
		require.False(t, isErr, text)
		assert.Contains(t, text, "Stream X (3)")
		assert.Contains(t, text, "Stream E (0)")
		assert.Contains(t, text, "| 1 | 2.500000 |")
	})

	t.Run("CheckpointsOneStream", func(t *testing.T) {
		text, isErr := callTool(t, cs, "graphdiff_checkpoints", map[string]any{"stream": "E"})
		require.False(t, isErr, text)
		assert.NotContains(t, text, "Stream X")
		assert.Contains(t, text, "graphdiff train")
	})

	t.Run("BadStream", func(t *testing.T) {
		_, isErr := callTool(t, cs, "graphdiff_best", map[string]any{"stream": "Y"})
		assert.True(t, isErr)
	})

	t.Run("Best", func(t *testing.T) {
		text, isErr := callTool(t, cs, "graphdiff_best", map[string]any{})
		require.False(t, isErr, text)
		assert.Contains(t, text, "**X**: epoch 1, NLL 2.500000")
		assert.Contains(t, text, "**E**: none")
	})

	t.Run("UnknownTool", func(t *testing.T) {
		_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "unknown_tool", Arguments: map[string]any{}})
		assert.Error(t, err)
	})
}

func TestServer_Resources(t *testing.T) {
	t.Parallel()

	cs := connect(t, NewServer(newTestStore(t), t.TempDir()))

	t.Run("ListResources", func(t *testing.T) {
		res, err := cs.ListResources(context.Background(), nil)
		require.NoError(t, err)

		resourceURIs := make(map[string]bool)
		for _, r := range res.Resources {
			resourceURIs[r.URI] = true
			assert.NotEmpty(t, r.Name)
			assert.NotEmpty(t, r.Description)
			assert.NotEmpty(t, r.MIMEType)
		}

		for _, expected := range []string{"graphdiff://run", "graphdiff://overview", "graphdiff://schema"} {
			assert.True(t, resourceURIs[expected], "Should have resource: %s", expected)
		}
	})
}

func TestServer_HandleResourceReads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	info := runinfo.New("cora", 100, 50, dir)
	require.NoError(t, info.WriteMeta(dir))

	cs := connect(t, NewServer(newTestStore(t), dir))

	read := func(t *testing.T, cs *mcp.ClientSession, uri string) (*mcp.ResourceContents, error) {
		t.Helper()
		res, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
		if err != nil {
			return nil, err
		}
		require.Len(t, res.Contents, 1)
		return res.Contents[0], nil
	}

	t.Run("ReadRun", func(t *testing.T) {
		content, err := read(t, cs, "graphdiff://run")
		require.NoError(t, err)
		assert.Equal(t, "application/json", content.MIMEType)
		assert.Contains(t, content.Text, info.ID)
		assert.Contains(t, content.Text, "cora-Async")
	})

	t.Run("ReadRunWithoutMeta", func(t *testing.T) {
		empty := connect(t, NewServer(newTestStore(t), t.TempDir()))
		_, err := read(t, empty, "graphdiff://run")
		assert.Error(t, err)
	})

	t.Run("ReadOverview", func(t *testing.T) {
		content, err := read(t, cs, "graphdiff://overview")
		require.NoError(t, err)
		assert.Contains(t, content.Text, "**Checkpoints:** 3")
		assert.Contains(t, content.Text, "X: best epoch 1")
		assert.Contains(t, content.Text, "E: no best checkpoint")
	})

	t.Run("ReadSchema", func(t *testing.T) {
		content, err := read(t, cs, "graphdiff://schema")
		require.NoError(t, err)
		assert.Equal(t, "text/plain", content.MIMEType)
		assert.Contains(t, content.Text, "val_nll")
		assert.Contains(t, content.Text, "denoise_match")
	})

	t.Run("ReadUnknownResource", func(t *testing.T) {
		_, err := read(t, cs, "graphdiff://unknown")
		assert.Error(t, err)
	})
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	t.Run("ServesUntilCancelled", func(t *testing.T) {
		server := NewServer(newTestStore(t), t.TempDir())
		clientTransport, serverTransport := mcp.NewInMemoryTransports()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- server.Run(ctx, serverTransport) }()

		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
		cs, err := client.Connect(context.Background(), clientTransport, nil)
		require.NoError(t, err)
		defer cs.Close()

		text, isErr := callTool(t, cs, "graphdiff_best", map[string]any{"stream": "X"})
		require.False(t, isErr, text)
		assert.Contains(t, text, "epoch 1")

		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})
}
