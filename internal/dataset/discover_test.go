package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	testFiles := map[string]string{
		"cora.json":                      `{"name":"cora","num_nodes":3,"edges":[[0,1],[1,0],[1,2]]}`,
		"planetoid/citeseer.json":        `{"name":"citeseer","num_nodes":2}`,
		"planetoid/planetoid_cora.json":  `{"name":"cora","num_nodes":5,"edges":[[0,4]]}`,
		"amazon/amazon_photo.json":       `{"name":"amazon_photo"}`,
		"amazon/amazon_computer.json":    `{"name":"pubmed"}`,
		"amazon/unknown.json":            `{}`,
		"amazon/notes.txt":               "x",
		"broken/citeseer.json":           "not json",
		"scratch/cora.json":              `{"name":"cora"}`,
		"cora_cpts/amazon_computer.json": `{"name":"amazon_computer"}`,
		".gitignore":                     "scratch/\n",
	}
	for path, content := range testFiles {
		fullPath := filepath.Join(tmpDir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644))
	}

	entries, err := Discover(tmpDir)
	require.NoError(t, err)

	var rel []string
	byPath := make(map[string]Entry)
	for _, e := range entries {
		rel = append(rel, e.RelPath)
		byPath[e.RelPath] = e
		assert.True(t, filepath.IsAbs(e.Path))
	}
	sort.Strings(rel)

	assert.Equal(t, []string{
		filepath.Join("amazon", "amazon_photo.json"),
		"cora.json",
		filepath.Join("planetoid", "citeseer.json"),
		filepath.Join("planetoid", "planetoid_cora.json"),
	}, rel)

	cora := byPath["cora.json"]
	assert.Equal(t, Cora, cora.Kind)
	assert.Equal(t, 3, cora.NumNodes)
	assert.Equal(t, 3, cora.NumEdges)
	assert.Equal(t, AmazonPhoto, byPath[filepath.Join("amazon", "amazon_photo.json")].Kind)

	t.Run("KindFromContentNotFileName", func(t *testing.T) {
		e := byPath[filepath.Join("planetoid", "planetoid_cora.json")]
		assert.Equal(t, Cora, e.Kind)
		assert.Equal(t, 5, e.NumNodes)
		assert.Equal(t, 1, e.NumEdges)

		assert.NotContains(t, byPath, filepath.Join("amazon", "amazon_computer.json"))
		assert.NotContains(t, byPath, filepath.Join("broken", "citeseer.json"))
	})

	t.Run("Fingerprint", func(t *testing.T) {
		want := sha256.Sum256([]byte(testFiles["cora.json"]))
		got, err := FileSHA256(filepath.Join(tmpDir, "cora.json"))
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(want[:]), got)
	})

	t.Run("MissingRoot", func(t *testing.T) {
		_, err := Discover(filepath.Join(tmpDir, "nope"))
		assert.Error(t, err)
	})
}
