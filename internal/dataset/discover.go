package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Entry is a dataset file found under a data directory.
type Entry struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the search root.
	RelPath string

	// Kind is read from the file's name field.
	Kind Kind

	NumNodes int
	NumEdges int

	// SHA256 fingerprints the file content.
	SHA256 string
}

// Directories never searched, in addition to .gitignore.
var defaultIgnorePatterns = []string{
	".git/",
	"*_cpts/",
	"node_modules/",
}

// Discover walks root and returns every JSON file whose name field is a
// recognized dataset kind. Paths ignored by root/.gitignore are skipped, as
// are files that are not dataset documents.
func Discover(root string) ([]Entry, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	patterns, err := loadGitignore(root)
	if err != nil {
		return nil, fmt.Errorf("reading .gitignore: %w", err)
	}
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	matcher := gitignore.NewMatcher(append(all, patterns...))

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		parts := strings.Split(relPath, string(filepath.Separator))
		if d.IsDir() {
			if matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Match(parts, false) || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}

		head, ok := readHeader(path)
		if !ok {
			return nil
		}
		kind, err := ParseKind(head.Name)
		if err != nil {
			return nil
		}

		sum, err := FileSHA256(path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:     path,
			RelPath:  relPath,
			Kind:     kind,
			NumNodes: head.NumNodes,
			NumEdges: len(head.Edges),
			SHA256:   sum,
		})
		return nil
	})
	return entries, err
}

// header is the part of a dataset document Discover reports on.
type header struct {
	Name     string   `json:"name"`
	NumNodes int      `json:"num_nodes"`
	Edges    [][2]int `json:"edges"`
}

func readHeader(path string) (header, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return header{}, false
	}
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return header{}, false
	}
	return h, true
}

// FileSHA256 returns the hex SHA-256 of a file.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}
