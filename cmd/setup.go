package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

// SetupCmd configures MCP for various AI clients.
type SetupCmd struct {
	Dataset  string `required:"" short:"d" help:"Dataset whose checkpoints the server exposes"`
	Root     string `default:"." help:"Directory holding <dataset>_cpts"`
	Qwen     bool   `help:"Configure for Qwen CLI"`
	Claude   bool   `help:"Configure for Claude Code"`
	Cursor   bool   `help:"Configure for Cursor"`
	Local    bool   `help:"Create project-local configuration"`
	Global   bool   `help:"Create global configuration"`
	Format   string `help:"Output format (json|text)" enum:"json,text" default:"json"`
	FilePath string `help:"Custom file path for configuration"`
}

// clients maps a client name to its config directory and local file name.
var clients = map[string]struct {
	dir  string
	file string
}{
	"qwen":   {dir: ".qwen", file: "mcp.json"},
	"claude": {dir: ".claude", file: "settings.json"},
	"cursor": {dir: ".cursor", file: "mcp.json"},
}

// Run executes the setup command.
func (c *SetupCmd) Run() error {
	if c.Format != "json" && c.Format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Format)
	}
	if c.Dataset == "" {
		return fmt.Errorf("dataset required. Usage: graphdiff setup --dataset <name>")
	}

	if !c.Qwen && !c.Claude && !c.Cursor {
		return c.outputDefaultConfig()
	}

	if !c.Local && !c.Global {
		c.Local = true
	}

	for _, client := range []struct {
		name    string
		enabled bool
	}{
		{"qwen", c.Qwen},
		{"claude", c.Claude},
		{"cursor", c.Cursor},
	} {
		if !client.enabled {
			continue
		}
		if err := c.setupClient(client.name); err != nil {
			return err
		}
	}
	return nil
}

func (c *SetupCmd) outputDefaultConfig() error {
	config := generateServeConfig(c.Dataset, c.Root)

	if c.Format == "json" {
		jsonBytes, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Println("# Add this to your MCP client configuration:")
		fmt.Println()
		for key, value := range config {
			fmt.Printf("%s: %s\n", key, toJSON(value))
		}
	}

	return nil
}

func (c *SetupCmd) setupClient(client string) error {
	config := generateServeConfig(c.Dataset, c.Root)

	if c.Global {
		globalPath := getGlobalConfigPath(client)
		if err := writeConfig(globalPath, config, c.Format); err != nil {
			return err
		}
		color.Green("✓ Created global %s MCP config at %s", client, globalPath)
	}

	if c.Local {
		var localPath string
		if c.FilePath != "" {
			localPath = filepath.Join(c.FilePath, clients[client].file)
		} else {
			localPath = getLocalConfigPath(".", client)
		}
		if err := writeConfig(localPath, config, c.Format); err != nil {
			return err
		}
		color.Green("✓ Created local %s MCP config at %s", client, localPath)
	}

	return nil
}

// generateServeConfig returns the mcpServers entry launching
// `graphdiff serve` for one dataset.
func generateServeConfig(dataset, root string) map[string]any {
	args := []string{"serve", "--dataset", dataset}
	if root != "" && root != "." {
		args = append(args, "--root", root)
	}
	return map[string]any{
		"mcpServers": map[string]any{
			"graphdiff-" + dataset: map[string]any{
				"command": "graphdiff",
				"args":    args,
			},
		},
	}
}

// Path helpers

func getLocalConfigPath(basePath, client string) string {
	return filepath.Join(basePath, getClientConfigDir(client), "mcp.json")
}

func getGlobalConfigPath(client string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
	}
	return filepath.Join(homeDir, getClientConfigDir(client), "global", "mcp.json")
}

func getClientConfigDir(client string) string {
	if c, ok := clients[client]; ok {
		return c.dir
	}
	return ".qwen"
}

// Config writers

func writeConfig(configPath string, config map[string]any, format string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	var content []byte
	if format == "json" {
		var err error
		content, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		content = append(content, '\n')
	} else {
		var sb strings.Builder
		sb.WriteString("# MCP Configuration for graphdiff\n")
		sb.WriteString("# Generated by graphdiff setup\n\n")

		for key, value := range config {
			sb.WriteString(fmt.Sprintf("%s: %s\n", key, toJSON(value)))
		}
		content = []byte(sb.String())
	}

	if err := os.WriteFile(configPath, content, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
