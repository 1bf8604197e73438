package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/safesh-dev/safesh/pkg/safesh/errtax"
)

// MCPArgs are the final-merge overrides supplied by the MCP initialization
// handshake (§4.5 item 5).
type MCPArgs struct {
	ProjectDir           string
	Cwd                  string
	AllowProjectCommands bool
	BlockProjectDirWrite bool
}

// Loaded is the result of a successful or partially-successful Load.
type Loaded struct {
	Config Config
	Issues []ValidationIssue
}

// Load performs the layered load described in §6: DEFAULT_CONFIG →
// global → project → local → MCP args. Each layer is optional; a
// document's own `preset` field, when present, re-bases that layer's
// contribution before it is folded into the accumulator. Returns a
// CONFIG_ERROR when a present layer file cannot be parsed, or when
// validation produced a fatal issue and the effective config does not
// set SkipValidation.
func Load(home, cwd string, mcp *MCPArgs, logger *slog.Logger) (*Loaded, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config_loader")

	loadEnvFiles(cwd)

	acc := DefaultConfig()

	if doc, ok, err := loadLayer(filepath.Join(home, ".config", "safesh")); err != nil {
		return nil, errtax.ConfigErrorErr(fmt.Sprintf("loading global config: %v", err))
	} else if ok {
		acc = foldLayer(acc, doc)
		logger.Debug("loaded global config")
	}

	if doc, ok, err := loadLayer(filepath.Join(cwd, ".config", "safesh")); err != nil {
		return nil, errtax.ConfigErrorErr(fmt.Sprintf("loading project config: %v", err))
	} else if ok {
		acc = foldLayer(acc, doc)
		logger.Debug("loaded project config")
	}

	if doc, ok, err := loadLocalLayer(cwd); err != nil {
		return nil, errtax.ConfigErrorErr(fmt.Sprintf("loading local config: %v", err))
	} else if ok {
		acc = foldLayer(acc, doc)
		logger.Debug("loaded local allow-list config")
	}

	if mcp != nil {
		acc.ProjectDir = override(acc.ProjectDir, mcp.ProjectDir)
		acc.AllowProjectCommands = mcp.AllowProjectCommands
		acc.BlockProjectDirWrite = mcp.BlockProjectDirWrite
		if mcp.Cwd != "" {
			cwd = mcp.Cwd
		}
	}

	if acc.Workspace != "" {
		acc.Workspace = mustAbs(acc.Workspace, cwd)
	}
	if acc.ProjectDir != "" {
		acc.ProjectDir = mustAbs(acc.ProjectDir, cwd)
	}

	issues := Validate(acc)
	if HasFatal(issues) && !acc.SkipValidation {
		for _, iss := range issues {
			if iss.Fatal {
				logger.Error("config validation failed", "issue", iss.Message)
			}
		}
		return &Loaded{Config: acc, Issues: issues}, errtax.ConfigErrorErr("config validation failed: " + issues[0].Message)
	}
	for _, iss := range issues {
		if !iss.Fatal {
			logger.Warn("config validation warning", "issue", iss.Message)
		}
	}

	return &Loaded{Config: acc, Issues: issues}, nil
}

// LoadExplicitFile reads a single JSON or YAML config document at path
// (the CLI's `-c <configFile>` flag, §6) and folds it over the result
// of Load using the same preset re-basing rule as the layered search.
func LoadExplicitFile(path string, loaded Loaded) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errtax.ConfigErrorErr(fmt.Sprintf("reading %s: %v", path, err))
	}

	var doc Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return Config{}, errtax.ConfigErrorErr(fmt.Sprintf("parsing %s: %v", path, err))
		}
	default:
		if err := json.Unmarshal(b, &doc); err != nil {
			return Config{}, errtax.ConfigErrorErr(fmt.Sprintf("parsing %s: %v", path, err))
		}
	}

	return foldLayer(loaded.Config, doc), nil
}

// foldLayer re-bases the layer on its own declared preset (if any)
// before merging it into acc, per §4.5: "if the loaded document
// declares preset, it is used as the base for that level's merge
// instead of the running accumulator."
func foldLayer(acc, doc Config) Config {
	base := acc
	if doc.Preset != "" {
		base = PresetBase(doc.Preset)
	}
	return Merge(base, doc)
}

// loadLayer looks for config.json then config.yaml/.yml in dir. JSON
// wins when both exist (§6).
func loadLayer(dir string) (Config, bool, error) {
	jsonPath := filepath.Join(dir, "config.json")
	if b, err := os.ReadFile(jsonPath); err == nil {
		var cfg Config
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, false, fmt.Errorf("parsing %s: %w", jsonPath, err)
		}
		return cfg, true, nil
	}

	for _, ext := range []string{"yaml", "yml"} {
		p := filepath.Join(dir, "config."+ext)
		if b, err := os.ReadFile(p); err == nil {
			var cfg Config
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, false, fmt.Errorf("parsing %s: %w", p, err)
			}
			return cfg, true, nil
		}
	}

	return Config{}, false, nil
}

// localAllowedCommand is one entry of the local JSON allow-list's
// compact form (§6).
type localAllowedCommand struct {
	Name        string   `json:"name,omitempty"`
	Path        string   `json:"path,omitempty"`
	Command     string   `json:"command,omitempty"`
	Subcommands []string `json:"subcommands,omitempty"`
	Flags       []string `json:"flags,omitempty"`
}

// localDoc is the on-disk shape of config.local.json.
type localDoc struct {
	AllowedCommands []localAllowedCommand `json:"allowedCommands"`
}

// loadLocalLayer reads config.local.json and expands each allowedCommands
// entry into a run entry plus an external policy. A bare string cannot
// unmarshal into localAllowedCommand, so entries are decoded one at a
// time to support the `"cargo"` shorthand form alongside the object forms.
func loadLocalLayer(cwd string) (Config, bool, error) {
	path := LocalConfigPath(cwd)
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, false, nil
	}

	var raw struct {
		AllowedCommands []json.RawMessage `json:"allowedCommands"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Config{}, false, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := Config{External: map[string]CommandPolicy{}}
	for _, item := range raw.AllowedCommands {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			cfg.Permissions.Run = append(cfg.Permissions.Run, name)
			cfg.External[name] = CommandPolicy{AllowAll: true}
			continue
		}

		var obj localAllowedCommand
		if err := json.Unmarshal(item, &obj); err != nil {
			return Config{}, false, fmt.Errorf("parsing %s: invalid allowedCommands entry: %w", path, err)
		}

		name := obj.Name
		if name == "" {
			name = obj.Command
		}
		cfg.Permissions.Run = append(cfg.Permissions.Run, name)
		pol := CommandPolicy{}
		if len(obj.Subcommands) > 0 {
			pol.Allow = obj.Subcommands
		} else {
			pol.AllowAll = true
		}
		cfg.External[name] = pol
	}

	return cfg, true, nil
}

// LocalConfigPath returns the path of the machine-writable local
// allow-list file for cwd.
func LocalConfigPath(cwd string) string {
	return filepath.Join(cwd, ".config", "safesh", "config.local.json")
}

// SaveToLocalJson idempotently merges commands into the local JSON
// file's allowedCommands, creating the directory if missing. This is the
// only path by which session-granted "always allow" persists (§4.5).
func SaveToLocalJson(cwd string, commands []string) error {
	path := LocalConfigPath(cwd)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating local config dir: %w", err)
	}

	var doc struct {
		AllowedCommands []json.RawMessage `json:"allowedCommands"`
	}
	if b, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(b, &doc)
	}

	existing := make(map[string]bool, len(doc.AllowedCommands))
	for _, item := range doc.AllowedCommands {
		var key string
		if json.Unmarshal(item, &key) != nil {
			var c localAllowedCommand
			_ = json.Unmarshal(item, &c)
			key = c.Name
			if key == "" {
				key = c.Command
			}
		}
		existing[key] = true
	}

	for _, name := range commands {
		if existing[name] {
			continue
		}
		entry, _ := json.Marshal(localAllowedCommand{Name: name})
		doc.AllowedCommands = append(doc.AllowedCommands, entry)
		existing[name] = true
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling local config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing local config: %w", err)
	}
	return os.Rename(tmp, path)
}

func loadEnvFiles(cwd string) {
	_ = godotenv.Load(filepath.Join(cwd, ".env"))
}

func mustAbs(path, cwd string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(cwd, path))
}
