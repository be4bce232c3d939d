// Package templates provides embedded configuration templates for corral.
package templates

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/corral-sh/corral/internal/config"
)

// maxExtendsDepth limits inheritance chain depth to prevent infinite loops.
const maxExtendsDepth = 10

// isPath returns true if the extends value looks like a file path rather
// than a template name.
func isPath(s string) bool {
	return strings.ContainsAny(s, "/\\") || strings.HasPrefix(s, ".")
}

//go:embed *.json
var templatesFS embed.FS

// Template represents a named configuration template.
type Template struct {
	Name        string
	Description string
}

var templateDescriptions = map[string]string{
	"locked-down": "No safe zones beyond defaults, no SSH, strictest command policy",
	"home":        "Write access to the conventional user directories",
	"dev":         "Home zones plus a workspace-centric policy for development",
	"ops":         "SSH to allowlisted hosts with a read-mostly remote command set",
}

// List returns all available template names sorted alphabetically.
func List() []Template {
	entries, err := templatesFS.ReadDir(".")
	if err != nil {
		return nil
	}

	var templates []Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		desc := templateDescriptions[name]
		if desc == "" {
			desc = "No description available"
		}
		templates = append(templates, Template{Name: name, Description: desc})
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates
}

// Load loads a template by name and returns the parsed config. If the
// template uses "extends", the inheritance chain is resolved.
func Load(name string) (*config.Config, error) {
	return loadWithDepth(name, 0, nil)
}

func loadWithDepth(name string, depth int, seen map[string]bool) (*config.Config, error) {
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("extends chain too deep (max %d)", maxExtendsDepth)
	}

	name = strings.TrimSuffix(name, ".json")

	if seen == nil {
		seen = make(map[string]bool)
	}
	if seen[name] {
		return nil, fmt.Errorf("circular extends detected: %q", name)
	}
	seen[name] = true

	data, err := templatesFS.ReadFile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("template %q not found", name)
	}

	var cfg config.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
	}

	if cfg.Extends != "" {
		baseCfg, err := loadWithDepth(cfg.Extends, depth+1, seen)
		if err != nil {
			return nil, fmt.Errorf("failed to load base template %q: %w", cfg.Extends, err)
		}
		return config.Merge(baseCfg, &cfg), nil
	}

	return &cfg, nil
}

// Exists checks if a template with the given name exists.
func Exists(name string) bool {
	name = strings.TrimSuffix(name, ".json")
	_, err := templatesFS.ReadFile(name + ".json")
	return err == nil
}

// ResolveExtends resolves the extends field in a config by loading and
// merging the base template or config file. Relative paths resolve
// against the current working directory.
func ResolveExtends(cfg *config.Config) (*config.Config, error) {
	return ResolveExtendsWithBaseDir(cfg, "")
}

// ResolveExtendsWithBaseDir resolves the extends field in a config. The
// extends value can be a template name, an absolute path, or a relative
// path (detected by a separator or leading "."); relative paths resolve
// against baseDir when given.
func ResolveExtendsWithBaseDir(cfg *config.Config, baseDir string) (*config.Config, error) {
	if cfg == nil || cfg.Extends == "" {
		return cfg, nil
	}
	return resolveExtendsWithDepth(cfg, baseDir, 0, nil)
}

func resolveExtendsWithDepth(cfg *config.Config, baseDir string, depth int, seen map[string]bool) (*config.Config, error) {
	if cfg == nil || cfg.Extends == "" {
		return cfg, nil
	}
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("extends chain too deep (max %d)", maxExtendsDepth)
	}
	if seen == nil {
		seen = make(map[string]bool)
	}

	var baseCfg *config.Config
	var newBaseDir string
	var err error

	if isPath(cfg.Extends) {
		baseCfg, newBaseDir, err = loadConfigFile(cfg.Extends, baseDir, seen)
	} else {
		baseCfg, err = loadWithDepth(cfg.Extends, depth+1, seen)
		newBaseDir = ""
	}
	if err != nil {
		return nil, err
	}

	if baseCfg.Extends != "" {
		baseCfg, err = resolveExtendsWithDepth(baseCfg, newBaseDir, depth+1, seen)
		if err != nil {
			return nil, err
		}
	}

	return config.Merge(baseCfg, cfg), nil
}

// loadConfigFile loads a config from a file path with cycle detection.
// It returns the config and the file's directory for resolving nested
// relative extends.
func loadConfigFile(path, baseDir string, seen map[string]bool) (*config.Config, string, error) {
	var resolvedPath string
	switch {
	case filepath.IsAbs(path):
		resolvedPath = path
	case baseDir != "":
		resolvedPath = filepath.Join(baseDir, path)
	default:
		var err error
		resolvedPath, err = filepath.Abs(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve path %q: %w", path, err)
		}
	}

	resolvedPath = filepath.Clean(resolvedPath)

	if seen[resolvedPath] {
		return nil, "", fmt.Errorf("circular extends detected: %q", path)
	}
	seen[resolvedPath] = true

	data, err := os.ReadFile(resolvedPath) //nolint:gosec // user-provided config path - intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("extends file not found: %q", path)
		}
		return nil, "", fmt.Errorf("failed to read extends file %q: %w", path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, "", fmt.Errorf("extends file is empty: %q", path)
	}

	var cfg config.Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, "", fmt.Errorf("invalid JSON in extends file %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration in extends file %q: %w", path, err)
	}

	return &cfg, filepath.Dir(resolvedPath), nil
}
