package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/chatmesh/core"
)

// definition mirrors the raw on-disk entity document. Pointer fields
// distinguish "absent" from zero so defaults apply only when omitted.
type definition struct {
	Name         string   `json:"name" yaml:"name"`
	Handle       string   `json:"handle" yaml:"handle"`
	Description  string   `json:"description" yaml:"description"`
	Instructions string   `json:"instructions" yaml:"instructions"`
	Model        string   `json:"model" yaml:"model"`
	Temperature  *float64 `json:"temperature" yaml:"temperature"`
	APIURL       string   `json:"api_url" yaml:"api_url"`
	APIKey       string   `json:"api_key" yaml:"api_key"`
	Avatar       string   `json:"avatar" yaml:"avatar"`
}

var supportedExtensions = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// parseFile reads and validates a single definition file.
func parseFile(path string) (core.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Entity{}, core.NewConfigError(filepath.Base(path), "read failed: %v", err)
	}

	var def definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &def)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &def)
	default:
		return core.Entity{}, core.NewConfigError(filepath.Base(path), "unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return core.Entity{}, core.NewConfigError(filepath.Base(path), "parse failed: %v", err)
	}

	return validate(filepath.Base(path), def)
}

// validate applies defaults and enforces the load-time invariants. All checks
// happen here so call time never has to revisit them.
func validate(file string, def definition) (core.Entity, error) {
	handle := strings.ToLower(strings.TrimSpace(def.Handle))
	if handle == "" {
		return core.Entity{}, core.NewConfigError(file, "handle is required")
	}
	if strings.ContainsAny(handle, " \t\n") {
		return core.Entity{}, core.NewConfigError(file, "handle %q must not contain whitespace", handle)
	}

	name := strings.TrimSpace(def.Name)
	if name == "" {
		name = handle
	}

	temperature := core.DefaultTemperature
	if def.Temperature != nil {
		temperature = *def.Temperature
		if temperature < 0 || temperature > 2 {
			return core.Entity{}, core.NewConfigError(file, "temperature %v out of range [0, 2]", temperature)
		}
	}

	if def.APIURL != "" && !strings.HasPrefix(def.APIURL, "http://") && !strings.HasPrefix(def.APIURL, "https://") {
		return core.Entity{}, core.NewConfigError(file, "api_url %q must start with http:// or https://", def.APIURL)
	}

	modelName := strings.TrimSpace(def.Model)
	if modelName == "" {
		modelName = core.DefaultModel
	}

	return core.Entity{
		Handle:       handle,
		Name:         name,
		Description:  def.Description,
		Instructions: def.Instructions,
		Model:        modelName,
		Temperature:  temperature,
		APIURL:       def.APIURL,
		APIKey:       def.APIKey,
		Avatar:       def.Avatar,
	}, nil
}

// LoadIssue reports one skipped definition file and the reason.
type LoadIssue struct {
	File string
	Err  error
}

// Load parses all definition files in dir, validating each independently.
// It returns the resulting snapshot plus a report of skipped files. Duplicate
// handles across files resolve first-loaded-wins (lexical file order); the
// later duplicate is reported, not silently overwritten. The error return
// covers only an unreadable directory.
func Load(dir string) (*core.Snapshot, []LoadIssue, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read entity directory: %w", err)
	}

	var entities []core.Entity
	var issues []LoadIssue
	seen := make(map[string]string) // handle -> file that claimed it

	for _, de := range dirEntries {
		if de.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(de.Name()))] {
			continue
		}
		path := filepath.Join(dir, de.Name())
		entity, err := parseFile(path)
		if err != nil {
			issues = append(issues, LoadIssue{File: de.Name(), Err: err})
			continue
		}
		if first, dup := seen[entity.Handle]; dup {
			issues = append(issues, LoadIssue{
				File: de.Name(),
				Err:  core.NewConfigError(de.Name(), "duplicate handle %q already loaded from %s", entity.Handle, first),
			})
			continue
		}
		seen[entity.Handle] = de.Name()
		entities = append(entities, entity)
	}

	return core.NewSnapshot(entities), issues, nil
}
