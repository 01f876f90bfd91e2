package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/services"
	"gopkg.in/yaml.v3"
)

var definitionPatterns = []string{"*.json", "*.yaml", "*.yml"}

// ReadDefinitions parses every JSON or YAML definition found in dir, in file name order.
func ReadDefinitions(dir string) (map[string]*models.WorkflowDefinition, []string, error) {
	var files []string

	for _, pattern := range definitionPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan definitions directory: %w", err)
		}

		files = append(files, matches...)
	}

	sort.Strings(files)

	parsed := make(map[string]*models.WorkflowDefinition, len(files))

	for _, path := range files {
		definition, err := readDefinition(path)
		if err != nil {
			return nil, nil, err
		}

		parsed[path] = definition
	}

	return parsed, files, nil
}

// LoadDefinitions registers every JSON or YAML definition found in dir.
// Definitions already registered are left untouched. It returns the number registered.
func LoadDefinitions(ctx context.Context, definitions *services.Definitions, dir string, logger *slog.Logger) (int, error) {
	parsed, files, err := ReadDefinitions(dir)
	if err != nil {
		return 0, err
	}

	loaded := 0

	for _, path := range files {
		definition := parsed[path]

		if _, err := definitions.Register(ctx, definition); err != nil {
			if services.IsConflictError(err) {
				logger.DebugContext(ctx, "Definition already registered", "definition_id", definition.ID, "path", path)

				continue
			}

			return loaded, fmt.Errorf("failed to register definition from %s: %w", path, err)
		}

		loaded++
	}

	logger.InfoContext(ctx, "Definitions loaded", "count", loaded, "path", dir)

	return loaded, nil
}

func readDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", path, err)
	}

	// YAML documents share the JSON field names, so they are normalized through JSON.
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var document map[string]any
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("failed to parse definition file %s: %w", path, err)
		}

		data, err = json.Marshal(document)
		if err != nil {
			return nil, fmt.Errorf("failed to convert definition file %s: %w", path, err)
		}
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to parse definition file %s: %w", path, err)
	}

	return &definition, nil
}
