// Package template provides templating for notification messages and action payloads.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/procflow/pkg/models"
)

// InstanceData builds the template scope for an instance: the data bag at the
// top level plus an "instance" key describing the instance itself.
func InstanceData(instance *models.WorkflowInstance) map[string]any {
	scope := maps.Clone(instance.Data)
	if scope == nil {
		scope = make(map[string]any)
	}

	scope["instance"] = map[string]any{
		"id":              instance.ID,
		"definition_id":   instance.DefinitionID,
		"entity_type":     instance.EntityType,
		"entity_id":       instance.EntityID,
		"current_step_id": instance.CurrentStepID,
		"started_by":      instance.StartedBy,
		"status":          string(instance.Status),
	}

	return scope
}

// InterpolateInstance renders templateStr against the instance scope.
func InterpolateInstance(templateStr string, instance *models.WorkflowInstance) (string, error) {
	return Interpolate(templateStr, InstanceData(instance))
}

// RenderWithInstance renders templateStr against the instance scope and decodes the result.
func RenderWithInstance(templateStr string, instance *models.WorkflowInstance) (any, error) {
	return Render(templateStr, InstanceData(instance))
}

// Interpolate renders templateStr and returns the text as is.
func Interpolate(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// Render renders templateStr and decodes JSON, numbers and booleans from the output.
func Render(templateStr string, data any) (any, error) {
	result, err := Interpolate(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func parse(templateStr string) (*template.Template, error) {
	tmpl, err := template.
		New("procflow").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
			"default": func(fallback, value any) any {
				if value == nil || value == "" {
					return fallback
				}

				return value
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	return tmpl, nil
}
