// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"

	"github.com/dukex/procflow/pkg/registry"
)

// NewRegistry creates an action registry holding the native actions.
func NewRegistry(log *slog.Logger, client *http.Client) *registry.Registry {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultActions(client)

	return reg
}
