package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/coursepipe/pkg/registry"
)

// NewRegistry registers the built-in stage handlers and then any plugin
// overrides found under pluginsPath.
func NewRegistry(logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	if err := reg.RegisterDefaultHandlers(); err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}

	if pluginsPath != "" {
		if err := reg.LoadHandlerPlugins(pluginsPath); err != nil {
			return nil, fmt.Errorf("failed to load handler plugins: %w", err)
		}
	}

	if err := reg.Validate(); err != nil {
		return nil, err
	}

	return reg, nil
}
