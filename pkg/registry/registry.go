// Package registry maps pipeline stages to their step handlers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/dukex/coursepipe/pkg/models"
	"github.com/dukex/coursepipe/pkg/protocol"
)

var (
	ErrHandlerAlreadyRegistered = errors.New("step handler already registered")
	ErrMissingHandlers          = errors.New("stages without a step handler")
)

// Registry is built once at startup and handed to the executor.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.Stage]protocol.StepHandler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		handlers: make(map[models.Stage]protocol.StepHandler),
	}
}

// Register adds a handler for its stage. Registering a second handler for
// the same stage fails unless Replace is used.
func (r *Registry) Register(handler protocol.StepHandler) error {
	stage := handler.Stage()
	if !stage.Valid() || stage == models.StageIngest {
		return fmt.Errorf("%w: %q", models.ErrUnknownStage, stage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[stage]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, stage)
	}

	r.handlers[stage] = handler

	return nil
}

// Replace registers handler, overriding any previous handler of its stage.
func (r *Registry) Replace(handler protocol.StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[handler.Stage()] = handler
}

// Handler returns the handler of a stage.
func (r *Registry) Handler(stage models.Stage) (protocol.StepHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[stage]

	return handler, ok
}

// Missing lists the run stages that have no handler, in stage order.
func (r *Registry) Missing() []models.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []models.Stage

	for _, stage := range models.Stages() {
		if _, ok := r.handlers[stage]; !ok {
			missing = append(missing, stage)
		}
	}

	return missing
}

// Validate fails when any run stage lacks a handler.
func (r *Registry) Validate() error {
	if missing := r.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingHandlers, missing)
	}

	return nil
}

// HealthCheck reports the same error as Validate.
func (r *Registry) HealthCheck(_ context.Context) error {
	return r.Validate()
}

// LoadHandlerPlugins opens every *.so file under <pluginsPath>/handlers and
// registers its exported "Handler" symbol, replacing built-in handlers of the
// same stage.
func (r *Registry) LoadHandlerPlugins(pluginsPath string) error {
	handlers, err := loadPlugin[protocol.StepHandler](r.logger, pluginsPath, "Handler")
	if err != nil {
		return err
	}

	for _, handler := range handlers {
		if !handler.Stage().Valid() {
			return fmt.Errorf("%w: %q", models.ErrUnknownStage, handler.Stage())
		}

		r.Replace(handler)
	}

	return nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, "handlers")

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no %s symbol: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			// Exported variables are looked up as pointers.
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: %s has unexpected type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded handler plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
