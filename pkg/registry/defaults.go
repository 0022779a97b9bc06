package registry

import (
	"github.com/dukex/coursepipe/pkg/handlers"
)

// RegisterDefaultHandlers registers the built-in handler of every run stage.
func (r *Registry) RegisterDefaultHandlers() error {
	defaults, err := handlers.Defaults()
	if err != nil {
		return err
	}

	for _, handler := range defaults {
		if err := r.Register(handler); err != nil {
			return err
		}
	}

	return nil
}
