package runtime

import (
	"fmt"
	"sort"
	"strings"

	"Instruct/internal/config"
)

// Registry maps backend keys to factories loading models.
type Registry map[string]ModelFactory

// ModelFactory loads a model instance from configuration.
type ModelFactory func(config.ModelConfig) (Model, error)

// Names lists the registered backends in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open resolves the configured backend and loads the model.
func Open(cfg config.ModelConfig, registry Registry) (Model, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	if backend == "" {
		backend = config.DefaultBackend
	}

	factory, ok := registry[backend]
	if !ok {
		return nil, fmt.Errorf("runtime: backend %q not registered (have %s)", backend, strings.Join(registry.Names(), ", "))
	}

	model, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if model.ContextSize() <= 0 {
		model.Close()
		return nil, fmt.Errorf("runtime: backend %q reported an empty context", backend)
	}
	return model, nil
}
