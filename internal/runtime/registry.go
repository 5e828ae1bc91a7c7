package runtime

import "Instruct/internal/config"

// DefaultRegistry provides built-in model backends.
var DefaultRegistry = Registry{}

// Register adds a new model factory to the default registry.
func Register(name string, factory ModelFactory) {
	DefaultRegistry[name] = factory
}

// MustOpen loads a model from the default registry and panics on error.
func MustOpen(cfg config.ModelConfig) Model {
	m, err := Open(cfg, DefaultRegistry)
	if err != nil {
		panic(err)
	}
	return m
}
