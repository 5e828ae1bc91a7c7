package subcommands

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"Instruct/internal/config"
)

// RunConfig displays the resolved configuration.
func RunConfig(cfg config.Config, out io.Writer) int {
	fmt.Fprintln(out, "=== instruct configuration ===")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(out, "Error marshaling config: %v\n", err)
		return 1
	}

	fmt.Fprintln(out, string(data))
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "# invalid: %v\n", err)
		return 1
	}
	return 0
}
