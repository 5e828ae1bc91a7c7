package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"Instruct/internal/cli/subcommands"
	"Instruct/internal/config"
	"Instruct/internal/runtime"

	_ "Instruct/internal/llama2"
)

// Execute is the entry point for the instruct CLI.
func Execute() int {
	return run(context.Background(), os.Args[1:], runtime.DefaultRegistry, subcommands.CliOptions{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Signals: true,
	})
}

func run(ctx context.Context, args []string, registry runtime.Registry, opts subcommands.CliOptions) int {
	cfg, err := config.Resolve()
	if err != nil {
		fmt.Fprintf(opts.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	if len(args) == 0 || strings.HasPrefix(args[0], "-") && !isHelp(args[0]) {
		return runInstruct(ctx, cfg, registry, args, opts)
	}

	subcommand := args[0]
	switch subcommand {
	case "run":
		return runInstruct(ctx, cfg, registry, args[1:], opts)
	case "config":
		cfg, err = applyFlags("config", cfg, args[1:], opts.Stderr)
		if err != nil {
			return flagExit(err, opts.Stderr)
		}
		return subcommands.RunConfig(cfg, opts.Stdout)
	case "bench":
		return subcommands.RunInferBench(ctx, cfg, registry, args[1:], opts.Stdout, opts.Stderr)
	case "backends":
		for _, name := range registry.Names() {
			fmt.Fprintln(opts.Stdout, name)
		}
		return 0
	case "help", "-h", "--help":
		printHelp(opts.Stdout)
		return 0
	default:
		fmt.Fprintf(opts.Stderr, "unknown command %q\n", subcommand)
		printHelp(opts.Stderr)
		return 1
	}
}

func runInstruct(ctx context.Context, cfg config.Config, registry runtime.Registry, args []string, opts subcommands.CliOptions) int {
	cfg, err := applyFlags("run", cfg, args, opts.Stderr)
	if err != nil {
		return flagExit(err, opts.Stderr)
	}
	return subcommands.RunCli(ctx, cfg, registry, opts)
}

func flagExit(err error, out io.Writer) int {
	if err == pflag.ErrHelp {
		return 0
	}
	fmt.Fprintf(out, "failed to parse flags: %v\n", err)
	return 1
}

func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help"
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `instruct - interactive instruction following for local language models

Usage:
  instruct [command] [flags]

Commands:
  run       Start an interactive instruct session (default)
  config    Print the resolved configuration as YAML
  bench     Measure prompt and generation throughput of the model
  backends  List the registered model backends
  help      Show this message

Interaction:
  - Press Ctrl+C to interject at any time; press it again to quit
  - Press Return to return control to the model
  - End a line with '\' to continue it on the next line

Configuration:
  Settings are read from instruct.yaml (or INSTRUCT_CONFIG), INSTRUCT_* environment
  variables and finally flags. Run 'instruct run --help' to list the flags.`)
}
