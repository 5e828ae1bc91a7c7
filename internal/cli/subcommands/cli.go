package subcommands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Instruct/internal/config"
	"Instruct/internal/console"
	"Instruct/internal/logging"
	"Instruct/internal/runtime"
	"Instruct/internal/sampling"
	"Instruct/internal/session"
)

// largeContext is the size above which quality is known to degrade.
const largeContext = 2048

// CliOptions carries the process streams and exit hook of an interactive run.
type CliOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Exit terminates the process on a second interrupt. Nil uses os.Exit.
	Exit func(int)
	// Signals disables SIGINT handling when false.
	Signals bool
}

// RunCli executes the instruct loop: load the model, evaluate the prompt
// and alternate between generation and operator turns until input ends.
func RunCli(ctx context.Context, cfg config.Config, registry runtime.Registry, opts CliOptions) int {
	stderr := opts.Stderr
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.ToFile)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialise logging: %v\n", err)
		return 1
	}
	defer logging.Close(logger)
	logger = logger.With(zap.String("session", uuid.NewString()))

	seed := cfg.Model.Seed
	if seed <= 0 {
		seed = time.Now().Unix()
	}
	logger.Info("seed", zap.Int64("seed", seed))

	if cfg.Model.ContextSize > largeContext {
		logger.Warn("model does not support context sizes greater than 2048 tokens; expect poor results",
			zap.Int("ctx_size", cfg.Model.ContextSize))
	}

	prompt, err := cfg.PromptText()
	if err != nil {
		logger.Error("failed to read prompt", zap.Error(err))
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	var model runtime.Model
	label := fmt.Sprintf("loading model from '%s'", cfg.Model.Path)
	err = console.Spin(stderr, label, func() error {
		var openErr error
		model, openErr = runtime.Open(cfg.Model, registry)
		return openErr
	})
	if err != nil {
		logger.Error("failed to load model", zap.String("path", cfg.Model.Path), zap.Error(err))
		fmt.Fprintf(stderr, "failed to load model '%s': %v\n", cfg.Model.Path, err)
		return 1
	}
	defer func() {
		if closeErr := model.Close(); closeErr != nil {
			logger.Warn("failed to close model", zap.Error(closeErr))
		}
	}()
	logger.Info("model loaded", zap.String("model", model.Name()), zap.String("describe", model.Describe()))
	logger.Info("system_info",
		zap.Int("n_threads", cfg.Model.Threads),
		zap.Int("hardware_concurrency", goruntime.NumCPU()))

	color := console.AutoColor(opts.Stdout)
	if cfg.Console.Color != nil {
		color = *cfg.Console.Color
	}
	display := console.New(opts.Stdout, color)
	defer display.Close()

	turn := session.NewInterrupter(session.Generating, opts.Exit)
	turn.OnInterrupt = func() {
		display.SetState(console.StateDefault)
		display.Print("\n")
	}

	params := session.ParamsFromConfig(cfg, prompt)
	sess, err := session.New(session.Options{
		Engine:      model,
		Tokenizer:   model,
		Sampler:     sampling.New(seed),
		Display:     display,
		Input:       session.NewLineReader(opts.Stdin),
		Interrupter: turn,
		Logger:      logger,
		Params:      params,
	})
	if err != nil {
		logger.Error("failed to start session", zap.Error(err))
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	if cfg.Instruct.VerbosePrompt {
		fmt.Fprint(stderr, sess.PromptReport())
	}

	logger.Info("interactive mode on")
	for _, ap := range sess.Antiprompts() {
		logger.Info("reverse prompt", zap.String("prompt", ap))
	}
	if params.InputPrefix != "" {
		logger.Info("input prefix", zap.String("prefix", params.InputPrefix))
	}
	logger.Info("sampling",
		zap.Float64("temp", params.Sampling.Temperature),
		zap.Int("top_k", params.Sampling.TopK),
		zap.Float64("top_p", params.Sampling.TopP),
		zap.Int("repeat_last_n", params.RepeatLastN),
		zap.Float64("repeat_penalty", params.Sampling.RepeatPenalty))
	logger.Info("generate",
		zap.Int("n_ctx", sess.Capacity()),
		zap.Int("n_batch", params.BatchSize),
		zap.Int("n_predict", params.MaxTokens),
		zap.Int("n_keep", sess.Keep()))

	if cfg.Console.Banner {
		banner, err := console.Banner(color)
		if err != nil {
			logger.Warn("failed to render banner", zap.Error(err))
		} else {
			fmt.Fprint(stderr, strings.TrimLeft(banner, "\n"))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Signals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)
		go turn.Watch(ctx, sigCh)
	}

	if err := sess.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		logger.Error("session failed", zap.Error(err))
		fmt.Fprintf(stderr, "\n%v\n", err)
		return 1
	}
	return 0
}
