package cli

import (
	"io"

	"github.com/spf13/pflag"

	"Instruct/internal/config"
)

// applyFlags parses llama.cpp style flags and overlays the ones the
// operator set on cfg. Flags left untouched keep the resolved value.
func applyFlags(name string, cfg config.Config, args []string, out io.Writer) (config.Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false

	backend := fs.String("backend", cfg.Model.Backend, "model backend")
	model := fs.StringP("model", "m", cfg.Model.Path, "model checkpoint path")
	tokenizer := fs.String("tokenizer", cfg.Model.TokenizerPath, "tokenizer path")
	ctxSize := fs.IntP("ctx_size", "c", cfg.Model.ContextSize, "size of the prompt context")
	threads := fs.IntP("threads", "t", cfg.Model.Threads, "number of threads used during computation")
	seed := fs.Int64P("seed", "s", cfg.Model.Seed, "RNG seed (<= 0 uses the current time)")

	prompt := fs.StringP("prompt", "p", cfg.Instruct.Prompt, "prompt to start generation with")
	promptFile := fs.StringP("file", "f", cfg.Instruct.PromptFile, "prompt file to start generation")
	reverse := fs.StringArrayP("reverse-prompt", "r", nil, "halt generation at PROMPT and return control (repeatable)")
	inPrefix := fs.String("in-prefix", cfg.Instruct.InputPrefix, "string to prefix user inputs with")
	interactiveFirst := fs.Bool("interactive-first", cfg.InteractiveFirst(), "wait for user input before generating")
	verbosePrompt := fs.Bool("verbose-prompt", cfg.Instruct.VerbosePrompt, "print prompt tokens before generation")

	nPredict := fs.IntP("n_predict", "n", cfg.Generation.MaxTokens, "number of tokens to predict per turn (-1 = unbounded)")
	batch := fs.IntP("batch_size", "b", cfg.Generation.BatchSize, "batch size for prompt processing")
	temp := fs.Float64("temp", cfg.Generation.Temperature, "temperature")
	topK := fs.Int("top_k", cfg.Generation.TopK, "top-k sampling")
	topP := fs.Float64("top_p", cfg.Generation.TopP, "top-p sampling")
	repeatLastN := fs.Int("repeat_last_n", cfg.Generation.RepeatLastN, "last n tokens to consider for penalize")
	repeatPenalty := fs.Float64("repeat_penalty", cfg.Generation.RepeatPenalty, "penalize repeat sequence of tokens")
	ignoreEOS := fs.Bool("ignore-eos", cfg.Generation.IgnoreEOS, "ignore end of stream token and continue generating")

	color := fs.Bool("color", false, "colorise output to distinguish prompt and user input from generations")
	noBanner := fs.Bool("no-banner", !cfg.Console.Banner, "skip the interactive-mode banner")
	logLevel := fs.String("log-level", cfg.Logging.Level, "log level (debug, info, warn, error)")
	logFile := fs.Bool("log-file", cfg.Logging.ToFile, "write logs to ~/.instruct/logs instead of stderr")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	set := func(flag string, apply func()) {
		if fs.Changed(flag) {
			apply()
		}
	}
	set("backend", func() { cfg.Model.Backend = *backend })
	set("model", func() { cfg.Model.Path = *model })
	set("tokenizer", func() { cfg.Model.TokenizerPath = *tokenizer })
	set("ctx_size", func() { cfg.Model.ContextSize = *ctxSize })
	set("threads", func() { cfg.Model.Threads = *threads })
	set("seed", func() { cfg.Model.Seed = *seed })
	set("prompt", func() {
		cfg.Instruct.Prompt = *prompt
		cfg.Instruct.PromptFile = ""
	})
	set("file", func() { cfg.Instruct.PromptFile = *promptFile })
	set("reverse-prompt", func() {
		cfg.Instruct.ReversePrompts = append(cfg.Instruct.ReversePrompts, *reverse...)
	})
	set("in-prefix", func() { cfg.Instruct.InputPrefix = *inPrefix })
	set("interactive-first", func() {
		v := *interactiveFirst
		cfg.Instruct.InteractiveFirst = &v
	})
	set("verbose-prompt", func() { cfg.Instruct.VerbosePrompt = *verbosePrompt })
	set("n_predict", func() { cfg.Generation.MaxTokens = *nPredict })
	set("batch_size", func() { cfg.Generation.BatchSize = *batch })
	set("temp", func() { cfg.Generation.Temperature = *temp })
	set("top_k", func() { cfg.Generation.TopK = *topK })
	set("top_p", func() { cfg.Generation.TopP = *topP })
	set("repeat_last_n", func() { cfg.Generation.RepeatLastN = *repeatLastN })
	set("repeat_penalty", func() { cfg.Generation.RepeatPenalty = *repeatPenalty })
	set("ignore-eos", func() { cfg.Generation.IgnoreEOS = *ignoreEOS })
	set("color", func() {
		v := *color
		cfg.Console.Color = &v
	})
	set("no-banner", func() { cfg.Console.Banner = !*noBanner })
	set("log-level", func() { cfg.Logging.Level = *logLevel })
	set("log-file", func() { cfg.Logging.ToFile = *logFile })

	return cfg, nil
}
