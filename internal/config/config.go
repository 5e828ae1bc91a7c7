package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures model, generation, instruct framing, console and logging
// settings for an interactive session.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Generation GenerationConfig `yaml:"generation"`
	Instruct   InstructConfig   `yaml:"instruct"`
	Console    ConsoleConfig    `yaml:"console"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ModelConfig selects the backend and where its weights live.
type ModelConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	ContextSize   int    `yaml:"context_size"`
	Threads       int    `yaml:"threads"`
	Seed          int64  `yaml:"seed"`
}

// GenerationConfig holds the sampling and batching parameters consumed by
// the generation loop.
type GenerationConfig struct {
	// MaxTokens is the per-turn sampling budget. -1 means unbounded.
	MaxTokens     int     `yaml:"max_tokens"`
	BatchSize     int     `yaml:"batch_size"`
	Temperature   float64 `yaml:"temperature"`
	TopK          int     `yaml:"top_k"`
	TopP          float64 `yaml:"top_p"`
	RepeatPenalty float64 `yaml:"repeat_penalty"`
	RepeatLastN   int     `yaml:"repeat_last_n"`
	IgnoreEOS     bool    `yaml:"ignore_eos"`
}

// InstructConfig governs the instruction/response framing around user turns.
type InstructConfig struct {
	Prompt            string   `yaml:"prompt"`
	PromptFile        string   `yaml:"prompt_file"`
	InstructionPrefix string   `yaml:"instruction_prefix"`
	ResponseSuffix    string   `yaml:"response_suffix"`
	Antiprompt        string   `yaml:"antiprompt"`
	ReversePrompts    []string `yaml:"reverse_prompts"`
	InputPrefix       string   `yaml:"input_prefix"`
	InteractiveFirst  *bool    `yaml:"interactive_first"`
	VerbosePrompt     bool     `yaml:"verbose_prompt"`
}

// ConsoleConfig controls terminal presentation.
type ConsoleConfig struct {
	// Color forces colour on or off; nil auto-detects a terminal.
	Color  *bool `yaml:"color"`
	Banner bool  `yaml:"banner"`
}

// LoggingConfig controls the diagnostic log.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	ToFile bool   `yaml:"to_file"`
}

const (
	defaultConfigFile = "instruct.yaml"

	// DefaultBackend is used when no backend is configured.
	DefaultBackend = "llama2"

	// Unbounded disables the per-turn sampling budget.
	Unbounded = -1
)

// Default returns a Config pre-populated with the classic instruct settings.
func Default() Config {
	interactiveFirst := true
	return Config{
		Model: ModelConfig{
			Backend:       DefaultBackend,
			Path:          "models/stories15M.bin",
			TokenizerPath: "models/tokenizer.bin",
			ContextSize:   512,
			Threads:       4,
			Seed:          -1,
		},
		Generation: GenerationConfig{
			MaxTokens:     128,
			BatchSize:     8,
			Temperature:   0.8,
			TopK:          40,
			TopP:          0.95,
			RepeatPenalty: 1.1,
			RepeatLastN:   64,
		},
		Instruct: InstructConfig{
			Prompt:            "Below is an instruction that describes a task. Write a response that appropriately completes the request.",
			InstructionPrefix: "\n\n### Instruction:\n\n",
			ResponseSuffix:    "\n\n### Response:\n\n",
			Antiprompt:        "### Instruction:\n\n",
			InteractiveFirst:  &interactiveFirst,
		},
		Console: ConsoleConfig{
			Banner: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Resolve loads configuration from .env, file and environment variables.
func Resolve() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path := strings.TrimSpace(os.Getenv("INSTRUCT_CONFIG"))
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("provided INSTRUCT_CONFIG file %q not found", path)
	}

	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = merge(cfg, loaded)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

// LoadFile parses a YAML configuration file without applying defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	return cfg, nil
}

// Merge overlays the non-zero fields of override on base.
func Merge(base, override Config) Config {
	return merge(base, override)
}

func merge(base, override Config) Config {
	result := base

	m := override.Model
	if m.Backend != "" {
		result.Model.Backend = m.Backend
	}
	if m.Path != "" {
		result.Model.Path = m.Path
	}
	if m.TokenizerPath != "" {
		result.Model.TokenizerPath = m.TokenizerPath
	}
	if m.ContextSize != 0 {
		result.Model.ContextSize = m.ContextSize
	}
	if m.Threads != 0 {
		result.Model.Threads = m.Threads
	}
	if m.Seed != 0 {
		result.Model.Seed = m.Seed
	}

	g := override.Generation
	if g.MaxTokens != 0 {
		result.Generation.MaxTokens = g.MaxTokens
	}
	if g.BatchSize != 0 {
		result.Generation.BatchSize = g.BatchSize
	}
	if g.Temperature != 0 {
		result.Generation.Temperature = g.Temperature
	}
	if g.TopK != 0 {
		result.Generation.TopK = g.TopK
	}
	if g.TopP != 0 {
		result.Generation.TopP = g.TopP
	}
	if g.RepeatPenalty != 0 {
		result.Generation.RepeatPenalty = g.RepeatPenalty
	}
	if g.RepeatLastN != 0 {
		result.Generation.RepeatLastN = g.RepeatLastN
	}
	if g.IgnoreEOS {
		result.Generation.IgnoreEOS = true
	}

	in := override.Instruct
	if in.Prompt != "" {
		result.Instruct.Prompt = in.Prompt
	}
	if in.PromptFile != "" {
		result.Instruct.PromptFile = in.PromptFile
	}
	if in.InstructionPrefix != "" {
		result.Instruct.InstructionPrefix = in.InstructionPrefix
	}
	if in.ResponseSuffix != "" {
		result.Instruct.ResponseSuffix = in.ResponseSuffix
	}
	if in.Antiprompt != "" {
		result.Instruct.Antiprompt = in.Antiprompt
	}
	if len(in.ReversePrompts) != 0 {
		result.Instruct.ReversePrompts = append([]string(nil), in.ReversePrompts...)
	}
	if in.InputPrefix != "" {
		result.Instruct.InputPrefix = in.InputPrefix
	}
	if in.InteractiveFirst != nil {
		v := *in.InteractiveFirst
		result.Instruct.InteractiveFirst = &v
	}
	if in.VerbosePrompt {
		result.Instruct.VerbosePrompt = true
	}

	if override.Console.Color != nil {
		v := *override.Console.Color
		result.Console.Color = &v
	}
	if override.Console.Banner {
		result.Console.Banner = true
	}

	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.ToFile {
		result.Logging.ToFile = true
	}

	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_BACKEND")); v != "" {
		cfg.Model.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_MODEL")); v != "" {
		cfg.Model.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_TOKENIZER")); v != "" {
		cfg.Model.TokenizerPath = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_CTX_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Model.ContextSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Model.Threads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_SEED")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Model.Seed = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_MAX_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && (n > 0 || n == Unbounded) {
			cfg.Generation.MaxTokens = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_TEMPERATURE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Generation.Temperature = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_REVERSE_PROMPTS")); v != "" {
		cfg.Instruct.ReversePrompts = nil
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cfg.Instruct.ReversePrompts = append(cfg.Instruct.ReversePrompts, part)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_COLOR")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Console.Color = &enabled
		}
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("INSTRUCT_LOG_FILE")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.ToFile = enabled
		}
	}
}

// Validate reports settings the session cannot start with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Model.Path) == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Model.ContextSize < 0 {
		errs = append(errs, fmt.Errorf("model.context_size must be positive, got %d", c.Model.ContextSize))
	}
	if c.Model.Threads <= 0 {
		errs = append(errs, fmt.Errorf("model.threads must be positive, got %d", c.Model.Threads))
	}
	if c.Generation.MaxTokens == 0 || c.Generation.MaxTokens < Unbounded {
		errs = append(errs, fmt.Errorf("generation.max_tokens must be positive or %d, got %d", Unbounded, c.Generation.MaxTokens))
	}
	if c.Generation.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("generation.batch_size must be positive, got %d", c.Generation.BatchSize))
	}
	if c.Generation.Temperature < 0 {
		errs = append(errs, fmt.Errorf("generation.temperature must not be negative, got %g", c.Generation.Temperature))
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		errs = append(errs, fmt.Errorf("generation.top_p must be within [0,1], got %g", c.Generation.TopP))
	}
	if c.Generation.RepeatLastN < 0 {
		errs = append(errs, fmt.Errorf("generation.repeat_last_n must not be negative, got %d", c.Generation.RepeatLastN))
	}
	if c.Instruct.InstructionPrefix == "" || c.Instruct.ResponseSuffix == "" {
		errs = append(errs, errors.New("instruct.instruction_prefix and instruct.response_suffix are required"))
	}

	return errors.Join(errs...)
}

// InteractiveFirst reports whether the session hands control to the user
// as soon as the prompt has been evaluated.
func (c Config) InteractiveFirst() bool {
	return c.Instruct.InteractiveFirst == nil || *c.Instruct.InteractiveFirst
}

// PromptText returns the configured prompt, reading prompt_file when set.
func (c Config) PromptText() (string, error) {
	if c.Instruct.PromptFile == "" {
		return c.Instruct.Prompt, nil
	}
	data, err := os.ReadFile(filepath.Clean(c.Instruct.PromptFile))
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %q: %w", c.Instruct.PromptFile, err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}
