package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestMergeModelFields verifies that model overrides replace only the
// fields they set.
func TestMergeModelFields(t *testing.T) {
	base := Default()

	t.Run("Path override", func(t *testing.T) {
		override := Config{}
		override.Model.Path = "other.bin"
		result := merge(base, override)
		if result.Model.Path != "other.bin" {
			t.Errorf("Path = %q, want %q", result.Model.Path, "other.bin")
		}
		// Base fields preserved.
		if result.Model.TokenizerPath != base.Model.TokenizerPath {
			t.Errorf("TokenizerPath lost: got %q", result.Model.TokenizerPath)
		}
	})

	t.Run("ContextSize not overridden when zero", func(t *testing.T) {
		result := merge(base, Config{})
		if result.Model.ContextSize != 512 {
			t.Errorf("ContextSize = %d, want 512", result.Model.ContextSize)
		}
	})

	t.Run("Seed override", func(t *testing.T) {
		override := Config{}
		override.Model.Seed = 42
		result := merge(base, override)
		if result.Model.Seed != 42 {
			t.Errorf("Seed = %d, want 42", result.Model.Seed)
		}
	})
}

// TestMergeGenerationDefaults checks that generation settings merge correctly.
func TestMergeGenerationDefaults(t *testing.T) {
	base := Config{}
	base.Generation.MaxTokens = 128
	base.Generation.Temperature = 0.2
	base.Generation.TopK = 40

	override := Config{}
	override.Generation.Temperature = 0.8
	override.Generation.MaxTokens = Unbounded
	override.Generation.IgnoreEOS = true

	result := merge(base, override)
	if result.Generation.MaxTokens != Unbounded {
		t.Errorf("MaxTokens = %d, want %d", result.Generation.MaxTokens, Unbounded)
	}
	if result.Generation.Temperature != 0.8 {
		t.Errorf("Temperature = %f, want 0.8", result.Generation.Temperature)
	}
	if result.Generation.TopK != 40 {
		t.Errorf("TopK = %d, want 40", result.Generation.TopK)
	}
	if !result.Generation.IgnoreEOS {
		t.Error("IgnoreEOS = false, want true")
	}
}

func TestMergeInteractiveFirst(t *testing.T) {
	base := Default()
	if !base.InteractiveFirst() {
		t.Fatal("default InteractiveFirst = false, want true")
	}

	t.Run("explicit false wins", func(t *testing.T) {
		f := false
		override := Config{}
		override.Instruct.InteractiveFirst = &f
		result := merge(base, override)
		if result.InteractiveFirst() {
			t.Error("InteractiveFirst = true, want false")
		}
	})

	t.Run("nil keeps base", func(t *testing.T) {
		result := merge(base, Config{})
		if !result.InteractiveFirst() {
			t.Error("InteractiveFirst lost on merge")
		}
	})

	t.Run("result does not alias override", func(t *testing.T) {
		f := false
		override := Config{}
		override.Instruct.InteractiveFirst = &f
		result := merge(base, override)
		f = true
		if result.InteractiveFirst() {
			t.Error("merged value changed with the override pointer")
		}
	})
}

func TestMergeReversePromptsCopied(t *testing.T) {
	override := Config{}
	override.Instruct.ReversePrompts = []string{"User:"}
	result := merge(Default(), override)
	override.Instruct.ReversePrompts[0] = "changed"
	if len(result.Instruct.ReversePrompts) != 1 || result.Instruct.ReversePrompts[0] != "User:" {
		t.Errorf("ReversePrompts = %v, want [User:]", result.Instruct.ReversePrompts)
	}
}

func TestResolveFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	yml := `
model:
  path: weights.bin
  context_size: 256
generation:
  top_k: 10
instruct:
  reverse_prompts: ["User:"]
  interactive_first: false
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("INSTRUCT_CONFIG", path)
	t.Setenv("INSTRUCT_CTX_SIZE", "128")
	t.Setenv("INSTRUCT_MAX_TOKENS", "-1")
	t.Setenv("INSTRUCT_COLOR", "false")

	cfg, err := Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Model.Path != "weights.bin" {
		t.Errorf("Path = %q, want weights.bin", cfg.Model.Path)
	}
	if cfg.Model.ContextSize != 128 {
		t.Errorf("ContextSize = %d, want 128 (env beats file)", cfg.Model.ContextSize)
	}
	if cfg.Generation.TopK != 10 {
		t.Errorf("TopK = %d, want 10", cfg.Generation.TopK)
	}
	if cfg.Generation.MaxTokens != Unbounded {
		t.Errorf("MaxTokens = %d, want %d", cfg.Generation.MaxTokens, Unbounded)
	}
	if cfg.Generation.TopP != 0.95 {
		t.Errorf("TopP = %f, want default 0.95", cfg.Generation.TopP)
	}
	if cfg.InteractiveFirst() {
		t.Error("InteractiveFirst = true, want false from file")
	}
	if cfg.Console.Color == nil || *cfg.Console.Color {
		t.Error("Color not forced off by env")
	}
	if len(cfg.Instruct.ReversePrompts) != 1 || cfg.Instruct.ReversePrompts[0] != "User:" {
		t.Errorf("ReversePrompts = %v", cfg.Instruct.ReversePrompts)
	}
}

func TestResolveMissingFile(t *testing.T) {
	t.Setenv("INSTRUCT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Resolve(); err == nil {
		t.Fatal("expected error for missing INSTRUCT_CONFIG file")
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no model", func(c *Config) { c.Model.Path = " " }, "model.path"},
		{"zero threads", func(c *Config) { c.Model.Threads = 0 }, "model.threads"},
		{"zero budget", func(c *Config) { c.Generation.MaxTokens = 0 }, "max_tokens"},
		{"budget below unbounded", func(c *Config) { c.Generation.MaxTokens = -2 }, "max_tokens"},
		{"zero batch", func(c *Config) { c.Generation.BatchSize = 0 }, "batch_size"},
		{"top_p range", func(c *Config) { c.Generation.TopP = 1.5 }, "top_p"},
		{"negative temperature", func(c *Config) { c.Generation.Temperature = -1 }, "temperature"},
		{"no framing", func(c *Config) { c.Instruct.ResponseSuffix = "" }, "response_suffix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestPromptText(t *testing.T) {
	cfg := Default()
	cfg.Instruct.Prompt = "inline"
	got, err := cfg.PromptText()
	if err != nil || got != "inline" {
		t.Fatalf("PromptText() = %q, %v", got, err)
	}

	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("from file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Instruct.PromptFile = path
	got, err = cfg.PromptText()
	if err != nil {
		t.Fatalf("PromptText: %v", err)
	}
	if got != "from file" {
		t.Errorf("PromptText() = %q, want %q", got, "from file")
	}
}
