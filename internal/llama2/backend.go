package llama2

import (
	"fmt"
	"path/filepath"
	"strings"

	"Instruct/internal/config"
	"Instruct/internal/runtime"
)

// BackendName is the registry key for this backend.
const BackendName = "llama2"

func init() {
	runtime.Register(BackendName, func(cfg config.ModelConfig) (runtime.Model, error) {
		return Open(cfg)
	})
}

// Model pairs a transformer with its tokenizer.
type Model struct {
	*Transformer
	*Tokenizer

	path string
}

// Open loads the checkpoint and tokenizer named by cfg.
func Open(cfg config.ModelConfig) (*Model, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("llama2: model path is required")
	}
	h, w, err := readCheckpoint(cfg.Path)
	if err != nil {
		return nil, err
	}

	tokPath := cfg.TokenizerPath
	if tokPath == "" {
		tokPath = filepath.Join(filepath.Dir(cfg.Path), "tokenizer.bin")
	}
	tok, err := LoadTokenizer(tokPath, int(h.VocabSize))
	if err != nil {
		return nil, err
	}

	return &Model{
		Transformer: newTransformer(h, w, cfg.ContextSize),
		Tokenizer:   tok,
		path:        cfg.Path,
	}, nil
}

// Name returns the checkpoint file name.
func (m *Model) Name() string { return filepath.Base(m.path) }

// Describe summarizes the loaded hyperparameters.
func (m *Model) Describe() string {
	h := m.Header()
	return fmt.Sprintf("dim=%d hidden=%d layers=%d heads=%d kv_heads=%d vocab=%d seq_len=%d ctx=%d",
		h.Dim, h.HiddenDim, h.NLayers, h.NHeads, h.NKVHeads, h.VocabSize, h.SeqLen, m.ContextSize())
}

// Close releases the weights.
func (m *Model) Close() error {
	m.Transformer.w = nil
	return nil
}
