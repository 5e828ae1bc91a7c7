package llama2

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"Instruct/internal/runtime"
)

const (
	tokenUnknown runtime.Token = 0
	tokenBOS     runtime.Token = 1
	tokenEOS     runtime.Token = 2

	// byteFallbackOffset maps raw byte b to id b+3, after the three
	// control tokens.
	byteFallbackOffset = 3

	maxPieceLen = 1 << 16
)

// Tokenizer is a llama2.c sentencepiece vocabulary with score-ordered
// pair merges and byte fallback.
type Tokenizer struct {
	vocab       []string
	scores      []float32
	lookup      map[string]runtime.Token
	maxTokenLen int
}

// LoadTokenizer reads a tokenizer.bin holding vocabSize entries.
func LoadTokenizer(path string, vocabSize int) (*Tokenizer, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("llama2: open tokenizer: %w", err)
	}
	defer f.Close()
	return readTokenizer(bufio.NewReader(f), vocabSize)
}

func readTokenizer(r io.Reader, vocabSize int) (*Tokenizer, error) {
	t := &Tokenizer{
		vocab:  make([]string, vocabSize),
		scores: make([]float32, vocabSize),
		lookup: make(map[string]runtime.Token, vocabSize),
	}

	var maxLen int32
	if err := binary.Read(r, binary.LittleEndian, &maxLen); err != nil {
		return nil, fmt.Errorf("llama2: read max token length: %w", err)
	}
	t.maxTokenLen = int(maxLen)

	for i := 0; i < vocabSize; i++ {
		if err := binary.Read(r, binary.LittleEndian, &t.scores[i]); err != nil {
			return nil, fmt.Errorf("llama2: read score %d: %w", i, err)
		}
		var n int32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("llama2: read length %d: %w", i, err)
		}
		if n < 0 || n > maxPieceLen {
			return nil, fmt.Errorf("llama2: invalid piece length %d at %d", n, i)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("llama2: read piece %d: %w", i, err)
		}
		piece := string(buf)
		t.vocab[i] = piece
		if _, dup := t.lookup[piece]; !dup {
			t.lookup[piece] = runtime.Token(i)
		}
	}
	return t, nil
}

// VocabSize returns the number of entries.
func (t *Tokenizer) VocabSize() int { return len(t.vocab) }

// BOS returns the beginning-of-sequence id.
func (t *Tokenizer) BOS() runtime.Token { return tokenBOS }

// EOS returns the end-of-sequence id.
func (t *Tokenizer) EOS() runtime.Token { return tokenEOS }

// Encode splits text into code points, falls back to raw bytes for code
// points missing from the vocabulary, then repeatedly merges the adjacent
// pair whose concatenation has the highest score. No dummy space is
// prepended.
func (t *Tokenizer) Encode(text string, addBOS bool) ([]runtime.Token, error) {
	tokens := make([]runtime.Token, 0, len(text)+1)
	if addBOS {
		tokens = append(tokens, tokenBOS)
	}
	start := len(tokens)

	for i := 0; i < len(text); {
		_, size := utf8.DecodeRuneInString(text[i:])
		cp := text[i : i+size]
		if id, ok := t.lookup[cp]; ok {
			tokens = append(tokens, id)
		} else {
			for j := 0; j < len(cp); j++ {
				id := runtime.Token(int(cp[j]) + byteFallbackOffset)
				if int(id) >= len(t.vocab) {
					return nil, fmt.Errorf("llama2: byte 0x%02X has no fallback piece", cp[j])
				}
				tokens = append(tokens, id)
			}
		}
		i += size
	}

	for {
		bestScore := float32(0)
		bestID := runtime.Token(-1)
		bestIdx := -1
		for i := start; i < len(tokens)-1; i++ {
			id, ok := t.lookup[t.vocab[tokens[i]]+t.vocab[tokens[i+1]]]
			if ok && (bestIdx < 0 || t.scores[id] > bestScore) {
				bestScore = t.scores[id]
				bestID = id
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		tokens[bestIdx] = bestID
		tokens = append(tokens[:bestIdx+1], tokens[bestIdx+2:]...)
	}

	return tokens, nil
}

// Decode returns the text of a single token. Control tokens and ids outside
// the vocabulary decode to "". Pieces of the form <0xXX> decode to the raw
// byte.
func (t *Tokenizer) Decode(token runtime.Token) string {
	if token < 0 || int(token) >= len(t.vocab) {
		return ""
	}
	switch token {
	case tokenUnknown, tokenBOS, tokenEOS:
		return ""
	}
	piece := t.vocab[token]
	if len(piece) == 6 && strings.HasPrefix(piece, "<0x") && piece[5] == '>' {
		if b, err := strconv.ParseUint(piece[3:5], 16, 8); err == nil {
			return string([]byte{byte(b)})
		}
	}
	return piece
}
