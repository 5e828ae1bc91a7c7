// Package llama2 is a pure Go backend for llama2.c checkpoints and
// tokenizer files.
package llama2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Header is the seven int32 fields at the start of a checkpoint.
type Header struct {
	Dim       int32 // transformer dimension
	HiddenDim int32 // ffn hidden dimension
	NLayers   int32
	NHeads    int32 // query heads
	NKVHeads  int32 // key/value heads, may be fewer than query heads
	VocabSize int32 // negative in the file when the classifier is unshared
	SeqLen    int32 // maximum sequence length
}

const headerSize = 7 * 4

func (h Header) headSize() int { return int(h.Dim / h.NHeads) }
func (h Header) kvDim() int    { return int(h.Dim*h.NKVHeads) / int(h.NHeads) }

func (h Header) validate() error {
	switch {
	case h.Dim <= 0 || h.HiddenDim <= 0 || h.NLayers <= 0:
		return fmt.Errorf("llama2: invalid dimensions dim=%d hidden=%d layers=%d", h.Dim, h.HiddenDim, h.NLayers)
	case h.NHeads <= 0 || h.NKVHeads <= 0:
		return fmt.Errorf("llama2: invalid head counts heads=%d kv_heads=%d", h.NHeads, h.NKVHeads)
	case h.Dim%h.NHeads != 0 || h.NHeads%h.NKVHeads != 0:
		return fmt.Errorf("llama2: dim %d and heads %d/%d do not divide evenly", h.Dim, h.NHeads, h.NKVHeads)
	case h.headSize()%2 != 0:
		return fmt.Errorf("llama2: head size %d must be even", h.headSize())
	case h.VocabSize <= 0 || h.SeqLen <= 0:
		return fmt.Errorf("llama2: invalid vocab=%d seq_len=%d", h.VocabSize, h.SeqLen)
	}
	return nil
}

type weights struct {
	tokenEmbedding []float32 // (vocab, dim)
	rmsAtt         []float32 // (layer, dim)
	wq             []float32 // (layer, dim, heads*headSize)
	wk             []float32 // (layer, dim, kvDim)
	wv             []float32 // (layer, dim, kvDim)
	wo             []float32 // (layer, heads*headSize, dim)
	rmsFFN         []float32 // (layer, dim)
	w1             []float32 // (layer, hidden, dim)
	w2             []float32 // (layer, dim, hidden)
	w3             []float32 // (layer, hidden, dim)
	rmsFinal       []float32 // (dim)
	wcls           []float32 // (vocab, dim)
}

// readCheckpoint loads the header and weights from path. The whole file is
// read into memory.
func readCheckpoint(path string) (Header, *weights, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Header{}, nil, fmt.Errorf("llama2: read checkpoint: %w", err)
	}
	return parseCheckpoint(data)
}

func parseCheckpoint(data []byte) (Header, *weights, error) {
	var h Header
	if len(data) < headerSize {
		return h, nil, errors.New("llama2: checkpoint too small to contain a header")
	}
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
		return h, nil, fmt.Errorf("llama2: parse header: %w", err)
	}

	shared := true
	if h.VocabSize < 0 {
		shared = false
		h.VocabSize = -h.VocabSize
	}
	if err := h.validate(); err != nil {
		return h, nil, err
	}

	r := floatReader{data: data[headerSize:]}
	dim := int(h.Dim)
	layers := int(h.NLayers)
	hidden := int(h.HiddenDim)
	vocab := int(h.VocabSize)
	qDim := int(h.NHeads) * h.headSize()
	kvDim := h.kvDim()

	w := &weights{}
	w.tokenEmbedding = r.next(vocab * dim)
	w.rmsAtt = r.next(layers * dim)
	w.wq = r.next(layers * dim * qDim)
	w.wk = r.next(layers * dim * kvDim)
	w.wv = r.next(layers * dim * kvDim)
	w.wo = r.next(layers * qDim * dim)
	w.rmsFFN = r.next(layers * dim)
	w.w1 = r.next(layers * dim * hidden)
	w.w2 = r.next(layers * hidden * dim)
	w.w3 = r.next(layers * dim * hidden)
	w.rmsFinal = r.next(dim)
	// freq_cis_real and freq_cis_imag are recomputed at runtime.
	r.skip(int(h.SeqLen) * h.headSize())
	if shared {
		w.wcls = w.tokenEmbedding
	} else {
		w.wcls = r.next(vocab * dim)
	}

	if r.err != nil {
		return h, nil, r.err
	}
	return h, w, nil
}

// floatReader slices consecutive little-endian float32 runs out of a buffer
// and remembers the first short read.
type floatReader struct {
	data []byte
	off  int
	err  error
}

func (r *floatReader) next(count int) []float32 {
	if r.err != nil {
		return nil
	}
	n := count * 4
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("llama2: checkpoint truncated at byte %d (need %d more)", headerSize+r.off, r.off+n-len(r.data))
		return nil
	}
	out := make([]float32, count)
	raw := r.data[r.off : r.off+n]
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	r.off += n
	return out
}

func (r *floatReader) skip(count int) {
	if r.err != nil {
		return
	}
	r.off += count * 4
	if r.off > len(r.data) {
		r.err = errors.New("llama2: checkpoint truncated in rope tables")
	}
}
