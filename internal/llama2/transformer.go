package llama2

import (
	"fmt"
	"math"
	"sync"

	"Instruct/internal/runtime"
)

// minRowsPerWorker keeps tiny matmuls on the calling goroutine.
const minRowsPerWorker = 32

type runState struct {
	x      []float32 // activation at the current position (dim)
	xb     []float32 // (dim)
	xb2    []float32 // (dim)
	hb     []float32 // (hidden)
	hb2    []float32 // (hidden)
	q      []float32 // (dim)
	att    []float32 // (heads, seq_len)
	logits []float32 // (vocab)

	keyCache   []float32 // (layer, seq_len, kvDim)
	valueCache []float32 // (layer, seq_len, kvDim)
}

func newRunState(h Header) runState {
	dim := int(h.Dim)
	hidden := int(h.HiddenDim)
	seq := int(h.SeqLen)
	cache := int(h.NLayers) * seq * h.kvDim()
	return runState{
		x:          make([]float32, dim),
		xb:         make([]float32, dim),
		xb2:        make([]float32, dim),
		hb:         make([]float32, hidden),
		hb2:        make([]float32, hidden),
		q:          make([]float32, dim),
		att:        make([]float32, int(h.NHeads)*seq),
		logits:     make([]float32, h.VocabSize),
		keyCache:   make([]float32, cache),
		valueCache: make([]float32, cache),
	}
}

// Transformer evaluates tokens one position at a time against a key/value
// cache. It satisfies runtime.Engine.
type Transformer struct {
	header Header
	w      *weights
	s      runState
	ctx    int
}

// newTransformer wraps parsed weights with a fresh cache. contextSize caps
// the usable positions; values <= 0 or above the checkpoint's sequence
// length fall back to that length.
func newTransformer(h Header, w *weights, contextSize int) *Transformer {
	ctx := int(h.SeqLen)
	if contextSize > 0 && contextSize < ctx {
		ctx = contextSize
	}
	return &Transformer{header: h, w: w, s: newRunState(h), ctx: ctx}
}

// ContextSize reports the usable positions.
func (t *Transformer) ContextSize() int { return t.ctx }

// Header returns the checkpoint hyperparameters.
func (t *Transformer) Header() Header { return t.header }

// Logits returns the scores produced by the last evaluated token.
func (t *Transformer) Logits() []float32 { return t.s.logits }

// Evaluate runs tokens through the network at positions pos, pos+1, ...
func (t *Transformer) Evaluate(tokens []runtime.Token, pos, threads int) error {
	if pos < 0 || pos+len(tokens) > t.ctx {
		return fmt.Errorf("%w: positions %d..%d exceed %d", runtime.ErrContextFull, pos, pos+len(tokens), t.ctx)
	}
	for _, tok := range tokens {
		if tok < 0 || tok >= runtime.Token(t.header.VocabSize) {
			return fmt.Errorf("llama2: token %d outside vocabulary of %d", tok, t.header.VocabSize)
		}
	}
	if threads < 1 {
		threads = 1
	}
	for i, tok := range tokens {
		t.forward(int(tok), pos+i, threads)
	}
	return nil
}

func (t *Transformer) forward(token, pos, threads int) {
	p := t.header
	w := t.w
	s := &t.s

	dim := int(p.Dim)
	hidden := int(p.HiddenDim)
	seq := int(p.SeqLen)
	nHeads := int(p.NHeads)
	headSize := p.headSize()
	kvDim := p.kvDim()
	kvMul := int(p.NHeads / p.NKVHeads)
	scale := float32(1 / math.Sqrt(float64(headSize)))

	x := s.x
	copy(x, w.tokenEmbedding[token*dim:(token+1)*dim])

	for l := 0; l < int(p.NLayers); l++ {
		rmsnorm(s.xb, x, w.rmsAtt[l*dim:(l+1)*dim])

		loff := l * seq * kvDim
		k := s.keyCache[loff+pos*kvDim : loff+(pos+1)*kvDim]
		v := s.valueCache[loff+pos*kvDim : loff+(pos+1)*kvDim]

		matmul(s.q, s.xb, w.wq[l*dim*dim:(l+1)*dim*dim], dim, dim, threads)
		matmul(k, s.xb, w.wk[l*dim*kvDim:(l+1)*dim*kvDim], dim, kvDim, threads)
		matmul(v, s.xb, w.wv[l*dim*kvDim:(l+1)*dim*kvDim], dim, kvDim, threads)

		// RoPE: rotate q everywhere and k within kvDim.
		for i := 0; i < dim; i += 2 {
			headDim := i % headSize
			freq := 1 / math.Pow(10000, float64(headDim)/float64(headSize))
			fcr := float32(math.Cos(float64(pos) * freq))
			fci := float32(math.Sin(float64(pos) * freq))
			rotate(s.q, i, fcr, fci)
			if i < kvDim {
				rotate(k, i, fcr, fci)
			}
		}

		clear(s.xb)
		for h := 0; h < nHeads; h++ {
			q := s.q[h*headSize : (h+1)*headSize]
			att := s.att[h*seq : h*seq+pos+1]
			kvOff := (h / kvMul) * headSize
			for ts := 0; ts <= pos; ts++ {
				kt := s.keyCache[loff+ts*kvDim+kvOff:][:headSize]
				var score float32
				for i := range q {
					score += q[i] * kt[i]
				}
				att[ts] = score * scale
			}
			softmax(att)

			out := s.xb[h*headSize : (h+1)*headSize]
			for ts := 0; ts <= pos; ts++ {
				vt := s.valueCache[loff+ts*kvDim+kvOff:][:headSize]
				a := att[ts]
				for i := range out {
					out[i] += a * vt[i]
				}
			}
		}

		matmul(s.xb2, s.xb, w.wo[l*dim*dim:(l+1)*dim*dim], dim, dim, threads)
		for i := range x {
			x[i] += s.xb2[i]
		}

		rmsnorm(s.xb, x, w.rmsFFN[l*dim:(l+1)*dim])
		matmul(s.hb, s.xb, w.w1[l*dim*hidden:(l+1)*dim*hidden], dim, hidden, threads)
		matmul(s.hb2, s.xb, w.w3[l*dim*hidden:(l+1)*dim*hidden], dim, hidden, threads)

		// SwiGLU
		for i := range s.hb {
			val := s.hb[i]
			val *= 1 / (1 + float32(math.Exp(float64(-val))))
			s.hb[i] = val * s.hb2[i]
		}

		matmul(s.xb, s.hb, w.w2[l*dim*hidden:(l+1)*dim*hidden], hidden, dim, threads)
		for i := range x {
			x[i] += s.xb[i]
		}
	}

	rmsnorm(x, x, w.rmsFinal)
	matmul(s.logits, x, w.wcls, dim, int(p.VocabSize), threads)
}

func rotate(vec []float32, i int, fcr, fci float32) {
	v0, v1 := vec[i], vec[i+1]
	vec[i] = v0*fcr - v1*fci
	vec[i+1] = v0*fci + v1*fcr
}

func rmsnorm(o, x, weight []float32) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	ss /= float32(len(x))
	ss += 1e-5
	ss = 1 / float32(math.Sqrt(float64(ss)))
	for i := range o {
		o[i] = weight[i] * (ss * x[i])
	}
}

func softmax(x []float32) {
	maxVal := x[0]
	for _, v := range x[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i := range x {
		x[i] = float32(math.Exp(float64(x[i] - maxVal)))
		sum += x[i]
	}
	for i := range x {
		x[i] /= sum
	}
}

// matmul computes xout = W(d,n) @ x(n), splitting rows across workers.
// Each row is summed in the same order regardless of the split.
func matmul(xout, x, w []float32, n, d, threads int) {
	workers := threads
	if d/minRowsPerWorker < workers {
		workers = d / minRowsPerWorker
	}
	if workers <= 1 {
		matmulRows(xout, x, w, n, 0, d)
		return
	}

	var wg sync.WaitGroup
	chunk := (d + workers - 1) / workers
	for start := 0; start < d; start += chunk {
		end := min(start+chunk, d)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			matmulRows(xout, x, w, n, start, end)
		}(start, end)
	}
	wg.Wait()
}

func matmulRows(xout, x, w []float32, n, start, end int) {
	for i := start; i < end; i++ {
		row := w[i*n : (i+1)*n]
		var val float32
		for j, xv := range x[:n] {
			val += row[j] * xv
		}
		xout[i] = val
	}
}
