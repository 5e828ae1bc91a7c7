// Package inferbench measures prompt evaluation and generation throughput
// of a loaded model. It drives the runtime.Model contract directly, so any
// registered backend can be benchmarked.
package inferbench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"Instruct/internal/runtime"
)

// Config controls the benchmark parameters.
type Config struct {
	// Iterations is how many times each prompt is run.
	Iterations int `json:"iterations"`

	// MaxTokens caps generation length per iteration.
	MaxTokens int `json:"max_tokens"`

	// WarmupIterations runs N throw-away iterations before recording.
	WarmupIterations int `json:"warmup_iterations"`

	BatchSize int `json:"batch_size"`
	Threads   int `json:"threads"`

	Sampling runtime.SamplingParams `json:"sampling"`

	// Prompts to benchmark. If empty, StandardPrompts() is used.
	Prompts []Prompt `json:"prompts"`

	// OutputPath is the optional JSON file to write results to.
	OutputPath string `json:"-"`

	Verbose bool `json:"-"`
}

// DefaultConfig returns settings small enough for a laptop CPU.
func DefaultConfig() Config {
	return Config{
		Iterations:       3,
		MaxTokens:        64,
		WarmupIterations: 1,
		BatchSize:        8,
		Threads:          4,
		Sampling: runtime.SamplingParams{
			Temperature:   0.8,
			TopK:          40,
			TopP:          0.95,
			RepeatPenalty: 1.1,
		},
	}
}

// Prompt is a single benchmark prompt.
type Prompt struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// StandardPrompts returns instruct-framed prompts of increasing length.
func StandardPrompts() []Prompt {
	return []Prompt{
		{Name: "short", Text: "### Instruction:\n\nName a colour.\n\n### Response:\n\n"},
		{Name: "medium", Text: "Below is an instruction that describes a task. Write a response that appropriately completes the request.\n\n### Instruction:\n\nTell a short story about a cat.\n\n### Response:\n\n"},
		{Name: "long", Text: "Below is an instruction that describes a task, paired with an input that provides further context. Write a response that appropriately completes the request.\n\n### Instruction:\n\nSummarise the text.\n\n### Input:\n\nOnce upon a time there was a little girl named Lily. She loved to play outside in the sunshine with her dog and her friends from the village by the river.\n\n### Response:\n\n"},
	}
}

// IterationResult captures metrics from one prompt evaluation and the
// generation that follows it.
type IterationResult struct {
	PromptName      string        `json:"prompt_name"`
	Iteration       int           `json:"iteration"`
	TTFT            time.Duration `json:"ttft_ns"`
	Duration        time.Duration `json:"duration_ns"`
	PromptTokens    int           `json:"prompt_tokens"`
	TokensGenerated int           `json:"tokens_generated"`
	PromptTPS       float64       `json:"prompt_tps"`
	GenerationTPS   float64       `json:"generation_tps"`
	RSSBytes        int64         `json:"rss_bytes"`
	Error           string        `json:"error,omitempty"`
}

// PromptSummary aggregates results across iterations for a single prompt.
type PromptSummary struct {
	Name          string        `json:"name"`
	Iterations    int           `json:"iterations"`
	TTFT          DurationStats `json:"ttft"`
	Duration      DurationStats `json:"duration"`
	PromptTPS     FloatStats    `json:"prompt_tps"`
	GenerationTPS FloatStats    `json:"generation_tps"`
	AvgTokensGen  float64       `json:"avg_tokens_generated"`
	PeakRSSBytes  int64         `json:"peak_rss_bytes"`
	Errors        int           `json:"errors"`
}

// DurationStats summarises a collection of time.Duration values.
type DurationStats struct {
	Min    time.Duration `json:"min_ns"`
	Max    time.Duration `json:"max_ns"`
	Mean   time.Duration `json:"mean_ns"`
	Median time.Duration `json:"median_ns"`
	P95    time.Duration `json:"p95_ns"`
}

// FloatStats summarises a collection of float64 values.
type FloatStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// Report is the top-level result container.
type Report struct {
	Timestamp time.Time         `json:"timestamp"`
	Model     string            `json:"model"`
	Config    Config            `json:"config"`
	Summaries []PromptSummary   `json:"summaries"`
	Raw       []IterationResult `json:"raw_results,omitempty"`
}

// Runner executes benchmarks against a loaded model.
type Runner struct {
	model   runtime.Model
	sampler runtime.Sampler
	cfg     Config
	out     io.Writer
}

// NewRunner creates a benchmark runner. Progress is written to out.
func NewRunner(model runtime.Model, sampler runtime.Sampler, cfg Config, out io.Writer) *Runner {
	if len(cfg.Prompts) == 0 {
		cfg.Prompts = StandardPrompts()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{model: model, sampler: sampler, cfg: cfg, out: out}
}

// Run executes the full benchmark suite and returns a report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Timestamp: time.Now(),
		Model:     r.model.Describe(),
		Config:    r.cfg,
	}

	for _, prompt := range r.cfg.Prompts {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		fmt.Fprintf(r.out, "\n--- Benchmark: %s ---\n", prompt.Name)

		results := r.benchmarkPrompt(ctx, prompt)
		report.Raw = append(report.Raw, results...)
		summary := summarize(prompt.Name, results)
		report.Summaries = append(report.Summaries, summary)

		printSummary(r.out, summary)
	}

	if r.cfg.OutputPath != "" {
		if err := saveReport(report, r.cfg.OutputPath); err != nil {
			fmt.Fprintf(r.out, "Warning: failed to save report: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "\nResults saved to %s\n", r.cfg.OutputPath)
		}
	}

	return report, nil
}

func (r *Runner) benchmarkPrompt(ctx context.Context, prompt Prompt) []IterationResult {
	for i := 0; i < r.cfg.WarmupIterations; i++ {
		if r.cfg.Verbose {
			fmt.Fprintf(r.out, "  warmup %d/%d...\n", i+1, r.cfg.WarmupIterations)
		}
		_, _ = r.runOnce(ctx, prompt, -1)
	}

	var results []IterationResult
	for i := 0; i < r.cfg.Iterations; i++ {
		if r.cfg.Verbose {
			fmt.Fprintf(r.out, "  iteration %d/%d...\n", i+1, r.cfg.Iterations)
		}
		res, err := r.runOnce(ctx, prompt, i)
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// runOnce evaluates the prompt from position zero in batches, then samples
// until EOS, MaxTokens or a full context.
func (r *Runner) runOnce(ctx context.Context, prompt Prompt, iteration int) (IterationResult, error) {
	result := IterationResult{PromptName: prompt.Name, Iteration: iteration}

	tokens, err := r.model.Encode(" "+prompt.Text, true)
	if err != nil {
		return result, fmt.Errorf("tokenize: %w", err)
	}
	capacity := r.model.ContextSize()
	if len(tokens) >= capacity {
		return result, fmt.Errorf("prompt %q needs %d positions, context holds %d", prompt.Name, len(tokens), capacity)
	}
	result.PromptTokens = len(tokens)

	start := time.Now()
	past := 0
	for past < len(tokens) {
		end := min(past+r.cfg.BatchSize, len(tokens))
		if err := r.model.Evaluate(tokens[past:end], past, r.cfg.Threads); err != nil {
			return result, err
		}
		past = end
	}
	promptDone := time.Now()

	recent := append([]runtime.Token(nil), tokens...)
	for result.TokensGenerated < r.cfg.MaxTokens && past < capacity {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		next := r.sampler.Sample(r.model.Logits(), recent, r.cfg.Sampling)
		if result.TokensGenerated == 0 {
			result.TTFT = time.Since(start)
		}
		result.TokensGenerated++
		if next == r.model.EOS() {
			break
		}
		if err := r.model.Evaluate([]runtime.Token{next}, past, r.cfg.Threads); err != nil {
			if errors.Is(err, runtime.ErrContextFull) {
				break
			}
			return result, err
		}
		past++
		recent = append(recent, next)
	}
	end := time.Now()

	result.Duration = end.Sub(start)
	if d := promptDone.Sub(start).Seconds(); d > 0 {
		result.PromptTPS = float64(result.PromptTokens) / d
	}
	if d := end.Sub(promptDone).Seconds(); d > 0 {
		result.GenerationTPS = float64(result.TokensGenerated) / d
	}
	result.RSSBytes = readRSS()

	if r.cfg.Verbose {
		fmt.Fprintf(r.out, "    TTFT=%v  prompt=%d tok @ %.1f tok/s  gen=%d tok @ %.1f tok/s\n",
			result.TTFT.Round(time.Millisecond),
			result.PromptTokens, result.PromptTPS,
			result.TokensGenerated, result.GenerationTPS)
	}
	return result, nil
}

func summarize(name string, results []IterationResult) PromptSummary {
	summary := PromptSummary{Name: name}

	var valid []IterationResult
	for _, r := range results {
		if r.Error == "" {
			valid = append(valid, r)
		}
	}
	summary.Iterations = len(valid)
	summary.Errors = len(results) - len(valid)
	if len(valid) == 0 {
		return summary
	}

	ttft := make([]time.Duration, len(valid))
	dur := make([]time.Duration, len(valid))
	ptps := make([]float64, len(valid))
	gtps := make([]float64, len(valid))
	var genSum float64
	for i, r := range valid {
		ttft[i], dur[i] = r.TTFT, r.Duration
		ptps[i], gtps[i] = r.PromptTPS, r.GenerationTPS
		genSum += float64(r.TokensGenerated)
		summary.PeakRSSBytes = max(summary.PeakRSSBytes, r.RSSBytes)
	}
	summary.TTFT = computeDurationStats(ttft)
	summary.Duration = computeDurationStats(dur)
	summary.PromptTPS = computeFloatStats(ptps)
	summary.GenerationTPS = computeFloatStats(gtps)
	summary.AvgTokensGen = genSum / float64(len(valid))

	return summary
}

// ---------------------------------------------------------------------------
// Statistics helpers
// ---------------------------------------------------------------------------

func computeDurationStats(vals []time.Duration) DurationStats {
	if len(vals) == 0 {
		return DurationStats{}
	}
	sorted := append([]time.Duration(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, v := range sorted {
		sum += v
	}

	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return DurationStats{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / time.Duration(n),
		Median: median,
		P95:    sorted[percentileIndex(n, 95)],
	}
}

func computeFloatStats(vals []float64) FloatStats {
	if len(vals) == 0 {
		return FloatStats{}
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return FloatStats{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / float64(n),
		Median: median,
		P95:    sorted[percentileIndex(n, 95)],
	}
}

// percentileIndex uses the nearest-rank method, clamped to [0, n-1].
func percentileIndex(n, pct int) int {
	if n <= 0 {
		return 0
	}
	idx := (n*pct+99)/100 - 1
	return max(0, min(idx, n-1))
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func printSummary(w io.Writer, s PromptSummary) {
	fmt.Fprintf(w, "  TTFT:       min=%v  avg=%v  p95=%v\n",
		s.TTFT.Min.Round(time.Millisecond),
		s.TTFT.Mean.Round(time.Millisecond),
		s.TTFT.P95.Round(time.Millisecond))
	fmt.Fprintf(w, "  Duration:   min=%v  avg=%v  p95=%v\n",
		s.Duration.Min.Round(time.Millisecond),
		s.Duration.Mean.Round(time.Millisecond),
		s.Duration.P95.Round(time.Millisecond))
	fmt.Fprintf(w, "  Prompt TPS: min=%.1f  avg=%.1f  p95=%.1f\n",
		s.PromptTPS.Min, s.PromptTPS.Mean, s.PromptTPS.P95)
	fmt.Fprintf(w, "  Gen TPS:    min=%.1f  avg=%.1f  p95=%.1f\n",
		s.GenerationTPS.Min, s.GenerationTPS.Mean, s.GenerationTPS.P95)
	fmt.Fprintf(w, "  Tokens:     avg_gen=%.0f\n", s.AvgTokensGen)
	if s.PeakRSSBytes > 0 {
		fmt.Fprintf(w, "  RSS:        peak=%.1f MB\n", float64(s.PeakRSSBytes)/(1024*1024))
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "  Errors:     %d/%d\n", s.Errors, s.Iterations+s.Errors)
	}
}

func saveReport(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
