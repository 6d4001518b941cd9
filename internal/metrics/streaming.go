package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Outputs is one evaluated batch as seen by the streaming metrics.
type Outputs struct {
	Logits      [][]float32
	Predictions []int
	Labels      []int
}

// Metric is a streaming aggregate over evaluated batches.
type Metric interface {
	// Value returns the running aggregate.
	Value() float64
	// Update folds one batch into the aggregate.
	Update(out Outputs) error
	// Reset clears the local aggregate state.
	Reset()
}

// ValueFn reads a metric's running value.
type ValueFn func() float64

// UpdateFn folds one batch into a metric.
type UpdateFn func(out Outputs) error

// mean accumulates total/count.
type mean struct {
	mu    sync.Mutex
	total float64
	count float64
}

func (m *mean) add(hits, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += float64(hits)
	m.count += float64(n)
}

func (m *mean) Value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	return m.total / m.count
}

func (m *mean) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.count = 0, 0
}

// Accuracy is the running fraction of predictions equal to their label.
type Accuracy struct {
	mean
}

// StreamingAccuracy returns an empty accuracy aggregate.
func StreamingAccuracy() *Accuracy {
	return &Accuracy{}
}

// Update implements Metric.
func (a *Accuracy) Update(out Outputs) error {
	if len(out.Predictions) != len(out.Labels) {
		return errors.Errorf("accuracy: %d predictions for %d labels", len(out.Predictions), len(out.Labels))
	}
	hits := 0
	for i, p := range out.Predictions {
		if p == out.Labels[i] {
			hits++
		}
	}
	a.add(hits, len(out.Labels))
	return nil
}

// RecallAtK is the running fraction of labels found among the k highest logits.
type RecallAtK struct {
	mean
	k int
}

// StreamingRecallAtK returns an empty recall@k aggregate.
func StreamingRecallAtK(k int) *RecallAtK {
	return &RecallAtK{k: k}
}

// Update implements Metric.
func (r *RecallAtK) Update(out Outputs) error {
	if len(out.Logits) != len(out.Labels) {
		return errors.Errorf("recall_at_%d: %d logit rows for %d labels", r.k, len(out.Logits), len(out.Labels))
	}
	hits := 0
	for i, row := range out.Logits {
		if InTopK(row, out.Labels[i], r.k) {
			hits++
		}
	}
	r.add(hits, len(out.Labels))
	return nil
}

// AggregateMetricMap splits named metrics into value and update maps.
func AggregateMetricMap(metrics map[string]Metric) (map[string]ValueFn, map[string]UpdateFn) {
	values := make(map[string]ValueFn, len(metrics))
	updates := make(map[string]UpdateFn, len(metrics))
	for name, m := range metrics {
		values[name] = m.Value
		updates[name] = m.Update
	}
	return values, updates
}

// SortedNames returns the keys of a value map in order.
func SortedNames(values map[string]ValueFn) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArgMax returns the index of the largest value; the first one wins ties.
func ArgMax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// ArgMaxRows applies ArgMax to every row.
func ArgMaxRows(rows [][]float32) []int {
	out := make([]int, len(rows))
	for i, row := range rows {
		out[i] = ArgMax(row)
	}
	return out
}

// InTopK reports whether target is among the k largest values of row.
// Values tied with the target's count in its favour. Out of range targets
// and non-finite rows are never in the top k.
func InTopK(row []float32, target, k int) bool {
	if target < 0 || target >= len(row) || k <= 0 {
		return false
	}
	t := row[target]
	if isNonFinite(t) {
		return false
	}
	larger := 0
	for _, v := range row {
		if isNonFinite(v) {
			return false
		}
		if v > t {
			larger++
		}
	}
	return larger < k
}

func isNonFinite(v float32) bool {
	f := float64(v)
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// Softmax returns the normalised exponentials of row.
func Softmax(row []float32) []float32 {
	out := make([]float32, len(row))
	if len(row) == 0 {
		return out
	}
	maxLogit := row[0]
	for _, v := range row {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range row {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] = float32(float64(out[i]) * inv)
	}
	return out
}

// SoftmaxRows applies Softmax to every row.
func SoftmaxRows(rows [][]float32) [][]float32 {
	out := make([][]float32, len(rows))
	for i, row := range rows {
		out[i] = Softmax(row)
	}
	return out
}
