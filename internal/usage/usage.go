// Package usage tracks estimated API spend across models.
//
// The accumulator is a pure fold over per-call records: each Add computes the
// cost of that one call from the pricing table and adds it to the running
// totals. No entry is ever reduced except by an explicit Reset, and the
// result is independent of the order calls are recorded in.
package usage

// ModelStats aggregates consumption for a single model.
type ModelStats struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Images       int     `json:"images"`
	Videos       int     `json:"videos"`
	Cost         float64 `json:"cost"`
}

// Stats is the full usage picture: total estimated cost plus a per-model
// breakdown.
type Stats struct {
	TotalCost float64               `json:"totalCost"`
	Breakdown map[string]ModelStats `json:"breakdown"`
}

// Accumulator folds per-call usage into running stats. It is not safe for
// concurrent use; callers serialize access.
type Accumulator struct {
	stats Stats
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{stats: Stats{Breakdown: map[string]ModelStats{}}}
}

// Add records one completed call. Token counts price per this call's own
// volume: tiered models pick their rate from this call's token count alone,
// so recording order never changes the total.
func (a *Accumulator) Add(model string, inputTokens, outputTokens int64, images, videos int) {
	cost := callCost(model, inputTokens, outputTokens, images, videos)

	ms := a.stats.Breakdown[model]
	ms.InputTokens += inputTokens
	ms.OutputTokens += outputTokens
	ms.Images += images
	ms.Videos += videos
	ms.Cost += cost
	a.stats.Breakdown[model] = ms

	a.stats.TotalCost += cost
}

// Reset zeroes everything. This is the only way stats decrease.
func (a *Accumulator) Reset() {
	a.stats = Stats{Breakdown: map[string]ModelStats{}}
}

// Snapshot returns a deep copy of the current stats.
func (a *Accumulator) Snapshot() Stats {
	out := Stats{
		TotalCost: a.stats.TotalCost,
		Breakdown: make(map[string]ModelStats, len(a.stats.Breakdown)),
	}
	for k, v := range a.stats.Breakdown {
		out.Breakdown[k] = v
	}
	return out
}

// Restore replaces the accumulator state, typically with stats loaded from
// the settings store at startup.
func (a *Accumulator) Restore(s Stats) {
	a.stats = Stats{TotalCost: s.TotalCost, Breakdown: make(map[string]ModelStats, len(s.Breakdown))}
	for k, v := range s.Breakdown {
		a.stats.Breakdown[k] = v
	}
}
