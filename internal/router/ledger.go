package router

import (
	"sync"
	"time"
)

// CostRecord is one model call's telemetry. Records live in memory for the
// life of the ledger and are never persisted.
type CostRecord struct {
	Model        string        `json:"model"`
	Task         Task          `json:"task"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Latency      time.Duration `json:"latency_ns"`
	Timestamp    time.Time     `json:"timestamp"`
}

// CostLedger accumulates cost records. It is an explicit accumulator handed
// to the router at construction rather than hidden process state; callers
// that want per-request accounting construct a fresh ledger.
type CostLedger struct {
	mu      sync.Mutex
	records []CostRecord
}

func NewCostLedger() *CostLedger {
	return &CostLedger{records: make([]CostRecord, 0)}
}

func (l *CostLedger) Append(record CostRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
}

// Snapshot returns a copy of the accumulated records.
func (l *CostLedger) Snapshot() []CostRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := make([]CostRecord, len(l.records))
	copy(ret, l.records)
	return ret
}

// TotalCost sums the recorded costs in USD.
func (l *CostLedger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, record := range l.records {
		total += record.CostUSD
	}
	return total
}
