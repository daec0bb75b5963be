package domain

import (
	"encoding/json"
	"errors"
)

// Trace is the ordered, write-once record of every analyzer invocation in a run.
// Entries are kept in dispatch order. Accessors hand out copies, so a trace
// cannot be edited, reordered or truncated once built.
type Trace struct {
	entries []AnalyzerResult
}

// NewTrace seals a result set into a trace
func NewTrace(results []AnalyzerResult) Trace {
	entries := make([]AnalyzerResult, len(results))
	for i, r := range results {
		entries[i] = r.clone()
	}
	return Trace{entries: entries}
}

func (t Trace) Len() int { return len(t.entries) }

// Entry returns a copy of the i-th entry
func (t Trace) Entry(i int) AnalyzerResult {
	return t.entries[i].clone()
}

// Entries returns a copy of all entries
func (t Trace) Entries() []AnalyzerResult {
	out := make([]AnalyzerResult, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.clone()
	}
	return out
}

// Degraded lists the analyzers whose entry is a fallback, in dispatch order
func (t Trace) Degraded() []ToolName {
	var tools []ToolName
	for _, e := range t.entries {
		if e.Degraded() {
			tools = append(tools, e.ToolName)
		}
	}
	return tools
}

func (t Trace) MarshalJSON() ([]byte, error) {
	if t.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.entries)
}

// UnmarshalJSON restores a stored trace. It refuses to overwrite a trace that already has entries.
func (t *Trace) UnmarshalJSON(data []byte) error {
	if t.entries != nil {
		return errors.New("trace is write-once")
	}
	var entries []AnalyzerResult
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if entries == nil {
		entries = []AnalyzerResult{}
	}
	t.entries = entries
	return nil
}
