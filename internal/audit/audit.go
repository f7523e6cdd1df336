// Package audit defines the append-only audit sink the orchestrator
// writes every phase transition to, as newline-delimited JSON.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is one audit line: (timestamp, phase, action, host, extra
// fields...). Order across records for the same host is preserved by
// Sink implementations.
type Record struct {
	Timestamp time.Time
	Phase     string
	Action    string
	Host      string
	Fields    map[string]interface{}
}

// MarshalJSON renders the record as the flat JSON object the spec's
// scenarios expect: ts, phase, action, host, then the extra fields.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["ts"] = r.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339)
	m["phase"] = r.Phase
	m["action"] = r.Action
	m["host"] = r.Host
	return json.Marshal(m)
}

// Sink is the audit collaborator. Append must be safe for concurrent
// use; implementations serialize writes so lines never interleave.
type Sink interface {
	Append(r Record) error

	// Ticket records an optional CMDB/ticketing hook, attributed to the
	// calling phase. It is audit-only: no real ticketing system is
	// integrated, so the default behavior is to record the ticket as an
	// ordinary audit entry under that phase.
	Ticket(phase, host, summary string, fields map[string]interface{}) error
}

// JSONLSink appends Records as one JSON object per line to a file,
// guarded by a mutex so the critical section is a single append+flush,
// matching the orchestrator's shared-resource contract for the audit
// sink.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONLSink opens (creating if needed) path for append and returns
// a Sink backed by it. The caller should Close it when the pass ends.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	return &JSONLSink{file: f}, nil
}

func (s *JSONLSink) Append(r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("audit: marshaling record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("audit: writing record: %w", err)
	}
	return s.file.Sync()
}

func (s *JSONLSink) Ticket(phase, host, summary string, fields map[string]interface{}) error {
	f := map[string]interface{}{"summary": summary}
	for k, v := range fields {
		f[k] = v
	}
	return s.Append(Record{Timestamp: time.Now(), Phase: phase, Action: "ticket", Host: host, Fields: f})
}

func (s *JSONLSink) Close() error {
	return s.file.Close()
}

// MemorySink is an in-memory Sink for tests, preserving append order.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *MemorySink) Ticket(phase, host, summary string, fields map[string]interface{}) error {
	f := map[string]interface{}{"summary": summary}
	for k, v := range fields {
		f[k] = v
	}
	return s.Append(Record{Timestamp: time.Now(), Phase: phase, Action: "ticket", Host: host, Fields: f})
}

// Records returns a snapshot of all records appended so far, in order.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Actions returns the "phase/action" string of each record in order,
// the shape the spec's scenarios assert against.
func (s *MemorySink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Phase + "/" + r.Action
	}
	return out
}
