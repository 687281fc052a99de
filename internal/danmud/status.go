package danmud

import (
	"fmt"
	"time"

	"github.com/opencode-ai/danmu/internal/dispatcher"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusReport is the decoded Status response.
type StatusReport struct {
	Version       string    `json:"version"`
	Hostname      string    `json:"hostname"`
	StartedAt     time.Time `json:"started_at"`
	ExecutorID    string    `json:"executor_id,omitempty"`
	ExecutorState string    `json:"executor_state"`
	Pending       []string  `json:"pending"`
	Capacity      int       `json:"capacity"`
	Separator     string    `json:"separator"`
	Handled       int64     `json:"handled"`
	Batches       int64     `json:"batches"`
	Singles       int64     `json:"singles"`
	Rejected      int64     `json:"rejected"`
	Interrupts    int64     `json:"interrupts"`
	LastState     string    `json:"last_state,omitempty"`
	LastExecuted  int       `json:"last_executed,omitempty"`
}

// NewStatusReport builds a report from a dispatcher snapshot.
func NewStatusReport(st dispatcher.Status, version, hostname string, startedAt time.Time) StatusReport {
	pending := make([]string, len(st.Pending))
	for i, item := range st.Pending {
		pending[i] = item.Text
	}
	r := StatusReport{
		Version:       version,
		Hostname:      hostname,
		StartedAt:     startedAt.UTC(),
		ExecutorID:    st.ExecutorID,
		ExecutorState: string(st.ExecutorState),
		Pending:       pending,
		Capacity:      st.Capacity,
		Separator:     st.Separator,
		Handled:       st.Handled,
		Batches:       st.Batches,
		Singles:       st.Singles,
		Rejected:      st.Rejected,
		Interrupts:    st.Interrupts,
	}
	if st.LastResult != nil {
		r.LastState = string(st.LastResult.State)
		r.LastExecuted = st.LastResult.Executed
	}
	return r
}

// Struct encodes the report as a protobuf Struct.
func (r StatusReport) Struct() (*structpb.Struct, error) {
	pending := make([]any, len(r.Pending))
	for i, p := range r.Pending {
		pending[i] = p
	}
	return structpb.NewStruct(map[string]any{
		"version":        r.Version,
		"hostname":       r.Hostname,
		"started_at":     r.StartedAt.Format(time.RFC3339),
		"executor_id":    r.ExecutorID,
		"executor_state": r.ExecutorState,
		"pending":        pending,
		"capacity":       r.Capacity,
		"separator":      r.Separator,
		"handled":        r.Handled,
		"batches":        r.Batches,
		"singles":        r.Singles,
		"rejected":       r.Rejected,
		"interrupts":     r.Interrupts,
		"last_state":     r.LastState,
		"last_executed":  r.LastExecuted,
	})
}

// ParseStatusReport decodes a Status response.
func ParseStatusReport(s *structpb.Struct) (StatusReport, error) {
	if s == nil {
		return StatusReport{}, fmt.Errorf("empty status")
	}
	f := s.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }
	num := func(key string) int64 { return int64(f[key].GetNumberValue()) }

	r := StatusReport{
		Version:       str("version"),
		Hostname:      str("hostname"),
		ExecutorID:    str("executor_id"),
		ExecutorState: str("executor_state"),
		Capacity:      int(num("capacity")),
		Separator:     str("separator"),
		Handled:       num("handled"),
		Batches:       num("batches"),
		Singles:       num("singles"),
		Rejected:      num("rejected"),
		Interrupts:    num("interrupts"),
		LastState:     str("last_state"),
		LastExecuted:  int(num("last_executed")),
	}
	if ts := str("started_at"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return StatusReport{}, fmt.Errorf("parse started_at: %w", err)
		}
		r.StartedAt = t
	}
	for _, v := range f["pending"].GetListValue().GetValues() {
		r.Pending = append(r.Pending, v.GetStringValue())
	}
	return r, nil
}
