package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical record of one transform session.
//
// Invariants:
//   - Captures the session identity and an ordered list of events.
//   - Contains logical decisions (executed, reused, failed), not runtime details.
//   - Never includes timestamps, durations or error strings.
//
// Events are ordered by Canonicalize, so the same set of decisions always
// produces the same bytes no matter how many workers produced them.
//
// The trace is observational only and never affects execution behavior.
type ExecutionTrace struct {
	Session string
	Events  []TraceEvent
}

// TraceEventKind is the stable discriminator for TraceEvent.
//
// The string values are part of the trace's canonical bytes; do not rename.
type TraceEventKind string

const (
	EventChainSelected        TraceEventKind = "ChainSelected"
	EventTransformCached      TraceEventKind = "TransformCached"
	EventTransformExecuted    TraceEventKind = "TransformExecuted"
	EventTransformFailed      TraceEventKind = "TransformFailed"
	EventTransformIncremental TraceEventKind = "TransformIncremental"
)

// TraceEvent is a single logical transition.
//
// Optional fields must be set deterministically:
//   - Empty slices are normalized to nil (omitted in JSON).
//   - Outputs are sorted.
type TraceEvent struct {
	Kind TraceEventKind

	// Transform names the registered transform (or the chain display name for
	// EventChainSelected).
	Transform string

	// Subject is the input artifact the event refers to.
	Subject string

	// Identity is the workspace identity hash, when one was computed.
	Identity string

	// Reason is a stable reason code, e.g. "ValidationFailure" or "NoHistory".
	Reason string

	// Outputs lists produced files relative to the workspace or input.
	Outputs []string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.Session == "" {
		return errors.New("session is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Transform == "" {
			return fmt.Errorf("events[%d].transform is required for kind %q", i, e.Kind)
		}
		for j, o := range e.Outputs {
			if o == "" {
				return fmt.Errorf("events[%d].outputs[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Events are stably sorted by (subject, transform, kindOrder, identity,
// reason, outputsLex).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Outputs) == 0 {
			t.Events[i].Outputs = nil
			continue
		}
		out := make([]string, len(t.Events[i].Outputs))
		copy(out, t.Events[i].Outputs)
		sort.Strings(out)
		t.Events[i].Outputs = out
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Transform != b.Transform {
			return a.Transform < b.Transform
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Identity != b.Identity {
			return a.Identity < b.Identity
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return compareStringSlices(a.Outputs, b.Outputs)
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventChainSelected:
		return 10
	case EventTransformCached:
		return 20
	case EventTransformIncremental:
		return 30
	case EventTransformExecuted:
		return 40
	case EventTransformFailed:
		return 50
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy of the trace to avoid mutating the caller's slices.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	copyTrace := ExecutionTrace{Session: t.Session}
	copyTrace.Events = make([]TraceEvent, len(t.Events))
	copy(copyTrace.Events, t.Events)
	copyTrace.Canonicalize()
	if err := copyTrace.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&copyTrace)
}

// Hash returns the sha256 hex digest of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field ordering. It does not sort.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.Session == "" {
		return nil, errors.New("session is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"session\":")
	sb, _ := json.Marshal(t.Session)
	buf.Write(sb)
	buf.WriteByte(',')

	buf.WriteString("\"events\":[")
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON fixes field ordering and omits empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var outputs []string
	if len(e.Outputs) > 0 {
		outputs = make([]string, len(e.Outputs))
		copy(outputs, e.Outputs)
		sort.Strings(outputs)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"kind\":")
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	writeOptional := func(name, value string) {
		if value == "" {
			return
		}
		buf.WriteString(",\"" + name + "\":")
		vb, _ := json.Marshal(value)
		buf.Write(vb)
	}
	writeOptional("transform", e.Transform)
	writeOptional("subject", e.Subject)
	writeOptional("identity", e.Identity)
	writeOptional("reason", e.Reason)

	if len(outputs) > 0 {
		buf.WriteString(",\"outputs\":[")
		for i := range outputs {
			if i > 0 {
				buf.WriteByte(',')
			}
			ob, _ := json.Marshal(outputs[i])
			buf.Write(ob)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
