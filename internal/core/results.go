package core

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputKind classifies one output of an execution.
type OutputKind int

const (
	// OutputEntireInput is the input artifact itself.
	OutputEntireInput OutputKind = iota
	// OutputPartOfInput is a file or directory inside the input artifact.
	OutputPartOfInput
	// OutputProduced lives under the workspace output directory.
	OutputProduced
)

func (k OutputKind) String() string {
	switch k {
	case OutputEntireInput:
		return "entire-input"
	case OutputPartOfInput:
		return "part-of-input"
	case OutputProduced:
		return "produced"
	default:
		return "unknown"
	}
}

// Output is one classified output. RelPath is slash separated; it is empty
// for OutputEntireInput and for the output directory itself.
type Output struct {
	Kind    OutputKind
	RelPath string
}

const (
	inputPrefix  = "i/"
	outputPrefix = "o/"
)

// ExecutionResult is the immutable, ordered list of outputs of a successful
// execution.
type ExecutionResult struct {
	outputs []Output
}

// NewExecutionResult copies outputs into a new result.
func NewExecutionResult(outputs ...Output) *ExecutionResult {
	cp := make([]Output, len(outputs))
	copy(cp, outputs)
	for i := range cp {
		switch {
		case cp[i].Kind == OutputEntireInput:
			cp[i].RelPath = ""
		case cp[i].Kind == OutputPartOfInput && cp[i].RelPath == "":
			cp[i].Kind = OutputEntireInput
		}
	}
	return &ExecutionResult{outputs: cp}
}

// Outputs returns a copy of the classified outputs.
func (r *ExecutionResult) Outputs() []Output {
	if r == nil {
		return nil
	}
	cp := make([]Output, len(r.outputs))
	copy(cp, r.outputs)
	return cp
}

func (r *ExecutionResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.outputs)
}

func (r *ExecutionResult) Equal(o *ExecutionResult) bool {
	if r.Len() != o.Len() {
		return false
	}
	for i := range r.outputs {
		if r.outputs[i] != o.outputs[i] {
			return false
		}
	}
	return true
}

// Resolve maps the outputs to absolute paths for a concrete input artifact
// and workspace output directory.
func (r *ExecutionResult) Resolve(inputArtifact, outputDir string) []string {
	files := make([]string, 0, r.Len())
	for _, o := range r.Outputs() {
		switch o.Kind {
		case OutputEntireInput:
			files = append(files, inputArtifact)
		case OutputPartOfInput:
			files = append(files, filepath.Join(inputArtifact, filepath.FromSlash(o.RelPath)))
		case OutputProduced:
			files = append(files, filepath.Join(outputDir, filepath.FromSlash(o.RelPath)))
		}
	}
	return files
}

// MarshalText encodes the results record: one line per output, "i/<path>"
// for input-derived outputs and "o/<path>" for produced ones.
func (r *ExecutionResult) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	for _, o := range r.Outputs() {
		if strings.ContainsAny(o.RelPath, "\n\r") {
			return nil, fmt.Errorf("output path %q contains a line break", o.RelPath)
		}
		switch o.Kind {
		case OutputEntireInput, OutputPartOfInput:
			buf.WriteString(inputPrefix)
		case OutputProduced:
			buf.WriteString(outputPrefix)
		default:
			return nil, fmt.Errorf("unknown output kind %d", o.Kind)
		}
		buf.WriteString(o.RelPath)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ParseExecutionResult decodes a results record written by MarshalText.
func ParseExecutionResult(data []byte) (*ExecutionResult, error) {
	var outputs []Output
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		switch {
		case text == inputPrefix:
			outputs = append(outputs, Output{Kind: OutputEntireInput})
		case strings.HasPrefix(text, inputPrefix):
			outputs = append(outputs, Output{Kind: OutputPartOfInput, RelPath: text[len(inputPrefix):]})
		case strings.HasPrefix(text, outputPrefix):
			outputs = append(outputs, Output{Kind: OutputProduced, RelPath: text[len(outputPrefix):]})
		default:
			return nil, fmt.Errorf("results line %d: unexpected entry %q", line, text)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}
	return &ExecutionResult{outputs: outputs}, nil
}

// WriteResultsFile persists r at path atomically.
func WriteResultsFile(path string, r *ExecutionResult) error {
	data, err := r.MarshalText()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("writing results file: %w", err)
	}
	return nil
}

// ReadResultsFile loads a results file. The boolean is false when no file
// exists at path.
func ReadResultsFile(path string) (*ExecutionResult, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading results file: %w", err)
	}
	r, err := ParseExecutionResult(data)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return r, true, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync() // best-effort durability
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
