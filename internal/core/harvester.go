package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Outputs collects the output locations an action registers.
//
// Relative paths resolve under the output directory. Registering the input
// artifact, or a location inside it, is allowed; anything outside both fails
// validation after the action returns.
type Outputs struct {
	inputArtifact string
	outputDir     string

	mu         sync.Mutex
	registered []registeredOutput
	mkdirErr   error
}

type registeredOutput struct {
	path string
	dir  bool
}

// NewOutputs returns an empty registry for one execution.
func NewOutputs(inputArtifact, outputDir string) *Outputs {
	return &Outputs{
		inputArtifact: filepath.Clean(inputArtifact),
		outputDir:     filepath.Clean(outputDir),
	}
}

// File registers a file output and returns its absolute path. Parent
// directories under the output directory are created.
func (o *Outputs) File(path string) string {
	abs := o.resolve(path)
	if isWithin(abs, o.outputDir) {
		o.mkdir(filepath.Dir(abs))
	}
	o.add(registeredOutput{path: abs})
	return abs
}

// Dir registers a directory output and returns its absolute path. A
// directory under the output directory is created.
func (o *Outputs) Dir(path string) string {
	abs := o.resolve(path)
	if abs == o.outputDir || isWithin(abs, o.outputDir) {
		o.mkdir(abs)
	}
	o.add(registeredOutput{path: abs, dir: true})
	return abs
}

// Registered returns the registered absolute paths in registration order.
func (o *Outputs) Registered() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.registered))
	for i, r := range o.registered {
		out[i] = r.path
	}
	return out
}

func (o *Outputs) resolve(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.outputDir, path)
	}
	return filepath.Clean(path)
}

// mkdir keeps the first failure so Harvest can report it instead of the
// missing output it causes.
func (o *Outputs) mkdir(dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		o.mu.Lock()
		if o.mkdirErr == nil {
			o.mkdirErr = fmt.Errorf("creating output directory %q: %w", dir, err)
		}
		o.mu.Unlock()
	}
}

func (o *Outputs) add(r registeredOutput) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.registered {
		if existing == r {
			return
		}
	}
	o.registered = append(o.registered, r)
}

// Harvest validates every registered output and classifies it, in
// registration order.
//
// Returns a *ValidationError if:
//   - A registered output does not exist
//   - A registered file is a directory, or a registered directory is a file
//   - An output is neither inside the input artifact nor the output directory
func (o *Outputs) Harvest() (*ExecutionResult, error) {
	o.mu.Lock()
	registered := make([]registeredOutput, len(o.registered))
	copy(registered, o.registered)
	mkdirErr := o.mkdirErr
	o.mu.Unlock()
	if mkdirErr != nil {
		return nil, mkdirErr
	}

	outputs := make([]Output, 0, len(registered))
	for _, r := range registered {
		info, err := os.Stat(r.path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &ValidationError{Path: r.path, Code: CodeMissingOutput, Message: "does not exist"}
			}
			return nil, fmt.Errorf("stat output %q: %w", r.path, err)
		}
		if r.dir && !info.IsDir() {
			return nil, &ValidationError{Path: r.path, Code: CodeTypeMismatch, Message: "registered as a directory but is a file"}
		}
		if !r.dir && info.IsDir() {
			return nil, &ValidationError{Path: r.path, Code: CodeTypeMismatch, Message: "registered as a file but is a directory"}
		}

		out, ok := o.classify(r.path)
		if !ok {
			return nil, &ValidationError{Path: r.path, Code: CodeOutsideWorkspace, Message: "is neither part of the input artifact nor of the output directory"}
		}
		outputs = append(outputs, out)
	}
	return NewExecutionResult(outputs...), nil
}

func (o *Outputs) classify(path string) (Output, bool) {
	switch {
	case path == o.inputArtifact:
		return Output{Kind: OutputEntireInput}, true
	case isWithin(path, o.inputArtifact):
		return Output{Kind: OutputPartOfInput, RelPath: relSlash(o.inputArtifact, path)}, true
	case path == o.outputDir:
		return Output{Kind: OutputProduced}, true
	case isWithin(path, o.outputDir):
		return Output{Kind: OutputProduced, RelPath: relSlash(o.outputDir, path)}, true
	default:
		return Output{}, false
	}
}

// isWithin reports whether path lies strictly below dir.
func isWithin(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func relSlash(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
