package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// OutputDecl declares one output of a CommandAction. Exactly one of File and
// Dir is set. The placeholder "{input}" expands to the input artifact path.
type OutputDecl struct {
	File string `yaml:"file,omitempty"`
	Dir  string `yaml:"dir,omitempty"`
}

// CommandAction runs a shell command as a transform action.
//
// Environment isolation:
//   - ONLY variables declared in Env are visible to the command.
//   - Host environment variables (HOME, USER, PATH, etc.) are NOT passed
//     through; if PATH is not in Env the command sees no PATH.
//   - INPUT_ARTIFACT, OUTPUT_DIR and DEPENDENCIES are always set.
//   - Incremental transforms also get INPUT_INCREMENTAL and INPUT_CHANGES, the
//     path of a file listing one "<added|modified|removed>\t<path>" line per
//     change, paths relative to the input artifact.
//
// The command runs in the output directory. When Outputs is empty the whole
// output directory is registered.
type CommandAction struct {
	Name    string
	Run     string
	Env     map[string]string
	Outputs []OutputDecl
}

func (a *CommandAction) Identity() string { return "command:" + a.Name }

// SecondaryInputHash covers the command, the declared environment and the
// declared outputs.
func (a *CommandAction) SecondaryInputHash() string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(a.Run)
	keys := make([]string, 0, len(a.Env))
	for k := range a.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k)
		write(a.Env[k])
	}
	for _, o := range a.Outputs {
		write("file=" + o.File)
		write("dir=" + o.Dir)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Transform runs the command to completion and registers the declared
// outputs. A non-zero exit status is an error carrying the command's stderr.
func (a *CommandAction) Transform(ctx context.Context, inv Invocation, outputs *Outputs) error {
	if a.Run == "" {
		return fmt.Errorf("command for %q is empty", a.Name)
	}
	for _, o := range a.Outputs {
		if (o.File == "") == (o.Dir == "") {
			return fmt.Errorf("output declaration of %q must set exactly one of file or dir", a.Name)
		}
	}

	// Using "sh -c" to interpret the command string as a shell command.
	changesFile, err := writeChangesFile(inv.Changes)
	if err != nil {
		return err
	}
	if changesFile != "" {
		defer os.Remove(changesFile)
	}

	cmd := exec.Command("sh", "-c", a.Run)
	cmd.Dir = inv.OutputDir
	cmd.Env = buildIsolatedEnv(a.Env, inv, changesFile)

	// Own process group so stray children do not hold the output directory.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("command exited with status %d: %s", exitErr.ExitCode(), tail(stderr.String(), 2048))
		}
		return fmt.Errorf("failed to execute command: %w", err)
	}

	if len(a.Outputs) == 0 {
		outputs.Dir(inv.OutputDir)
		return nil
	}
	for _, o := range a.Outputs {
		if o.File != "" {
			outputs.File(expandInput(o.File, inv.InputArtifact))
		} else {
			outputs.Dir(expandInput(o.Dir, inv.InputArtifact))
		}
	}
	return nil
}

func expandInput(path, input string) string {
	return strings.ReplaceAll(path, "{input}", input)
}

// buildIsolatedEnv constructs the command environment from an allowlist.
// The environment starts EMPTY; only declared variables and the invocation
// variables are added.
func buildIsolatedEnv(env map[string]string, inv Invocation, changesFile string) []string {
	result := make([]string, 0, len(env)+5)
	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}
	result = append(result,
		"INPUT_ARTIFACT="+inv.InputArtifact,
		"OUTPUT_DIR="+inv.OutputDir,
		"DEPENDENCIES="+strings.Join(inv.Dependencies, string(os.PathListSeparator)),
	)
	if inv.Changes != nil {
		result = append(result,
			"INPUT_INCREMENTAL="+strconv.FormatBool(inv.Changes.Incremental),
			"INPUT_CHANGES="+changesFile,
		)
	}
	sort.Strings(result)
	return result
}

// writeChangesFile writes changes to a temporary file outside the workspace so
// it never shows up as an output. It returns "" when changes is nil.
func writeChangesFile(changes *InputChanges) (string, error) {
	if changes == nil {
		return "", nil
	}
	f, err := os.CreateTemp("", "chainweaver-changes-*")
	if err != nil {
		return "", fmt.Errorf("creating changes file: %w", err)
	}
	var b strings.Builder
	for _, c := range changes.Changes {
		fmt.Fprintf(&b, "%s\t%s\n", c.Type, c.Path)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing changes file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing changes file: %w", err)
	}
	return f.Name(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
