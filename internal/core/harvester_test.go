package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func harvestFixture(t *testing.T) (input, outDir string) {
	t.Helper()
	root := t.TempDir()
	input = filepath.Join(root, "input")
	outDir = filepath.Join(root, "ws", "outputs")
	require.NoError(t, os.MkdirAll(filepath.Join(input, "classes"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "classes", "A.class"), []byte("A"), 0644))
	require.NoError(t, os.MkdirAll(outDir, 0755))
	return input, outDir
}

func TestOutputs_ClassifiesInRegistrationOrder(t *testing.T) {
	input, outDir := harvestFixture(t)
	o := NewOutputs(input, outDir)

	produced := o.File("nested/out.txt")
	require.NoError(t, os.WriteFile(produced, []byte("x"), 0644))
	o.Dir(filepath.Join(input, "classes"))
	o.Dir(input)
	o.Dir(outDir)
	o.File("nested/out.txt") // duplicate registration is ignored

	result, err := o.Harvest()
	require.NoError(t, err)
	assert.Equal(t, []Output{
		{Kind: OutputProduced, RelPath: "nested/out.txt"},
		{Kind: OutputPartOfInput, RelPath: "classes"},
		{Kind: OutputEntireInput},
		{Kind: OutputProduced},
	}, result.Outputs())
}

func TestOutputs_MissingOutputFailsValidation(t *testing.T) {
	input, outDir := harvestFixture(t)
	o := NewOutputs(input, outDir)
	o.File("never-written.txt")

	_, err := o.Harvest()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeMissingOutput, verr.Code)
}

func TestOutputs_TypeMismatchFailsValidation(t *testing.T) {
	input, outDir := harvestFixture(t)

	o := NewOutputs(input, outDir)
	o.File(filepath.Join(input, "classes"))
	_, err := o.Harvest()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeTypeMismatch, verr.Code)

	o = NewOutputs(input, outDir)
	o.Dir(filepath.Join(input, "classes", "A.class"))
	_, err = o.Harvest()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeTypeMismatch, verr.Code)
}

func TestOutputs_OutsideLocationFailsValidation(t *testing.T) {
	input, outDir := harvestFixture(t)
	stray := filepath.Join(t.TempDir(), "stray.txt")
	require.NoError(t, os.WriteFile(stray, []byte("s"), 0644))

	o := NewOutputs(input, outDir)
	o.File(stray)
	_, err := o.Harvest()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeOutsideWorkspace, verr.Code)
}

func TestOutputs_SiblingWithSharedPrefixIsOutside(t *testing.T) {
	input, outDir := harvestFixture(t)
	sibling := outDir + "-other"
	require.NoError(t, os.MkdirAll(sibling, 0755))

	o := NewOutputs(input, outDir)
	o.Dir(sibling)
	_, err := o.Harvest()
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "ValidationFailure", FailureReason(&ValidationError{Code: CodeMissingOutput}))
	assert.Equal(t, "ActionFailure", FailureReason(&ActionError{Cause: errors.New("boom")}))
	assert.Equal(t, "InternalFailure", FailureReason(errors.New("disk full")))
	assert.Equal(t, "", FailureReason(nil))
}

func TestOutputs_ReportsDirectoryCreationFailure(t *testing.T) {
	input, outDir := harvestFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "blocker"), []byte("file"), 0644))
	o := NewOutputs(input, outDir)

	o.File("blocker/out.txt")

	_, err := o.Harvest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating output directory")
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr), "the cause is the mkdir failure, not a missing output")
}
