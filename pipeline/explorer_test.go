package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/scanstreams/errors"
	"github.com/c360/scanstreams/model"
	"github.com/c360/scanstreams/rule"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func specBody(t *testing.T, spec ScanSpec) []byte {
	t.Helper()
	body, err := spec.MarshalJSON()
	require.NoError(t, err)
	return body
}

func TestExplorerEmitsOneConversionPerHandle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "first")
	writeFile(t, dir, "sub/b.txt", "second")

	spec := ScanSpec{
		Tag:    NewScanTag("unit"),
		Source: model.NewFilesystemSource(dir),
		Rule:   rule.NewRegexRule("secret"),
	}
	explorer := NewExplorer()

	outputs, err := explorer.Handle(context.Background(),
		Delivery{Queue: QueueScanSpecs, Body: specBody(t, spec)})
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	paths := map[string]bool{}
	for _, out := range outputs {
		assert.Equal(t, QueueConversions, out.Queue)

		var message ConversionMessage
		require.NoError(t, message.UnmarshalJSON(out.Body))
		assert.Equal(t, spec.Tag.ID, message.Spec.Tag.ID)
		assert.Empty(t, message.Progress.Fragments)
		assert.Equal(t, rule.TypeText, rule.RequiredType(message.Progress.Rule))
		paths[message.Handle.RelativePath()] = true
	}
	assert.Equal(t, map[string]bool{"a.txt": true, "sub/b.txt": true}, paths)
}

func TestExplorerRejectsSpecMissingRule(t *testing.T) {
	explorer := NewExplorer()
	body := []byte(`{"scan_tag":{"id":"x","scanner":"unit"},"source":{"type":"filesystem","path":"/tmp"}}`)

	_, err := explorer.Handle(context.Background(),
		Delivery{Queue: QueueScanSpecs, Body: body})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestExplorerRejectsNonJSON(t *testing.T) {
	explorer := NewExplorer()
	_, err := explorer.Handle(context.Background(),
		Delivery{Queue: QueueScanSpecs, Body: []byte("not a spec")})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestExplorerReportsBrokenSource(t *testing.T) {
	spec := ScanSpec{
		Tag:    NewScanTag("unit"),
		Source: model.NewFilesystemSource(filepath.Join(t.TempDir(), "missing")),
		Rule:   rule.NewRegexRule("secret"),
	}
	explorer := NewExplorer()

	outputs, err := explorer.Handle(context.Background(),
		Delivery{Queue: QueueScanSpecs, Body: specBody(t, spec)})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, QueueProblems, outputs[0].Queue)

	var problem ProblemMessage
	require.NoError(t, problem.UnmarshalJSON(outputs[0].Body))
	assert.Equal(t, spec.Tag.ID, problem.Tag.ID)
	assert.NotEmpty(t, problem.Message)
	assert.Contains(t, problem.Where, "filesystem")
}

func TestExplorerHonorsDiscoveryRate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "x")

	explorer := NewExplorer(WithDiscoveryRate(1000))
	spec := ScanSpec{
		Tag:    NewScanTag("unit"),
		Source: model.NewFilesystemSource(dir),
		Rule:   rule.NewRegexRule("x"),
	}

	outputs, err := explorer.Handle(context.Background(),
		Delivery{Queue: QueueScanSpecs, Body: specBody(t, spec)})
	require.NoError(t, err)
	assert.Len(t, outputs, 1)
}
