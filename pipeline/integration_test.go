//go:build integration
// +build integration

package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/scanstreams/model"
	"github.com/c360/scanstreams/natsclient"
	"github.com/c360/scanstreams/pipeline"
	"github.com/c360/scanstreams/rule"
)

// startNATSContainer starts a JetStream-enabled NATS container and returns
// the container and connection URL.
func startNATSContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		Cmd:          []string{"-js"},
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForLog("Server is ready"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return container, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func connect(t *testing.T, ctx context.Context, url string) *natsclient.Client {
	t.Helper()
	client, err := natsclient.NewClient(url)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}

// TestIntegration_FullScanOverJetStream runs every stage against a real
// broker and follows one scan from submission to exported results.
func TestIntegration_FullScanOverJetStream(t *testing.T) {
	ctx := context.Background()
	container, url := startNATSContainer(t, ctx)
	defer container.Terminate(ctx)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leak.txt"),
		[]byte("holds the secret payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clean.txt"),
		[]byte("nothing here"), 0o644))

	client := connect(t, ctx, url)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	explorer := pipeline.NewExplorer()
	converter := pipeline.NewConverter(nil)
	matcher := pipeline.NewMatcher(nil)
	tagger := pipeline.NewTagger(nil)
	exporter := pipeline.NewExporter()

	stages := []*pipeline.Stage{
		pipeline.NewStage("explorer", client, explorer.Inputs(), explorer.Handle),
		pipeline.NewStage("converter", client, converter.Inputs(), converter.Handle,
			pipeline.WithWorkers(2)),
		pipeline.NewStage("matcher", client, matcher.Inputs(), matcher.Handle,
			pipeline.WithWorkers(2)),
		pipeline.NewStage("tagger", client, tagger.Inputs(), tagger.Handle),
		pipeline.NewStage("exporter", client, exporter.Inputs(), exporter.Handle),
	}
	for _, stage := range stages {
		stage := stage
		go func() { _ = stage.Run(runCtx) }()
	}

	// A separate connection drains the results queue
	sink := connect(t, ctx, url)
	_, err := sink.EnsureStream(ctx, pipeline.StreamName, pipeline.AllSubjects())
	require.NoError(t, err)

	var mu sync.Mutex
	var results []pipeline.ResultMessage
	err = sink.Consume(ctx, pipeline.StreamName, "results-sink",
		pipeline.Subject(pipeline.QueueResults), 8, func(msg jetstream.Msg) {
			var result pipeline.ResultMessage
			if json.Unmarshal(msg.Data(), &result) == nil {
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}
			_ = msg.Ack()
		})
	require.NoError(t, err)

	spec := pipeline.ScanSpec{
		Tag:    pipeline.NewScanTag("integration"),
		Source: model.NewFilesystemSource(dir),
		Rule:   rule.NewRegexRule("secret"),
	}
	require.NoError(t, pipeline.Submit(ctx, client, spec))

	// Two verdicts plus one metadata message for the matched item
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) >= 3
	}, 30*time.Second, 100*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	matched := map[string]bool{}
	metadataCount := 0
	for _, result := range results {
		switch result.Origin {
		case pipeline.QueueMatches:
			var verdict pipeline.MatchMessage
			require.NoError(t, verdict.UnmarshalJSON(result.Body))
			matched[verdict.Handle.RelativePath()] = verdict.Matched
		case pipeline.QueueMetadata:
			metadataCount++
		case pipeline.QueueProblems:
			t.Fatalf("unexpected problem: %s", result.Body)
		}
	}
	assert.Equal(t, map[string]bool{"leak.txt": true, "clean.txt": false}, matched)
	assert.Equal(t, 1, metadataCount)
}

// TestIntegration_PurgeClearsPendingWork verifies the purge path against a
// real stream.
func TestIntegration_PurgeClearsPendingWork(t *testing.T) {
	ctx := context.Background()
	container, url := startNATSContainer(t, ctx)
	defer container.Terminate(ctx)

	client := connect(t, ctx, url)

	spec := pipeline.ScanSpec{
		Tag:    pipeline.NewScanTag("integration"),
		Source: model.NewFilesystemSource("/does/not/matter"),
		Rule:   rule.NewRegexRule("x"),
	}
	require.NoError(t, pipeline.Submit(ctx, client, spec))

	failures := pipeline.Purge(ctx, client, nil)
	assert.Nil(t, failures)
}
