package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelly-nie213/rallycoachAIDemo/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testEngine(command string, timeout time.Duration, maxOutput int64) *Engine {
	return NewEngine(config.Engine{
		Command:        command,
		Timeout:        timeout,
		MaxOutputBytes: maxOutput,
	})
}

func TestEngineRun_CapturesStreams(t *testing.T) {
	script := writeScript(t, `echo "input=$1 output=$2"
echo "a warning" >&2
echo "success.done"`)
	engine := testEngine(script, 5*time.Second, 1<<20)

	out, err := engine.Run(context.Background(), "/tmp/in.mp4", "/tmp/out")
	require.NoError(t, err)

	assert.Contains(t, out.Stdout, "input=/tmp/in.mp4 output=/tmp/out")
	assert.Contains(t, out.Stdout, "success.done")
	assert.Contains(t, out.Stderr, "a warning")
}

func TestEngineRun_StderrIsNotFailure(t *testing.T) {
	script := writeScript(t, `echo "lots of warnings" >&2
echo "success.done"`)
	engine := testEngine(script, 5*time.Second, 1<<20)

	_, err := engine.Run(context.Background(), "in", "out")
	assert.NoError(t, err)
}

func TestEngineRun_Timeout(t *testing.T) {
	script := writeScript(t, `sleep 5`)
	engine := testEngine(script, 150*time.Millisecond, 1<<20)

	start := time.Now()
	_, err := engine.Run(context.Background(), "in", "out")

	require.ErrorIs(t, err, ErrEngineTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEngineRun_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "partial work"
exit 3`)
	engine := testEngine(script, 5*time.Second, 1<<20)

	out, err := engine.Run(context.Background(), "in", "out")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEngineTimeout)
	assert.Contains(t, out.Stdout, "partial work")
}

func TestEngineRun_OutputCap(t *testing.T) {
	// Writes fit the pipe buffer, so the process exits cleanly and the
	// capture error is what surfaces.
	script := writeScript(t, `head -c 4096 /dev/zero`)
	engine := testEngine(script, 5*time.Second, 1024)

	_, err := engine.Run(context.Background(), "in", "out")
	require.ErrorIs(t, err, ErrOutputTooLarge)
}

func TestNewEngine_Defaults(t *testing.T) {
	engine := NewEngine(config.Engine{Command: "python3"})
	assert.Equal(t, defaultEngineTimeout, engine.cfg.Timeout)
	assert.Equal(t, int64(defaultEngineMaxOutput), engine.cfg.MaxOutputBytes)
}
