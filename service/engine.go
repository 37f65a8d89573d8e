package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/kelly-nie213/rallycoachAIDemo/config"
)

var (
	ErrEngineTimeout  = errors.New("engine execution timed out")
	ErrOutputTooLarge = errors.New("engine output exceeded size limit")
)

const (
	defaultEngineTimeout   = 600 * time.Second
	defaultEngineMaxOutput = 10 << 20
)

// EngineOutput holds the captured streams of one engine run. Stderr is
// informational only; it never fails a run by itself.
type EngineOutput struct {
	Stdout string
	Stderr string
}

// Engine invokes the external inference process as
// `<command> [args...] <input_file> <output_dir>`, bounded by a
// wall-clock timeout and a captured-output cap.
type Engine struct {
	cfg config.Engine
}

func NewEngine(cfg config.Engine) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEngineTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultEngineMaxOutput
	}
	return &Engine{cfg: cfg}
}

// Run executes the engine and returns its captured output. Output is
// returned even on error so the caller can log it.
func (e *Engine) Run(ctx context.Context, inputPath, outputDir string) (*EngineOutput, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	args := make([]string, 0, len(e.cfg.Args)+2)
	args = append(args, e.cfg.Args...)
	args = append(args, inputPath, outputDir)

	cmd := exec.CommandContext(runCtx, e.cfg.Command, args...)
	stdout := &cappedBuffer{limit: e.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{limit: e.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	zerolog.Ctx(ctx).Info().
		Str("command", e.cfg.Command).
		Strs("args", args).
		Dur("timeout", e.cfg.Timeout).
		Msg("invoking inference engine")

	err := cmd.Run()
	output := &EngineOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return output, fmt.Errorf("%w after %s", ErrEngineTimeout, e.cfg.Timeout)
	case errors.Is(err, ErrOutputTooLarge):
		return output, err
	case err != nil:
		return output, fmt.Errorf("engine execution failed: %w", err)
	}
	return output, nil
}

// cappedBuffer rejects writes past its limit; exec.Cmd propagates the
// write error out of Wait, killing the capture.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		return 0, ErrOutputTooLarge
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
