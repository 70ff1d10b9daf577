package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxHookStderrBytes caps the stderr kept from a departure hook.
	maxHookStderrBytes = 64 * 1024

	defaultHookTimeout = 30 * time.Second
	hookGracePeriod    = 5 * time.Second
)

// HookRequest is written as one JSON line to the hook's stdin.
type HookRequest struct {
	Protocol int      `json:"protocol"`
	RunID    string   `json:"run_id"`
	UnitID   int      `json:"unit_id"`
	Day      string   `json:"day"`
	Capacity int      `json:"capacity"`
	Workers  []string `json:"workers"`
}

// HookResponse is the optional JSON the hook prints on stdout. A missing
// headcount means every assigned worker departed.
type HookResponse struct {
	Headcount *int `json:"headcount,omitempty"`
}

// HookDeparter runs an external command for each departing unit, e.g. to
// notify a driver or check workers onto the bus.
type HookDeparter struct {
	Command string
	Args    []string
	Timeout time.Duration
	Grace   time.Duration
	Logger  *slog.Logger
}

func (h HookDeparter) Depart(ctx context.Context, a Assignment) (int, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	grace := h.Grace
	if grace <= 0 {
		grace = hookGracePeriod
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("unit_id", a.UnitID, "hook", h.Command)

	req := HookRequest{
		Protocol: 1,
		RunID:    a.RunID,
		UnitID:   a.UnitID,
		Day:      a.Day,
		Capacity: a.Capacity,
		Workers:  a.Names(),
	}
	stdout, stderr, err := h.run(ctx, req, timeout, grace, logger)
	if stderr != "" {
		logger.Debug("hook stderr", "stderr", stderr)
	}
	if err != nil {
		return 0, err
	}

	resp, err := decodeHookResponse(stdout)
	if err != nil {
		return 0, err
	}
	if resp.Headcount == nil {
		return a.Size(), nil
	}
	return *resp.Headcount, nil
}

func (h HookDeparter) run(ctx context.Context, req HookRequest, timeout, grace time.Duration, logger *slog.Logger) ([]byte, string, error) {
	if h.Command == "" {
		return nil, "", errors.New("departure hook command is empty")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Termination is managed below, so no CommandContext.
	cmd := exec.Command(h.Command, h.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("starting departure hook", "timeout", timeout)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start hook: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- json.NewEncoder(stdin).Encode(req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timer.C:
		logger.Warn("departure hook timed out, sending SIGTERM")
		terminate(cmd, waitErr, grace, logger)
		return nil, truncate(stderr.String(), maxHookStderrBytes), fmt.Errorf("departure hook timed out after %v", timeout)

	case <-ctx.Done():
		terminate(cmd, waitErr, grace, logger)
		return nil, truncate(stderr.String(), maxHookStderrBytes), ctx.Err()

	case err := <-waitErr:
		errStr := truncate(stderr.String(), maxHookStderrBytes)
		if werr := <-writeErr; werr != nil {
			// A hook that exits without reading stdin is allowed.
			logger.Debug("hook did not read request", "error", werr)
		}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, errStr, fmt.Errorf("departure hook exited with status %d", exitErr.ExitCode())
			}
			return nil, errStr, fmt.Errorf("wait for hook: %w", err)
		}
		return stdout.Bytes(), errStr, nil
	}
}

// terminate sends SIGTERM, then SIGKILL after grace, and waits for exit.
func terminate(cmd *exec.Cmd, waitErr <-chan error, grace time.Duration, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-waitErr:
		logger.Info("hook exited after SIGTERM")
	case <-t.C:
		logger.Warn("hook did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func decodeHookResponse(out []byte) (HookResponse, error) {
	var resp HookResponse
	if len(bytes.TrimSpace(out)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return resp, fmt.Errorf("hook output is not valid JSON: %w", err)
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
