package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"

	"popgenval/internal/dispatch"
	"popgenval/internal/model"
	"popgenval/internal/storage"
)

const ExecName = "exec"

var ErrSimulatorFailed = errors.New("external simulator failed")

// ExecRequest is written as JSON to the simulator's stdin.
type ExecRequest struct {
	RunID     string         `json:"run_id,omitempty"`
	Index     int            `json:"index"`
	Replicate int            `json:"replicate"`
	Scenario  model.Scenario `json:"scenario"`
	Seeds     model.SeedPair `json:"seeds"`
}

// ExecRow is one element of the JSON array the simulator prints.
type ExecRow struct {
	Table     string  `json:"table"`
	Statistic string  `json:"statistic"`
	Class     int     `json:"class"`
	Value     float64 `json:"value"`
}

func execFactory(opts Options) (dispatch.Kernel, error) {
	if strings.TrimSpace(opts.ExecCommand) == "" {
		return nil, errors.New("exec kernel requires a command")
	}
	return NewExec(opts), nil
}

// NewExec runs opts.ExecCommand once per task. A non-zero exit fails the
// task with the captured stderr.
func NewExec(opts Options) dispatch.Kernel {
	args := append([]string(nil), opts.ExecArgs...)
	return func(ctx context.Context, task dispatch.Task) ([]model.Row, error) {
		payload, err := json.Marshal(ExecRequest{
			RunID:     opts.RunID,
			Index:     task.Index,
			Replicate: task.Replicate,
			Scenario:  task.Scenario,
			Seeds:     task.Seeds,
		})
		if err != nil {
			return nil, err
		}

		cmd := exec.CommandContext(ctx, opts.ExecCommand, args...)
		cmd.Dir = opts.ExecDir
		cmd.Stdin = bytes.NewReader(payload)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrSimulatorFailed, opts.ExecCommand, err, strings.TrimSpace(stderr.String()))
		}

		var out []ExecRow
		if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
			return nil, fmt.Errorf("decode simulator output: %w", err)
		}
		rows := make([]model.Row, 0, len(out))
		for i, r := range out {
			if r.Table == "" || r.Statistic == "" {
				return nil, fmt.Errorf("simulator row %d: table and statistic are required", i)
			}
			if err := storage.ValidateTableName(r.Table); err != nil {
				return nil, fmt.Errorf("simulator row %d: %w", i, err)
			}
			if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
				return nil, fmt.Errorf("simulator row %d: non-finite value", i)
			}
			rows = append(rows, model.Row{
				Table:     r.Table,
				Scenario:  task.Scenario,
				Statistic: r.Statistic,
				Class:     r.Class,
				Value:     r.Value,
			})
		}
		return rows, nil
	}
}
