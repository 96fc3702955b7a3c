package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"cronpilot/internal/models"
)

// ShellRunner executes TaskKindShell tasks as a child process, capturing
// combined stdout/stderr and the exit code.
type ShellRunner struct{}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// privilegedContextKeys are trigger_context fields injected under a fixed
// env var name regardless of their Go type (TIMESTAMP in particular
// arrives as a time.Time, not a string or number).
var privilegedContextKeys = map[string]string{
	"file_path": "FILE_PATH",
	"event":     "EVENT",
	"timestamp": "TIMESTAMP",
	"tool_name": "TOOL_NAME",
}

// buildEnv assembles the child process environment: parent environment,
// overlaid with the task's declared env, overlaid with injected
// metadata about this execution.
func buildEnv(parentEnv []string, task *models.Task, execution *models.Execution) []string {
	env := append([]string(nil), parentEnv...)
	for k, v := range task.Config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	env = append(env,
		fmt.Sprintf("TASK_ID=%s", task.ID.String()),
		fmt.Sprintf("TASK_NAME=%s", task.Name),
		fmt.Sprintf("TASK_TYPE=%s", task.Kind),
	)
	if execution != nil {
		env = append(env,
			fmt.Sprintf("EXECUTION_ID=%s", execution.ID.String()),
			fmt.Sprintf("TRIGGER_TYPE=%s", execution.TriggerType),
		)
		for k, v := range execution.TriggerContext {
			if envName, ok := privilegedContextKeys[strings.ToLower(k)]; ok {
				env = append(env, fmt.Sprintf("%s=%v", envName, v))
				continue
			}
			switch val := v.(type) {
			case string:
				env = append(env, fmt.Sprintf("%s=%s", strings.ToUpper(k), val))
			case float64, int, int64:
				env = append(env, fmt.Sprintf("%s=%v", strings.ToUpper(k), val))
			}
		}
	}
	return env
}

// streamingWriter tees everything written to it into an in-memory
// buffer (for the final Result.Output) and, chunk by chunk as the
// child process writes, into sink. Stdout and stderr copy concurrently
// onto the same writer, so writes are serialized under mu.
type streamingWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	sink OutputSink
}

func (w *streamingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	w.mu.Unlock()
	if len(p) > 0 {
		w.sink.Output(string(p))
	}
	return len(p), nil
}

func (w *streamingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (s *ShellRunner) Run(ctx context.Context, task *models.Task, execution *models.Execution, sink OutputSink) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, "sh", "-c", task.Config.Command)
	if task.Config.Cwd != "" {
		cmd.Dir = task.Config.Cwd
	}
	cmd.Env = buildEnv(cmd.Environ(), task, execution)

	out := &streamingWriter{sink: sink}
	cmd.Stdout = out
	cmd.Stderr = out

	// New process group so a timeout kills the whole tree, not just the
	// immediate "sh" child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	errMsg := ""
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		errMsg = err.Error()
	}
	if ctx.Err() == context.DeadlineExceeded {
		errMsg = "execution timed out"
	}

	return Result{
		ExitCode: exitCode,
		Output:   out.String(),
		Error:    errMsg,
		Duration: duration,
	}
}
