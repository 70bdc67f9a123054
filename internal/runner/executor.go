// Package runner invokes the build/simulate command of a test unit for one task.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// OutputCallback is called for each complete line of combined output
type OutputCallback func(task domain.Task, line string)

// ExecutorConfig configures the run executor
type ExecutorConfig struct {
	// Command is the build invocation, e.g. ["make"]
	Command  []string
	SeedVar  string
	TraceVar string
	Env      map[string]string
	// Timeout bounds a single run; zero means no limit
	Timeout  time.Duration
	OnOutput OutputCallback
	Debug    bool
}

// Executor runs build commands inside test unit directories
type Executor struct {
	config ExecutorConfig
}

// NewExecutor creates a new run executor
func NewExecutor(config ExecutorConfig) *Executor {
	if config.SeedVar == "" {
		config.SeedVar = "RANDOM_SEED"
	}
	if config.TraceVar == "" {
		config.TraceVar = "VCD_PATH"
	}
	return &Executor{config: config}
}

// Args returns the argument vector used for a task
func (e *Executor) Args(task domain.Task) []string {
	args := make([]string, 0, len(e.config.Command)+2)
	args = append(args, e.config.Command...)
	args = append(args,
		fmt.Sprintf("%s=%d", e.config.SeedVar, task.Seed),
		fmt.Sprintf("%s=%s", e.config.TraceVar, task.TracePath),
	)
	return args
}

// Run executes the build for one task. A non-zero exit is a normal result;
// the returned error is only set when the process could not be started.
func (e *Executor) Run(ctx context.Context, task domain.Task) (*domain.RunResult, error) {
	if len(e.config.Command) == 0 {
		return nil, &domain.ExecutionError{Task: task, Err: errors.New("no build command configured")}
	}

	start := time.Now()
	runCtx := ctx
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	args := e.Args(task)
	if e.config.Debug {
		log.Printf("[runner] %s: %q in %s", task.Describe(), args, task.Unit.RootPath)
	}

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = task.Unit.RootPath
	if e.config.Timeout > 0 {
		// children of make may keep the pipes open after the kill
		cmd.WaitDelay = 5 * time.Second
	}
	cmd.Env = os.Environ()
	for k, v := range e.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		e.config.SeedVar+"="+strconv.FormatUint(task.Seed, 10),
		e.config.TraceVar+"="+task.TracePath,
	)

	// Same writer for both streams keeps their interleaving
	out := &combinedOutput{task: task, onLine: e.config.OnOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, &domain.ExecutionError{Task: task, Err: err}
	}
	if e.config.Debug {
		log.Printf("[runner] %s started with PID %d", task.Describe(), cmd.Process.Pid)
	}

	err := cmd.Wait()
	out.flush()

	result := &domain.RunResult{
		Task:     task,
		Coverage: domain.CoverageSkipped,
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &domain.ExecutionError{Task: task, Err: err}
		}
		result.ExitCode = exitErr.ExitCode()
		result.Status = domain.RunFailed
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			out.note(fmt.Sprintf("[regress] run timed out after %s", e.config.Timeout))
		}
	} else {
		result.Status = domain.RunPassed
		result.Succeeded = true
	}
	result.Output = out.String()

	if e.config.Debug {
		log.Printf("[runner] %s finished in %.2fs with exit code %d", task.Describe(), result.Duration.Seconds(), result.ExitCode)
	}
	return result, nil
}

// combinedOutput buffers stdout and stderr in arrival order and forwards
// complete lines to an optional callback
type combinedOutput struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	pending []byte
	task    domain.Task
	onLine  OutputCallback
}

func (c *combinedOutput) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)
	if c.onLine == nil {
		return len(p), nil
	}
	c.pending = append(c.pending, p...)
	for {
		idx := bytes.IndexByte(c.pending, '\n')
		if idx < 0 {
			break
		}
		c.onLine(c.task, string(c.pending[:idx]))
		c.pending = c.pending[idx+1:]
	}
	return len(p), nil
}

func (c *combinedOutput) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onLine != nil && len(c.pending) > 0 {
		c.onLine(c.task, string(c.pending))
		c.pending = nil
	}
}

func (c *combinedOutput) note(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() > 0 && !bytes.HasSuffix(c.buf.Bytes(), []byte("\n")) {
		c.buf.WriteByte('\n')
	}
	c.buf.WriteString(line)
	c.buf.WriteByte('\n')
}

func (c *combinedOutput) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
