// Package command wraps process execution behind interfaces so callers can be
// tested with mock builders instead of real programs.
package command

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
)

// Executor runs one prepared command.
// This abstraction enables unit testing without spawning processes.
type Executor interface {
	// Run executes the command. When an output writer is set, stdout and
	// stderr stream to it and the returned output is nil; otherwise the
	// combined output is returned.
	Run() ([]byte, error)

	// SetStdin sets the stdin for the command.
	SetStdin(stdin []byte)

	// SetOutput streams stdout and stderr to w.
	SetOutput(w io.Writer)
}

// Builder creates executors for external programs.
type Builder interface {
	// BuildCommand creates a Executor for name with args. The
	// process is killed if ctx is cancelled before it exits.
	BuildCommand(ctx context.Context, name string, args ...string) Executor
}

// RealExecutor wraps exec.Cmd to implement Executor.
type RealExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command.
func (r *RealExecutor) Run() ([]byte, error) {
	if r.cmd.Stdout != nil {
		return nil, r.cmd.Run()
	}
	return r.cmd.CombinedOutput()
}

// SetStdin sets stdin for the command.
func (r *RealExecutor) SetStdin(stdin []byte) {
	r.cmd.Stdin = bytes.NewReader(stdin)
}

// SetOutput streams the command's output to w.
func (r *RealExecutor) SetOutput(w io.Writer) {
	r.cmd.Stdout = w
	r.cmd.Stderr = w
}

// RealBuilder implements Builder using exec.CommandContext.
type RealBuilder struct{}

// NewRealBuilder creates a new RealBuilder.
func NewRealBuilder() *RealBuilder {
	return &RealBuilder{}
}

// BuildCommand creates a Executor for the given command and arguments.
func (b *RealBuilder) BuildCommand(ctx context.Context, name string, args ...string) Executor {
	return &RealExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

// MockExecutor implements Executor for testing.
type MockExecutor struct {
	// Output is the output to return from Run, or to write to the output
	// writer when one is set.
	Output []byte
	// Err is the error to return from Run.
	Err error
	// Stdin holds the stdin data that was set.
	Stdin []byte
	// RunCalled indicates whether Run was called.
	RunCalled bool
	// OnRun, when set, is called by Run before returning.
	OnRun func() error

	out io.Writer
}

// Run returns the configured output and error.
func (m *MockExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	if m.OnRun != nil {
		if err := m.OnRun(); err != nil {
			return m.Output, err
		}
	}
	if m.out != nil {
		_, _ = m.out.Write(m.Output)
		return nil, m.Err
	}
	return m.Output, m.Err
}

// SetStdin records the stdin data.
func (m *MockExecutor) SetStdin(stdin []byte) {
	m.Stdin = stdin
}

// SetOutput records the output writer.
func (m *MockExecutor) SetOutput(w io.Writer) {
	m.out = w
}

// MockCommand records details of a built command.
type MockCommand struct {
	Name string
	Args []string
}

// MockBuilder implements Builder for testing. It is safe for
// concurrent use.
type MockBuilder struct {
	mu sync.Mutex

	// Commands records all commands that were built.
	Commands []MockCommand
	// NextExecutor is the next executor to return. If nil, creates a default MockExecutor.
	NextExecutor *MockExecutor
	// ExecutorFactory allows creating executors dynamically based on command.
	ExecutorFactory func(name string, args []string) *MockExecutor
}

// NewMockBuilder creates a new MockBuilder.
func NewMockBuilder() *MockBuilder {
	return &MockBuilder{}
}

// BuildCommand creates a MockExecutor and records the command details.
func (b *MockBuilder) BuildCommand(_ context.Context, name string, args ...string) Executor {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Commands = append(b.Commands, MockCommand{Name: name, Args: args})
	if b.ExecutorFactory != nil {
		return b.ExecutorFactory(name, args)
	}
	if b.NextExecutor != nil {
		executor := b.NextExecutor
		b.NextExecutor = nil
		return executor
	}
	return &MockExecutor{}
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockBuilder) LastCommand() *MockCommand {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}
