package adb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Executor runs adb. Tests replace it to check the command lines.
type Executor interface {
	// Output runs a short command and returns its combined output.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start runs a long-lived command, stdout and stderr go to w.
	Start(w io.Writer, name string, args ...string) (Process, error)
}

type Process interface {
	// Stop kills the process and waits for it.
	Stop() error
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done.
	Err() error
}

type execExecutor struct{}

func (execExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return out, nil
}

func (execExecutor) Start(w io.Writer, name string, args ...string) (Process, error) {
	// not bound to a context: the server must outlive the bootstrap call
	cmd := exec.Command(name, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

func (p *execProcess) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
		default:
			p.cmd.Process.Kill()
		}
	})
	<-p.done
	return nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
