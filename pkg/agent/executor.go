package agent

import (
	"bufio"
	"context"
	"io"
	"os/exec"

	"github.com/cuemby/fleetforge/api/proto"
)

// ShellExecutor runs a dispatched job's Command as a local process,
// streaming stdout/stderr back through emit as it's produced. It is the
// default Executor: enough to drive the protocol end-to-end in a smoke
// binary without any container runtime, matching pkg/agent's reference-only
// scope (a real task DSL/pipeline engine is out of scope).
func ShellExecutor(ctx context.Context, job *proto.JobDefinition, emit func(stream string, data []byte)) (int32, error) {
	if len(job.Command) == 0 {
		return 0, nil
	}

	cmd := exec.CommandContext(ctx, job.Command[0], job.Command[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	done := make(chan struct{}, 2)
	go streamLines(stdout, "stdout", emit, done)
	go streamLines(stderr, "stderr", emit, done)
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return int32(exitErr.ExitCode()), err
		}
		return -1, err
	}
	return 0, nil
}

func streamLines(r io.Reader, stream string, emit func(string, []byte), done chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := append(append([]byte(nil), scanner.Bytes()...), '\n')
		emit(stream, line)
	}
	done <- struct{}{}
}
