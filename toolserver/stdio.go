package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// maxLineBytes bounds one response line. Tool results embed full provider
// pages, so the limit is generous.
const maxLineBytes = 4 << 20

type stdioCaller struct{}

func newStdioCaller() *stdioCaller {
	return &stdioCaller{}
}

// call spawns the configured command, writes one request line to its stdin
// and scans stdout for the response line with a matching id. The process is
// killed when the timeout expires.
func (s *stdioCaller) call(ctx context.Context, cfg ServerConfig, req request, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)

	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, connectionErr(err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, connectionErr(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, connectionErr(err)
	}

	// The process is abandoned on every exit path; Wait reaps it after the
	// context kills it or it exits on its own.
	defer func() {
		_ = stdin.Close()
		_ = cmd.Wait()
	}()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(line, '\n')); err != nil {
		return nil, s.classify(ctx, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, protocolErr(fmt.Sprintf("malformed response line: %.100s", raw), 0)
		}

		// Lines with other ids are stale responses from a previous request
		// on a long-lived server; skip them.
		if resp.ID != req.ID {
			continue
		}

		if resp.Error != nil {
			return nil, protocolErr(resp.Error.Message, resp.Error.Code)
		}

		if resp.Result == nil {
			return nil, protocolErr("response missing result", 0)
		}

		return resp.Result, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, s.classify(ctx, err)
	}

	// Stdout closed without a matching response: the process exited early
	// or the call timed out.
	return nil, s.classify(ctx, errors.New("server closed stream without responding"))
}

func (s *stdioCaller) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutErr(ctx.Err())
	}

	return connectionErr(err)
}
