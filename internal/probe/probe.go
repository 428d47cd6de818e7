// Package probe runs a single RouterOS ping from a router over an established
// SSH client and turns its summary line into a Measurement.
//
// A RouterOS ping prints one line per packet followed by a summary:
//
//	SEQ HOST                                     SIZE TTL TIME  STATUS
//	  0 44.24.241.145                              56  60 26ms
//	  1 44.24.241.145                              56  60 17ms
//	    sent=8 received=8 packet-loss=0% min-rtt=17ms avg-rtt=23ms max-rtt=28ms
//
// Only avg-rtt is kept. The router serializes commands per session, so
// Probe blocks until the remote command has exited and its output drained.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/pingmatrix/internal/logutil"
	"github.com/gluk-w/pingmatrix/internal/model"
)

// AvgRTTKey is the summary field holding the average round-trip time.
const AvgRTTKey = "avg-rtt"

// closeGrace is how long a cancelled command may take to wind down.
const closeGrace = 2 * time.Second

// CommandFailedError is returned when the remote ping exits non-zero.
type CommandFailedError struct {
	ExitCode int
	Output   string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("probe command exited with status %d", e.ExitCode)
}

// ParseError is returned when the output has no usable summary line.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == "" {
		return "parse probe summary: " + e.Reason
	}
	return fmt.Sprintf("parse probe summary %q: %s", e.Line, e.Reason)
}

// Command returns the RouterOS ping command for dst.
func Command(dst model.HostID, count int) string {
	return fmt.Sprintf("/ping %s count=%d", dst, count)
}

// Prober runs probes over SSH clients.
type Prober struct{}

// Probe pings dst count times from the router behind client. src is only
// used to label the result. Cancelling ctx closes the SSH channel, which
// aborts the remote command; the client itself stays usable.
func (Prober) Probe(ctx context.Context, client *ssh.Client, src, dst model.HostID, count int) (model.Measurement, error) {
	if count < 1 {
		count = 1
	}
	cmd := Command(dst, count)
	stdout, stderr, exitCode, err := runCommand(ctx, client, cmd)
	if err != nil {
		return model.Measurement{}, err
	}

	if exitCode != 0 {
		combined := stdout + stderr
		log.Warn().Str("src", src).Str("dst", dst).Int("exit_code", exitCode).
			Str("output", logutil.Truncate(combined)).Msg("probe command failed")
		return model.Measurement{}, &CommandFailedError{ExitCode: exitCode, Output: combined}
	}

	latency, err := ParseOutput(stdout)
	if err != nil {
		log.Warn().Str("src", src).Str("dst", dst).Err(err).
			Str("output", logutil.Truncate(stdout+stderr)).Msg("probe output not understood")
		return model.Measurement{}, err
	}
	return model.Measurement{Source: src, Destination: dst, LatencyMillis: latency}, nil
}

// runCommand executes cmd in a new session and returns its output and exit
// status. A non-nil error means the transport failed, not the command.
func runCommand(ctx context.Context, client *ssh.Client, cmd string) (stdout, stderr string, exitCode int, err error) {
	start := time.Now()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		session.Close()
		// A dead peer never confirms the close; the caller drops the client.
		t := time.NewTimer(closeGrace)
		select {
		case <-done:
		case <-t.C:
		}
		t.Stop()
		return "", "", -1, ctx.Err()
	}

	if elapsed := time.Since(start); elapsed > 30*time.Second {
		log.Debug().Dur("elapsed", elapsed).Str("cmd", cmd).Msg("slow probe command")
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
		}
		return outBuf.String(), errBuf.String(), -1, fmt.Errorf("run %q: %w", cmd, runErr)
	}
	return outBuf.String(), errBuf.String(), 0, nil
}

// ParseOutput extracts the average RTT in milliseconds from a full ping
// report.
func ParseOutput(output string) (int64, error) {
	fields, err := ParseSummary(output)
	if err != nil {
		return 0, err
	}
	return ParseLatency(fields)
}

// ParseSummary finds the summary line, the last non-blank line made only of
// key=value tokens, and splits it into fields.
func ParseSummary(output string) (map[string]string, error) {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return parseSummaryLine(line)
	}
	return nil, &ParseError{Reason: "no output"}
}

func parseSummaryLine(line string) (map[string]string, error) {
	tokens := strings.Fields(line)
	fields := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, &ParseError{Line: line, Reason: fmt.Sprintf("token %q is not key=value", tok)}
		}
		fields[key] = value
	}
	return fields, nil
}

// ParseLatency reads avg-rtt from summary fields. RouterOS prints values such
// as "23ms", "412us" or "23ms512us"; a bare number is taken as
// milliseconds. The result is whole milliseconds, sub-millisecond parts
// truncated.
func ParseLatency(fields map[string]string) (int64, error) {
	raw, ok := fields[AvgRTTKey]
	if !ok {
		return 0, &ParseError{Reason: "missing " + AvgRTTKey}
	}
	ms, err := parseRouterOSDuration(raw)
	if err != nil {
		return 0, &ParseError{Line: AvgRTTKey + "=" + raw, Reason: err.Error()}
	}
	return ms, nil
}

func parseRouterOSDuration(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty value")
	}
	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("value %q has no number", s)
		}
		n, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q: %w", s, err)
		}
		rest = rest[i:]

		j := 0
		for j < len(rest) && (rest[j] < '0' || rest[j] > '9') {
			j++
		}
		unit := rest[:j]
		rest = rest[j:]

		switch unit {
		case "ms", "":
			total += time.Duration(n) * time.Millisecond
		case "us":
			total += time.Duration(n) * time.Microsecond
		case "s":
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("value %q has unknown unit %q", s, unit)
		}
	}
	return total.Milliseconds(), nil
}
