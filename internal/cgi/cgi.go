// Package cgi implements the CGI/1.1 bridge from spec §4.G: it spawns the
// configured interpreter against a script, wires its stdin/stdout/stderr
// as non-blocking pipes suitable for registration with the reactor, and
// parses the CGI response header block out of the child's stdout stream.
//
// Grounded on the process-pipe pattern visible in the retrieval pack's
// server-worker code (os/exec.Cmd plus manually created pipes rather than
// Cmd.StdoutPipe, so the read end can be set non-blocking before the
// reactor ever touches it) and on the HTTP_* environment-variable naming
// convention shown by the pack's FastCGI-adjacent examples (see
// DESIGN.md). Connections reference a Process by ConnectionID, never by
// pointer, so a CGI event arriving after the owning connection has
// already closed is a safe, ignorable no-op -- the engine looks the
// connection up by id before touching it.
package cgi

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nolenjoy/forgeserve/internal/hdr"
	"github.com/nolenjoy/forgeserve/internal/httperror"
)

// Process is one spawned CGI child, identified by the Connection that
// owns it.
type Process struct {
	ConnectionID uint64
	Cmd          *exec.Cmd

	StdinW  *os.File // our end; write request body here, close when done
	StdoutR *os.File // our end; read CGI response here
	StderrR *os.File // our end; drained and logged, never parsed

	// StdinFd/StdoutFd/StderrFd cache the raw descriptor numbers captured
	// once at Spawn time. os.File.Fd() forces its receiver back into
	// blocking mode on every call, which would undo SetNonblock above, so
	// callers needing the raw fd for reactor registration or direct
	// unix.Read/Write use these instead of calling Fd() again.
	StdinFd, StdoutFd, StderrFd int

	Deadline time.Time

	termSent bool
}

// EnvParams carries everything needed to build the CGI/1.1 environment
// block from spec §4.G.
type EnvParams struct {
	Method        string
	ScriptName    string
	ScriptPath    string // absolute path on disk, becomes SCRIPT_FILENAME
	PathInfo      string
	QueryString   string
	ContentType   string
	ContentLength int64
	ServerName    string
	ServerPort    string
	RemoteAddr    string
	Headers       hdr.Header
}

// BuildEnv renders the CGI/1.1 environment variable set, translating
// every request header to its HTTP_* form (dashes to underscores,
// uppercased) per spec §4.G.
func BuildEnv(p EnvParams) []string {
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=HTTP/1.1",
		"REQUEST_METHOD=" + p.Method,
		"SCRIPT_NAME=" + p.ScriptName,
		"SCRIPT_FILENAME=" + p.ScriptPath,
		"PATH_INFO=" + p.PathInfo,
		"PATH_TRANSLATED=" + p.ScriptPath + p.PathInfo,
		"QUERY_STRING=" + p.QueryString,
		"SERVER_NAME=" + p.ServerName,
		"SERVER_PORT=" + p.ServerPort,
		"REMOTE_ADDR=" + p.RemoteAddr,
	}
	if p.ContentType != "" {
		env = append(env, "CONTENT_TYPE="+p.ContentType)
	}
	if p.ContentLength > 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.FormatInt(p.ContentLength, 10))
	}
	for name, values := range p.Headers {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if len(values) > 0 {
			env = append(env, key+"="+values[0])
		}
	}
	return env
}

// Spawn starts interpreter (or scriptPath directly if interpreter is
// empty) with non-blocking stdin/stdout/stderr pipes, per spec §4.G
// ("Pipes are created non-blocking"). The working directory is set to the
// script's own directory.
func Spawn(connID uint64, interpreter, scriptPath string, env []string, deadline time.Time) (*Process, error) {
	var cmd *exec.Cmd
	if interpreter != "" {
		cmd = exec.Command(interpreter, scriptPath)
	} else {
		cmd = exec.Command(scriptPath)
	}
	cmd.Env = env
	cmd.Dir = filepath.Dir(scriptPath)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, httperror.Wrap(err, "cgi: stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, httperror.Wrap(err, "cgi: stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, httperror.Wrap(err, "cgi: stderr pipe")
	}

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, httperror.Wrap(err, "cgi: start")
	}
	// The child has inherited its ends; close our copies of them.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	fds := make([]int, 3)
	for i, f := range []*os.File{stdinW, stdoutR, stderrR} {
		fds[i] = int(f.Fd())
		if err := unix.SetNonblock(fds[i], true); err != nil {
			cmd.Process.Kill()
			return nil, httperror.Wrap(err, "cgi: set non-blocking")
		}
	}

	return &Process{
		ConnectionID: connID,
		Cmd:          cmd,
		StdinW:       stdinW,
		StdoutR:      stdoutR,
		StderrR:      stderrR,
		StdinFd:      fds[0],
		StdoutFd:     fds[1],
		StderrFd:     fds[2],
		Deadline:     deadline,
	}, nil
}

// Terminate escalates from SIGTERM to SIGKILL, per spec §4.G's
// deadline-exceeded behaviour. Call once per deadline expiry; a second
// call (after the grace period) sends SIGKILL.
func (p *Process) Terminate() {
	if p.Cmd.Process == nil {
		return
	}
	if !p.termSent {
		p.Cmd.Process.Signal(syscall.SIGTERM)
		p.termSent = true
		return
	}
	p.Cmd.Process.Signal(syscall.SIGKILL)
}

// Close releases all three pipe ends held by the parent.
func (p *Process) Close() {
	p.StdinW.Close()
	p.StdoutR.Close()
	p.StderrR.Close()
}

// Reap collects the child's exit status. It is only called after stdout
// EOF, by which point the child has exited or is exiting, so the wait
// underneath resolves immediately in practice; per spec §5 this is the
// one bounded, rare blocking call the reactor loop tolerates.
func (p *Process) Reap() (exited bool, code int) {
	err := p.Cmd.Wait()
	if err == nil {
		return true, 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return true, exitErr.ExitCode()
	}
	return false, -1
}

// ParsedHeaders is the result of decoding a CGI response header block.
type ParsedHeaders struct {
	Status        int
	Header        hdr.Header
	ContentLength int64 // -1 if not declared
}

// ParseHeaders scans buf for the first CRLFCRLF-terminated header block
// per spec §4.G: a Status header overrides the default 200, a Location
// header implies 302 unless Status already set a code. It returns
// complete=false if buf does not yet contain a full header block (the
// caller should accumulate more stdout bytes and retry), and the byte
// offset where the body begins when complete.
func ParseHeaders(buf []byte) (parsed ParsedHeaders, bodyStart int, complete bool, err *httperror.Status) {
	idx := indexHeaderEnd(buf)
	if idx < 0 {
		return ParsedHeaders{}, 0, false, nil
	}
	headerBlock := buf[:idx]
	bodyStart = idx + headerTerminatorLen(buf, idx)

	h := hdr.Header{}
	status := 200
	for _, line := range splitLines(headerBlock) {
		if len(line) == 0 {
			continue
		}
		i := indexByte(line, ':')
		if i <= 0 {
			return ParsedHeaders{}, 0, false, httperror.ErrBadGateway()
		}
		name := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		h.Add(name, value)
	}
	if raw := h.Get("Status"); raw != "" {
		fields := strings.Fields(raw)
		if len(fields) > 0 {
			if n, perr := strconv.Atoi(fields[0]); perr == nil {
				status = n
			}
		}
		h.Del("Status")
	} else if h.Get(hdr.Location) != "" {
		status = 302
	}
	length := int64(-1)
	if cl := h.Get(hdr.ContentLength); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			length = n
		}
	}
	return ParsedHeaders{Status: status, Header: h, ContentLength: length}, bodyStart, true, nil
}

func indexHeaderEnd(buf []byte) int {
	for i := 0; i+3 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' && buf[i+2] == '\r' && buf[i+3] == '\n' {
			return i
		}
	}
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\n' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func headerTerminatorLen(buf []byte, idx int) int {
	if idx+3 < len(buf) && buf[idx] == '\r' {
		return 4
	}
	return 2
}

func splitLines(b []byte) []string {
	return strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
