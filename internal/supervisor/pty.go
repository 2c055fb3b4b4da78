package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// Session is one running command. Reads return the merged terminal output
// and io.EOF once the child closed it.
type Session interface {
	io.Reader
	// Wait blocks until the child exits and returns its exit code. The
	// error is reserved for failures other than a non-zero exit.
	Wait() (int, error)
}

// Spawner starts commands.
type Spawner interface {
	Spawn(ctx context.Context, command string) (Session, error)
}

// PTYSpawner runs commands through a shell attached to a pseudo-terminal so
// that tools keep their interactive formatting.
type PTYSpawner struct {
	Shell string
	Dir   string
	// Stdin, when set, is copied to the terminal. A read from Stdin cannot
	// be interrupted, so the copy ends at the first input after Wait
	// closed the terminal, and that input is discarded. Leave it nil when
	// one process supervises several commands, as the shell does.
	Stdin io.Reader
	// SizeFrom inherits the window size of this terminal when possible.
	SizeFrom *os.File
}

var defaultSize = &pty.Winsize{Rows: 30, Cols: 100}

// Spawn starts command under "<shell> -c".
func (p *PTYSpawner) Spawn(ctx context.Context, command string) (Session, error) {
	shell := p.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), "FORCE_COLOR=1")

	size := defaultSize
	if p.SizeFrom != nil {
		if ws, err := pty.GetsizeFull(p.SizeFrom); err == nil {
			size = ws
		}
	}

	tty, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, err
	}
	s := &ptySession{cmd: cmd, tty: tty, input: make(chan struct{})}
	if p.Stdin != nil {
		go func() {
			defer close(s.input)
			_, _ = io.Copy(tty, p.Stdin)
		}()
	} else {
		close(s.input)
	}
	return s, nil
}

type ptySession struct {
	cmd *exec.Cmd
	tty *os.File
	// input is closed once the stdin copy has returned.
	input chan struct{}
}

// Read maps the EIO a Linux master returns after the child hung up to EOF.
func (s *ptySession) Read(b []byte) (int, error) {
	n, err := s.tty.Read(b)
	if err != nil && errors.Is(err, syscall.EIO) {
		err = io.EOF
	}
	return n, err
}

func (s *ptySession) Wait() (int, error) {
	defer s.tty.Close()
	err := s.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		return 1, err
	}
	return 1, err
}
