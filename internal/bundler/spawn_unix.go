//go:build !windows

package bundler

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// messageFDVar tells the child which descriptor carries the message channel.
const messageFDVar = "LOOM_MESSAGE_FD"

// startProcess starts the subprocess with the message channel on fd 3,
// leaving stdio free for human-readable output. Interactive mode runs stdio
// under a pty so the bundler keeps its ANSI progress formatting; otherwise
// output is line-buffered into the logger and the child gets its own process
// group for group signalling.
func (s *Supervisor) startProcess(cmd *exec.Cmd, sess *session) (io.ReadCloser, error) {
	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, writer)
	cmd.Env = append(cmd.Env, messageFDVar+"=3")

	if s.options.Interactive {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			_ = reader.Close()
			_ = writer.Close()
			return nil, err
		}
		go func() {
			_, _ = io.Copy(os.Stdout, ptmx)
			_ = ptmx.Close()
		}()
	} else {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Stdout = s.outputWriter(sess, "stdout")
		cmd.Stderr = s.outputWriter(sess, "stderr")
		if err := cmd.Start(); err != nil {
			_ = reader.Close()
			_ = writer.Close()
			return nil, err
		}
	}

	// The child owns the write end now.
	_ = writer.Close()
	return reader, nil
}
