//go:build windows

package bundler

import (
	"io"
	"os/exec"
)

// startProcess on Windows rides the message channel on stdout, since
// ExtraFiles is unsupported there. Interactive pty mode is likewise
// unavailable; stderr is line-buffered into the logger.
func (s *Supervisor) startProcess(cmd *exec.Cmd, sess *session) (io.ReadCloser, error) {
	messages, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = s.outputWriter(sess, "stderr")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return messages, nil
}
