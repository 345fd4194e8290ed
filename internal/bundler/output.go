package bundler

import (
	"bytes"
	"io"
	"sync"

	"loom/internal/logging"
)

func (s *Supervisor) outputWriter(sess *session, stream string) io.Writer {
	return &lineWriter{
		logger: s.logger,
		fields: map[string]string{
			"platform": sess.platform,
			"stream":   stream,
		},
	}
}

// lineWriter buffers subprocess output and logs it one line at a time.
type lineWriter struct {
	mu     sync.Mutex
	logger *logging.Logger
	fields map[string]string
	rest   []byte
}

func (w *lineWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rest = append(w.rest, data...)
	for {
		index := bytes.IndexByte(w.rest, '\n')
		if index < 0 {
			break
		}
		line := bytes.TrimRight(w.rest[:index], "\r")
		w.rest = w.rest[index+1:]
		if len(line) == 0 {
			continue
		}
		w.logger.Debug(string(line), w.fields)
	}
	return len(data), nil
}
