package plugin

import (
	"bytes"
	"log/slog"
	"sync"
)

// maxOutputLine caps a single logged line of plugin output.
const maxOutputLine = 4096

// outputLogger forwards whatever a plugin writes to stderr (or, for wasm
// plugins, to stdout) into the structured log, one record per line.
type outputLogger struct {
	logger *slog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

func newOutputLogger(logger *slog.Logger, stream string) *outputLogger {
	return &outputLogger{logger: logger, stream: stream}
}

func (w *outputLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxOutputLine {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *outputLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	if len(line) > maxOutputLine {
		line = line[:maxOutputLine]
	}
	w.logger.Info("plugin output", "stream", w.stream, "line", string(line))
}
