package logging

import (
	"io"
	"log"
	"os"
	"sync"
)

// Logger writes INFO lines to stdout and ERROR lines to both stdout and an
// error log file.
type Logger struct {
	info  *log.Logger
	err   *log.Logger
	errMu sync.Mutex
	errW  io.WriteCloser
}

// New opens (or creates) the error log at errorsPath.
func New(errorsPath string) (*Logger, error) {
	f, err := os.OpenFile(errorsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	errWriter := io.MultiWriter(os.Stdout, f)
	return &Logger{
		info: log.New(os.Stdout, "INFO ", log.LstdFlags|log.Lmicroseconds),
		err:  log.New(errWriter, "ERROR ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		errW: f,
	}, nil
}

// Discard returns a logger that writes nowhere. Used by tests and as the
// default when a component is constructed without one.
func Discard() *Logger {
	return &Logger{
		info: log.New(io.Discard, "", 0),
		err:  log.New(io.Discard, "", 0),
	}
}

func (l *Logger) Close() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.errW != nil {
		return l.errW.Close()
	}
	return nil
}

func (l *Logger) Infof(format string, args ...any) {
	l.info.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	l.err.Printf(format, args...)
}

func (l *Logger) Error(err error) {
	if err == nil {
		return
	}
	l.Errorf("%v", err)
}
