package kvstore

import (
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// zerologWriterLevel is a level-gated zerolog.LevelWriter whose underlying
// writer can be swapped out at runtime, used to reopen the log file on
// SIGHUP without dropping in-flight log records.
type zerologWriterLevel struct {
	w io.Writer // or zerolog.LevelWriter
	l zerolog.Level
	m sync.Mutex
}

var _ zerolog.LevelWriter = (*zerologWriterLevel)(nil)

func newZerologWriterLevel(w io.Writer, l zerolog.Level) *zerologWriterLevel {
	return &zerologWriterLevel{w: w, l: l}
}

func (wl *zerologWriterLevel) Write(p []byte) (n int, err error) {
	wl.m.Lock()
	defer wl.m.Unlock()
	if wl.w != nil {
		return wl.w.Write(p)
	}
	return len(p), nil
}

func (wl *zerologWriterLevel) WriteLevel(l zerolog.Level, p []byte) (n int, err error) {
	if l >= wl.l {
		wl.m.Lock()
		defer wl.m.Unlock()
		if wl.w != nil {
			if lw, ok := wl.w.(zerolog.LevelWriter); ok {
				return lw.WriteLevel(l, p)
			}
			return wl.w.Write(p)
		}
	}
	return len(p), nil
}

func (wl *zerologWriterLevel) SwapWriter(fn func(io.Writer) io.Writer) {
	wl.m.Lock()
	defer wl.m.Unlock()
	wl.w = fn(wl.w)
}

// loggerSet bundles the configured writers so HandleSIGHUP can reopen the
// log file independently of the stdout writer.
type loggerSet struct {
	stdout *zerologWriterLevel
	file   *zerologWriterLevel
	logger zerolog.Logger
}

func configureLogging(c *Config) (*loggerSet, error) {
	ls := &loggerSet{}

	ls.stdout = newZerologWriterLevel(nil, c.LogStdoutLevel)
	if c.LogStdout {
		var w io.Writer = os.Stdout
		if c.LogStdoutPretty {
			w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		ls.stdout.SwapWriter(func(io.Writer) io.Writer { return w })
	}

	ls.file = newZerologWriterLevel(nil, c.LogFileLevel)
	if c.LogFile != "" {
		if err := ls.reopenFile(c.LogFile); err != nil {
			return nil, err
		}
	}

	ls.logger = zerolog.New(zerolog.MultiLevelWriter(ls.stdout, ls.file)).
		Level(c.LogLevel).
		With().Timestamp().Logger()
	return ls, nil
}

func (ls *loggerSet) reopenFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	ls.file.SwapWriter(func(old io.Writer) io.Writer {
		if c, ok := old.(io.Closer); ok {
			c.Close()
		}
		return f
	})
	return nil
}

// middlewares chains http.Handler wrappers in registration order, matching
// the idiom used to build the debug server's handler.
type middlewares []func(http.Handler) http.Handler

func (ms *middlewares) Add(m func(http.Handler) http.Handler) *middlewares {
	*ms = append(*ms, m)
	return ms
}

func (ms *middlewares) Then(h http.Handler) http.Handler {
	for i := len(*ms) - 1; i >= 0; i-- {
		h = (*ms)[i](h)
	}
	return h
}

// accessLog logs each request to the debug server at debug level.
func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("debug server request")
		})
	}
}
