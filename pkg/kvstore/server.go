package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/r2kv/kvserver/db/snapshotdb"
	"github.com/r2kv/kvserver/pkg/aof"
	"github.com/r2kv/kvserver/pkg/command"
	"github.com/r2kv/kvserver/pkg/protocol"
	"github.com/r2kv/kvserver/pkg/store"
)

// Server owns the listener, the unified store, and the append-only log, and
// drives one goroutine per accepted connection — the idiomatic Go rendering
// of the cooperative per-connection state machine, with the netpoller
// standing in for hand-rolled readiness polling.
type Server struct {
	Logger zerolog.Logger

	addr      string
	debugAddr string

	notifySocket string
	logFilePath  string

	store   *store.Store
	router  *command.Router
	log     *aof.AOF
	metrics *serverMetrics
	ls      *loggerSet

	snapDB *snapshotdb.DB
	snap   *snapshotter

	ln net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
	closed   bool
}

// NewServer configures a new server from c: it replays the append-only log
// into a fresh store, then opens the log for appending and attaches it as
// the store's live appender so every subsequent mutation is recorded.
func NewServer(c *Config) (*Server, error) {
	ls, err := configureLogging(c)
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	st := store.New(c.Capacity, nil)
	if err := aof.Replay(c.AOFPath, store.ReplayTarget{Store: st}); err != nil {
		return nil, fmt.Errorf("replay append-only log: %w", err)
	}

	logFile, err := aof.Open(c.AOFPath, c.AOFFsync)
	if err != nil {
		return nil, fmt.Errorf("open append-only log: %w", err)
	}
	st.SetAppender(logFile)

	m := newServerMetrics()
	m.init()
	m.setStoreSizeFunc(func() float64 { return float64(st.Len()) })

	s := &Server{
		Logger:       ls.logger,
		addr:         c.Addr,
		debugAddr:    c.DebugAddr,
		notifySocket: c.NotifySocket,
		logFilePath:  c.LogFile,
		store:        st,
		router:       command.New(st, ls.logger.With().Str("component", "command").Logger()),
		log:          logFile,
		metrics:      m,
		ls:           ls,
		conns:        make(map[net.Conn]struct{}),
		stopCh:       make(chan struct{}),
	}

	if c.SnapshotDBPath != "" {
		sdb, err := snapshotdb.Open(c.SnapshotDBPath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot db: %w", err)
		}
		if cur, to, err := sdb.Version(); err != nil {
			sdb.Close()
			return nil, fmt.Errorf("snapshot db version: %w", err)
		} else if cur != to {
			if err := sdb.MigrateUp(context.Background(), to); err != nil {
				sdb.Close()
				return nil, fmt.Errorf("snapshot db migrate: %w", err)
			}
		}
		s.snapDB = sdb
		s.snap = &snapshotter{
			db:       sdb,
			store:    st,
			log:      logFile,
			interval: c.SnapshotInterval,
			logger:   ls.logger.With().Str("component", "snapshot").Logger(),
		}
	}

	return s, nil
}

// Run listens and serves until ctx is canceled, then shuts down gracefully:
// it stops accepting, closes every open connection to unblock their
// handlers, waits for them to exit, and closes the append-only log.
func (s *Server) Run(ctx context.Context) error {
	if s.closed {
		return net.ErrClosed
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.Logger.Log().Str("addr", s.addr).Msg("starting server")

	go s.acceptLoop()

	if s.snap != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.snap.run(ctx)
		}()
	}

	var debugSrv *http.Server
	if s.debugAddr != "" {
		debugSrv = &http.Server{Addr: s.debugAddr, Handler: s.debugHandler()}
		go func() {
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Err(err).Msg("debug server failed")
			}
		}()
		s.Logger.Log().Str("addr", s.debugAddr).Msg("starting debug server")
	}

	go s.sdnotify("READY=1")

	<-ctx.Done()
	s.closed = true
	s.Logger.Log().Msg("shutting down")
	go s.sdnotify("STOPPING=1")

	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.ln.Close()

		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})

	if debugSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		debugSrv.Shutdown(shutdownCtx)
		cancel()
	}

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		s.Logger.Warn().Msg("timed out waiting for connections to close")
	}

	if err := s.log.Close(); err != nil {
		s.Logger.Err(err).Msg("failed to close append-only log")
	}
	if s.snapDB != nil {
		if err := s.snapDB.Close(); err != nil {
			s.Logger.Err(err).Msg("failed to close snapshot db")
		}
	}
	return nil
}

// HandleSIGHUP reopens the log file in place, letting log rotation tools
// (e.g. logrotate) swap it out without losing records.
func (s *Server) HandleSIGHUP() {
	if s.closed {
		return
	}
	s.sdnotify("RELOADING=1")
	defer s.sdnotify("READY=1")

	if s.logFilePath != "" {
		if err := s.ls.reopenFile(s.logFilePath); err != nil {
			s.Logger.Err(err).Msg("failed to reopen log file")
		}
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.Logger.Err(err).Msg("accept error")
				continue
			}
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.metrics.connectionsOpened.Inc()
		s.metrics.connectionsActive.Inc()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn implements the connection's cooperative state machine:
// ACCEPTED -> READING (decode whatever complete frames recv_buf holds,
// dispatching each in turn) -> RESPONDING (write the reply) -> READING,
// until a protocol violation or I/O error closes the connection. Because
// each connection has its own goroutine, pipelined requests are naturally
// processed and answered in FIFO order without an explicit queue.
func (s *Server) handleConn(c net.Conn) {
	remote := c.RemoteAddr().String()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
		s.metrics.connectionsActive.Dec()
		s.wg.Done()
	}()

	var recvBuf []byte
	var sendBuf []byte
	readBuf := make([]byte, 64*1024)

	for {
		n, err := c.Read(readBuf)
		if n > 0 {
			recvBuf = append(recvBuf, readBuf[:n]...)

			for {
				frame, consumed, ok, ferr := protocol.DecodeFrame(recvBuf)
				if ferr != nil {
					s.metrics.protocolErrors.Inc()
					s.Logger.Debug().Err(ferr).Str("remote", remote).Msg("protocol error, closing connection")
					return
				}
				if !ok {
					break
				}
				recvBuf = recvBuf[consumed:]

				start := time.Now()
				rep := s.router.Handle(frame)
				s.metrics.commandDuration.UpdateDuration(start)
				s.metrics.commandCounter(commandName(frame), statusLabel(rep.Status)).Inc()

				sendBuf = protocol.EncodeReply(sendBuf[:0], rep)
				if _, werr := c.Write(sendBuf); werr != nil {
					s.Logger.Debug().Err(werr).Str("remote", remote).Msg("write error, closing connection")
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.Logger.Debug().Err(err).Str("remote", remote).Msg("read error, closing connection")
			}
			return
		}
	}
}

func commandName(frame protocol.Frame) string {
	if len(frame.Args) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(frame.Args[0])
}

func statusLabel(status protocol.Status) string {
	switch status {
	case protocol.StatusOK:
		return "ok"
	case protocol.StatusNX:
		return "nx"
	default:
		return "err"
	}
}

// debugHandler serves /metrics and the standard pprof endpoints, gated
// behind DebugAddr so it is never exposed on the same listener as the
// wire protocol.
func (s *Server) debugHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WriteProcessMetrics(w)
		s.metrics.set.WritePrometheus(w)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	var mw middlewares
	mw.Add(accessLog(s.Logger))
	return mw.Then(mux)
}

func (s *Server) sdnotify(state string) (bool, error) {
	if s.notifySocket == "" {
		return false, nil
	}

	socketAddr := &net.UnixAddr{
		Name: s.notifySocket,
		Net:  "unixgram",
	}

	conn, err := net.DialUnix(socketAddr.Net, nil, socketAddr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if _, err = conn.Write([]byte(state)); err != nil {
		return false, err
	}
	return true, nil
}
