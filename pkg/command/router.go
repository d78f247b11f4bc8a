// Package command implements the command router: it validates arity,
// dispatches to the unified store, and formats replies exactly as
// spec.md's dispatch table requires.
package command

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/r2kv/kvserver/pkg/protocol"
	"github.com/r2kv/kvserver/pkg/store"
)

// Router dispatches decoded frames against a store.
type Router struct {
	store  *store.Store
	logger zerolog.Logger
}

// New returns a router backed by s. A PersistenceError from the append-only
// log is logged through logger but never changes the reply: the in-memory
// mutation has already happened and the command still reports OK.
func New(s *store.Store, logger zerolog.Logger) *Router {
	return &Router{store: s, logger: logger}
}

// logAppendErr records a failed append-only-log write. The caller's mutation
// has already landed in the store; this is observability only.
func (r *Router) logAppendErr(cmd, key string, err error) {
	if err == nil {
		return
	}
	r.logger.Error().Err(err).Str("cmd", cmd).Str("key", key).Msg("append-only log write failed")
}

func ok(payload string) protocol.Reply { return protocol.Reply{Status: protocol.StatusOK, Payload: payload} }
func nx() protocol.Reply               { return protocol.Reply{Status: protocol.StatusNX, Payload: ""} }
func errReply(msg string) protocol.Reply {
	return protocol.Reply{Status: protocol.StatusErr, Payload: msg}
}

// Handle dispatches a single decoded frame and returns the reply to send
// back. A PersistenceError from the append-only log never turns into an ERR
// reply — it is logged and the command still reports success, since the
// in-memory mutation already happened. Only protocol-level and socket-level
// failures are fatal to the connection, and those never reach Handle.
func (r *Router) Handle(frame protocol.Frame) protocol.Reply {
	if len(frame.Args) == 0 {
		return errReply("unknown command")
	}
	cmd := strings.ToUpper(frame.Args[0])
	args := frame.Args[1:]

	switch cmd {
	case "GET":
		return r.handleGet(args)
	case "SET":
		return r.handleSet(args)
	case "DEL":
		return r.handleDel(args)
	case "ZADD":
		return r.handleZAdd(args)
	case "ZRANGE":
		return r.handleZRange(args)
	case "ZRANK":
		return r.handleZRank(args)
	case "ZREM":
		return r.handleZRem(args)
	default:
		return errReply("unknown command")
	}
}

func (r *Router) handleGet(args []string) protocol.Reply {
	if len(args) != 1 {
		return errReply("wrong number of arguments")
	}
	v, found := r.store.Get(args[0])
	if !found {
		return nx()
	}
	return ok(string(v))
}

func (r *Router) handleSet(args []string) protocol.Reply {
	if len(args) != 2 {
		return errReply("wrong number of arguments")
	}
	err := r.store.Set(args[0], []byte(args[1]))
	r.logAppendErr("SET", args[0], err)
	return ok("OK")
}

func (r *Router) handleDel(args []string) protocol.Reply {
	if len(args) != 1 {
		return errReply("wrong number of arguments")
	}
	existed, err := r.store.Delete(args[0])
	r.logAppendErr("DEL", args[0], err)
	if !existed {
		return nx()
	}
	return ok("OK")
}

func (r *Router) handleZAdd(args []string) protocol.Reply {
	if len(args) != 3 {
		return errReply("wrong number of arguments")
	}
	score, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return errReply("score must be a number")
	}
	_, err = r.store.ZAdd(args[0], score, args[2])
	r.logAppendErr("ZADD", args[0], err)
	return ok("OK")
}

func (r *Router) handleZRange(args []string) protocol.Reply {
	if len(args) != 3 {
		return errReply("wrong number of arguments")
	}
	lo, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return errReply("score must be a number")
	}
	hi, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return errReply("score must be a number")
	}
	entries, hit := r.store.ZRange(args[0], lo, hi)
	if !hit || len(entries) == 0 {
		return nx()
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatScore(e.Score))
		b.WriteByte(':')
		b.WriteString(e.Member)
	}
	return ok(b.String())
}

func (r *Router) handleZRank(args []string) protocol.Reply {
	if len(args) != 2 {
		return errReply("wrong number of arguments")
	}
	rank, found := r.store.ZRank(args[0], args[1])
	if !found {
		return nx()
	}
	return ok(strconv.Itoa(rank))
}

func (r *Router) handleZRem(args []string) protocol.Reply {
	if len(args) != 2 {
		return errReply("wrong number of arguments")
	}
	existed, err := r.store.ZRem(args[0], args[1])
	r.logAppendErr("ZREM", args[0], err)
	if !existed {
		return nx()
	}
	return ok("OK")
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'g', -1, 64)
}
