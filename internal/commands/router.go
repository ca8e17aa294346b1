// Package commands turns admin chat messages into preference store changes.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"morningbot/internal/prefs"
	"morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

// Store is the preference store surface the handlers drive.
type Store interface {
	UpsertBlacklist(ctx context.Context, id, name string) bool
	RemoveBlacklist(ctx context.Context, id string) bool
	ListBlacklist(ctx context.Context) []prefs.Record
	UpsertWeather(ctx context.Context, city, id, name string) bool
	RemoveWeather(ctx context.Context, id string) bool
	ListWeather(ctx context.Context) []prefs.Record
}

type Deps struct {
	Store  Store
	Sender transport.Sender
	Names  transport.NameLookup
	Log    logx.Logger
}

// Request is one matched command.
type Request struct {
	Msg  *transport.Message
	Args []string
	Log  logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) error

type command struct {
	name string
	// groupOnly commands mutate per-group settings.
	groupOnly bool
	handle    HandlerFunc
}

const (
	jobQueueCap = 64
	workers     = 2
)

type Router struct {
	deps Deps
	log  logx.Logger

	mu    sync.RWMutex
	cfg   Config
	table map[string]command
}

func New(deps Deps, cfg Config) *Router {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{deps: deps, log: log.With(logx.String("comp", "commands"))}
	r.Apply(cfg)
	return r
}

// Apply swaps admins and command tokens.
func (r *Router) Apply(cfg Config) {
	cfg = cfg.normalize()
	t := cfg.Tokens
	table := map[string]command{
		t.SetBlacklist:    {name: "blacklist.set", groupOnly: true, handle: r.setBlacklist},
		t.GetBlacklist:    {name: "blacklist.get", handle: r.getBlacklist},
		t.DeleteBlacklist: {name: "blacklist.delete", groupOnly: true, handle: r.deleteBlacklist},
		t.SetWeather:      {name: "weather.set", groupOnly: true, handle: r.setWeather},
		t.GetWeather:      {name: "weather.get", handle: r.getWeather},
		t.DeleteWeather:   {name: "weather.delete", groupOnly: true, handle: r.deleteWeather},
		InfoToken:         {name: "info", handle: r.info},
	}
	r.mu.Lock()
	r.cfg = cfg
	r.table = table
	r.mu.Unlock()
}

func (r *Router) snapshot() (Config, map[string]command) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg, r.table
}

// Handle routes one message. Returns false when the text is not a command.
func (r *Router) Handle(ctx context.Context, msg *transport.Message) bool {
	if msg == nil {
		return false
	}
	parts := tokenize(msg.Text)
	if len(parts) == 0 {
		return false
	}
	cfg, table := r.snapshot()
	cmd, ok := table[parts[0]]
	if !ok {
		return false
	}

	log := r.log.With(
		logx.String("cmd", cmd.name),
		logx.String("conversation", msg.ConversationID),
		logx.String("sender", msg.SenderID),
	)
	req := &Request{Msg: msg, Args: parts[1:], Log: log}

	if !slices.Contains(cfg.Admins, msg.SenderID) {
		log.Info("command rejected: not an admin")
		r.reply(ctx, req, replyUnauthorized)
		return true
	}
	if cmd.groupOnly && !transport.IsGroup(msg.ConversationID) {
		r.reply(ctx, req, replyGroupOnly)
		return true
	}

	h := chain(cmd.handle, withRecover(), withRequestLog(), withTimeout(cfg.Timeout))
	_ = h(ctx, req)
	return true
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Commands run on a small worker pool; a full queue drops the update.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	jobs := make(chan *transport.Message, jobQueueCap)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				r.Handle(ctx, msg)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
		r.log.Info("command dispatcher stopped")
	}()

	r.log.Info("command dispatcher started", logx.Int("workers", workers))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			select {
			case jobs <- up.Message:
			default:
				r.log.Warn("command queue full, dropping message", logx.String("conversation", up.Message.ConversationID))
			}
		}
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if err := r.deps.Sender.SendText(ctx, req.Msg.ConversationID, text); err != nil {
		req.Log.Warn("reply failed", logx.Err(err))
	}
}

type middleware func(next HandlerFunc) HandlerFunc

func chain(h HandlerFunc, m ...middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func withRecover() middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					req.Log.Error("panic recovered", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

func withRequestLog() middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			if err != nil {
				req.Log.Warn("command failed", logx.Duration("dur", time.Since(start)), logx.Err(err))
			} else {
				req.Log.Info("command ok", logx.Duration("dur", time.Since(start)))
			}
			return err
		}
	}
}

// displayName falls back to the id when the host cannot resolve a name.
func (r *Router) displayName(ctx context.Context, req *Request, id string) string {
	if r.deps.Names == nil {
		return id
	}
	name, err := r.deps.Names.DisplayName(ctx, id)
	if err != nil || strings.TrimSpace(name) == "" {
		if err != nil {
			req.Log.Debug("display name lookup failed", logx.Err(err))
		}
		return id
	}
	return strings.TrimSpace(name)
}
