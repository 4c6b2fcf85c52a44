package irc

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Handler receives routed messages, one method per event kind. Embed
// NopHandler to implement only some of them.
type Handler interface {
	OnJoin(s *Session, m *Message) error
	OnPart(s *Session, m *Message) error
	OnChannelMessage(s *Session, m *Message) error
	OnDirectMessage(s *Session, m *Message) error
}

// NopHandler ignores every event
type NopHandler struct{}

func (NopHandler) OnJoin(*Session, *Message) error           { return nil }
func (NopHandler) OnPart(*Session, *Message) error           { return nil }
func (NopHandler) OnChannelMessage(*Session, *Message) error { return nil }
func (NopHandler) OnDirectMessage(*Session, *Message) error  { return nil }

// HookFunc is an extra per-verb callback registered on a Router
type HookFunc func(s *Session, m *Message) error

type hookInfo struct {
	name     string
	hook     HookFunc
	priority int64
}

// Router dispatches messages to a Handler and to per-verb hooks
type Router struct {
	handler Handler

	mu    sync.RWMutex
	hooks map[string][]hookInfo
}

// NewRouter creates a router for h. A nil h behaves like NopHandler.
func NewRouter(h Handler) *Router {
	if h == nil {
		h = NopHandler{}
	}
	return &Router{
		handler: h,
		hooks:   make(map[string][]hookInfo),
	}
}

// Use registers hook for messages of the given verb. Hooks run before the
// handler, lower priority values first (like Unix nice).
func (r *Router) Use(kind string, hook HookFunc, priority int64) {
	name := runtime.FuncForPC(reflect.ValueOf(hook).Pointer()).Name()
	kind = strings.ToUpper(kind)

	r.mu.Lock()
	defer r.mu.Unlock()

	hooks := append(r.hooks[kind], hookInfo{name: name, hook: hook, priority: priority})
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].priority < hooks[j].priority
	})
	r.hooks[kind] = hooks
}

// Route runs the hooks registered for m.Kind, then the handler method for
// its event kind. It reports whether a handler method was called. Errors
// from hooks and the handler are joined; a panicking hook is recovered and
// reported as an error.
func (r *Router) Route(s *Session, m *Message) (bool, error) {
	r.mu.RLock()
	hooks := make([]hookInfo, len(r.hooks[m.Kind]))
	copy(hooks, r.hooks[m.Kind])
	r.mu.RUnlock()

	var errs []error
	for _, info := range hooks {
		if err := runHook(info, s, m); err != nil {
			errs = append(errs, err)
		}
	}

	routed := true
	var err error
	switch {
	case m.Kind == CmdJoin:
		err = r.handler.OnJoin(s, m)
	case m.Kind == CmdPart:
		err = r.handler.OnPart(s, m)
	case m.IsDirect(s.Nickname()):
		err = r.handler.OnDirectMessage(s, m)
	case m.IsChannelMessage(s.Nickname()):
		err = r.handler.OnChannelMessage(s, m)
	default:
		routed = false
	}
	if err != nil {
		errs = append(errs, err)
	}

	return routed, errors.Join(errs...)
}

func runHook(info hookInfo, s *Session, m *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("PANIC in hook %s: %v", info.name, p)
			err = fmt.Errorf("panic in hook %s: %v", info.name, p)
		}
	}()
	return info.hook(s, m)
}
