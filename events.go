package profilefs

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

type subscriber[F any] struct {
	id int
	fn F
}

// subscribers is an ordered list of callbacks with unsubscribe support.
type subscribers[F any] struct {
	list []subscriber[F]
}

func (s *subscribers[F]) add(id int, fn F) {
	s.list = append(s.list, subscriber[F]{id: id, fn: fn})
}

func (s *subscribers[F]) remove(id int) {
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers[F]) snapshot() []F {
	out := make([]F, len(s.list))
	for i, sub := range s.list {
		out[i] = sub.fn
	}
	return out
}

// Events holds the subscribers of FileSystem notifications. Callbacks run
// synchronously on the goroutine that triggered the event, in subscription
// order. A panicking callback is logged and does not affect the others.
//
// Every On method returns a function that removes the subscription.
type Events struct {
	mu     sync.Mutex
	nextID int
	logger *slog.Logger

	initStarted       subscribers[func()]
	initCompleted     subscribers[func()]
	shutdownStarted   subscribers[func()]
	shutdownCompleted subscribers[func()]
	created           subscribers[func(*Profile, CreateArgs)]
	deleted           subscribers[func(*Profile)]
	reset             subscribers[func(*Profile)]
	changed           subscribers[func(*Profile)]
}

func newEvents(logger *slog.Logger) *Events {
	return &Events{logger: logger}
}

func (e *Events) setLogger(logger *slog.Logger) {
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
}

func subscribe[F any](e *Events, list *subscribers[F], fn F) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	list.add(id, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			list.remove(id)
		})
	}
}

func listeners[F any](e *Events, list *subscribers[F]) ([]F, *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return list.snapshot(), e.logger
}

// safeCall invokes fn, logging instead of propagating a panic.
func safeCall(logger *slog.Logger, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event subscriber panicked",
				"event", event,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// OnInitializationStarted subscribes to the start of Initialize, after the
// state moves to StateInitializing.
func (e *Events) OnInitializationStarted(fn func()) func() {
	return subscribe(e, &e.initStarted, fn)
}

// OnInitializationCompleted subscribes to a successful Initialize
func (e *Events) OnInitializationCompleted(fn func()) func() {
	return subscribe(e, &e.initCompleted, fn)
}

// OnShutdownStarted subscribes to the start of Shutdown, while the profiles
// are still available.
func (e *Events) OnShutdownStarted(fn func()) func() {
	return subscribe(e, &e.shutdownStarted, fn)
}

// OnShutdownCompleted subscribes to the end of Shutdown
func (e *Events) OnShutdownCompleted(fn func()) func() {
	return subscribe(e, &e.shutdownCompleted, fn)
}

// OnProfileCreated subscribes to profile creation. The callback receives the
// new profile and the arguments it was created with.
func (e *Events) OnProfileCreated(fn func(*Profile, CreateArgs)) func() {
	return subscribe(e, &e.created, fn)
}

// OnProfileDeleted subscribes to profile deletion. The callback runs before
// the profile files are removed.
func (e *Events) OnProfileDeleted(fn func(*Profile)) func() {
	return subscribe(e, &e.deleted, fn)
}

// OnProfileReset subscribes to profile resets. The callback runs after the
// profile files are removed.
func (e *Events) OnProfileReset(fn func(*Profile)) func() {
	return subscribe(e, &e.reset, fn)
}

// OnProfileChanged subscribes to active profile switches after
// initialization.
func (e *Events) OnProfileChanged(fn func(*Profile)) func() {
	return subscribe(e, &e.changed, fn)
}

func (e *Events) fire(list *subscribers[func()], event string) {
	fns, logger := listeners(e, list)
	for _, fn := range fns {
		safeCall(logger, event, fn)
	}
}

func (e *Events) fireProfile(list *subscribers[func(*Profile)], event string, p *Profile) {
	fns, logger := listeners(e, list)
	for _, fn := range fns {
		safeCall(logger, event, func() { fn(p) })
	}
}

func (e *Events) fireCreated(p *Profile, args CreateArgs) {
	fns, logger := listeners(e, &e.created)
	for _, fn := range fns {
		safeCall(logger, "profile_created", func() { fn(p, args) })
	}
}
