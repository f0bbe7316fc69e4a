package deer

import (
	"log/slog"
	"time"
)

// DefaultTimeout bounds every blocking storage and lock wait made on behalf
// of one public call.
const DefaultTimeout = time.Minute

const defaultFanout = 8

type options struct {
	storage    Storage
	marshaller Marshaller
	hasher     Hasher
	sender     MessageSender
	graphs     EquivalenceGraphStore
	ids        IDGenerator
	resolver   ContentResolver
	lock       *GroupLock[Id]
	clock      Clock
	timeout    time.Duration
	logger     *slog.Logger
	fanout     int
}

func defaultOptions() options {
	return options{
		hasher:  NewContentHasher(),
		sender:  NewNoopMessageSender(),
		clock:   SystemClock,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		fanout:  defaultFanout,
	}
}

// Option represents a functional option for configuring the stores
type Option func(*options)

// WithStorage sets the column store
func WithStorage(storage Storage) Option {
	return func(o *options) {
		o.storage = storage
	}
}

// WithMarshaller sets the content row codec
func WithMarshaller(m Marshaller) Option {
	return func(o *options) {
		o.marshaller = m
	}
}

// WithHasher replaces the default ContentHasher
func WithHasher(h Hasher) Option {
	return func(o *options) {
		o.hasher = h
	}
}

// WithMessageSender sets where change notifications go
func WithMessageSender(sender MessageSender) Option {
	return func(o *options) {
		o.sender = sender
	}
}

// WithGraphStore sets the equivalence graph store used for partition keys
func WithGraphStore(graphs EquivalenceGraphStore) Option {
	return func(o *options) {
		o.graphs = graphs
	}
}

// WithIDGenerator sets the id source for new content
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}

// WithContentResolver sets how the equivalent content store resolves content
func WithContentResolver(r ContentResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithGroupLock shares a lock between stores
func WithGroupLock(lock *GroupLock[Id]) Option {
	return func(o *options) {
		o.lock = lock
	}
}

// WithClock sets the time source
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithTimeout bounds each public call
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithNotificationFanout caps how many notifications are sent concurrently
func WithNotificationFanout(n int) Option {
	return func(o *options) {
		o.fanout = n
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.fanout <= 0 {
		o.fanout = defaultFanout
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = SystemClock
	}
	return o
}
