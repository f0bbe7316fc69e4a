package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/codec"
	cesender "github.com/atlasapi/atlas-deer-sub000/pkg/deer/messaging/cloudevents"
	badgerstore "github.com/atlasapi/atlas-deer-sub000/pkg/deer/repo/badger"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/repo/memory"
	repopg "github.com/atlasapi/atlas-deer-sub000/pkg/deer/repo/postgres"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageBadger   = "badger"
)

// Messaging backends.
const (
	MessagingNone        = "none"
	MessagingLog         = "log"
	MessagingCloudEvents = "cloudevents"
)

// Config is the runtime configuration of the write path. Every field can be
// set from a DEER_* environment variable.
type Config struct {
	Storage     string `env:"DEER_STORAGE" env-default:"memory"`
	DatabaseURL string `env:"DEER_DATABASE_URL"`
	ReplicaURL  string `env:"DEER_REPLICA_URL"`
	DBSchema    string `env:"DEER_DB_SCHEMA"`
	BadgerDir   string `env:"DEER_BADGER_DIR"`

	Messaging   string `env:"DEER_MESSAGING" env-default:"log"`
	EventsURL   string `env:"DEER_EVENTS_URL"`
	EventSource string `env:"DEER_EVENT_SOURCE" env-default:"atlas-deer"`

	Timeout            time.Duration `env:"DEER_TIMEOUT" env-default:"1m"`
	NotificationFanout int           `env:"DEER_NOTIFICATION_FANOUT" env-default:"8"`
	LogLevel           string        `env:"DEER_LOG_LEVEL" env-default:"info"`
}

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Storage:            StorageMemory,
		Messaging:          MessagingLog,
		EventSource:        cesender.DefaultSource,
		Timeout:            deer.DefaultTimeout,
		NotificationFanout: 8,
		LogLevel:           "info",
	}
}

// WithDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error. Apply it before WithEnv.
func WithDotEnv(paths ...string) Option {
	return func(c *Config) error {
		if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
}

// WithEnv reads DEER_* environment variables. Unset variables reset their
// field to its default, so apply WithEnv before programmatic options.
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		if c.Storage == StorageMemory && isPostgresURL(c.DatabaseURL) {
			c.Storage = StoragePostgres
		}
		return nil
	}
}

// WithDatabaseURL selects postgres storage at url.
func WithDatabaseURL(url string) Option {
	return func(c *Config) error {
		c.Storage = StoragePostgres
		c.DatabaseURL = url
		return nil
	}
}

// WithBadgerDir selects badger storage in dir. An empty dir is in-memory.
func WithBadgerDir(dir string) Option {
	return func(c *Config) error {
		c.Storage = StorageBadger
		c.BadgerDir = dir
		return nil
	}
}

// WithMemoryStorage selects in-memory storage.
func WithMemoryStorage() Option {
	return func(c *Config) error {
		c.Storage = StorageMemory
		return nil
	}
}

// WithCloudEvents sends notifications as CloudEvents to url.
func WithCloudEvents(url string) Option {
	return func(c *Config) error {
		c.Messaging = MessagingCloudEvents
		c.EventsURL = url
		return nil
	}
}

// WithMessaging selects a messaging backend by name.
func WithMessaging(name string) Option {
	return func(c *Config) error {
		c.Messaging = name
		return nil
	}
}

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Timeout = d
		return nil
	}
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageBadger:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using postgres")
		}
		if !isPostgresURL(c.DatabaseURL) {
			return fmt.Errorf("unsupported database_url format: %s (use 'postgresql://...')", c.DatabaseURL)
		}
	default:
		return fmt.Errorf("storage must be one of memory, postgres, badger: got %q", c.Storage)
	}

	switch c.Messaging {
	case MessagingNone, MessagingLog:
	case MessagingCloudEvents:
		if c.EventsURL == "" {
			return errors.New("events_url is required when using cloudevents")
		}
	default:
		return fmt.Errorf("messaging must be one of none, log, cloudevents: got %q", c.Messaging)
	}

	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.NotificationFanout <= 0 {
		return errors.New("notification_fanout must be positive")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Logger returns a text logger on stderr at the configured level.
func (c *Config) Logger() *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Deer holds the wired stores and the resources behind them.
type Deer struct {
	Storage     deer.Storage
	IDs         deer.IDGenerator
	Sender      deer.MessageSender
	Graphs      *deer.GraphStore
	Content     *deer.ContentStore
	Equivalents *deer.EquivalentContentStore
	Logger      *slog.Logger

	migrate func(context.Context) error
	closers []func() error
}

// Migrate creates the storage schema where the backend needs one.
func (d *Deer) Migrate(ctx context.Context) error {
	if d.migrate == nil {
		return nil
	}
	return d.migrate(ctx)
}

// Close releases pools and databases in reverse order of creation.
func (d *Deer) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires storage, id generation, messaging and the stores.
func (c *Config) Build(ctx context.Context) (*Deer, error) {
	d := &Deer{Logger: c.Logger()}

	if err := c.buildStorage(ctx, d); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to build storage: %w", err)
	}
	sender, err := c.buildSender(d.Logger)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to build message sender: %w", err)
	}
	d.Sender = sender

	common := []deer.Option{
		deer.WithStorage(d.Storage),
		deer.WithMarshaller(codec.New()),
		deer.WithTimeout(c.Timeout),
		deer.WithLogger(d.Logger),
	}
	if d.Graphs, err = deer.NewGraphStore(common...); err != nil {
		_ = d.Close()
		return nil, err
	}
	common = append(common,
		deer.WithMessageSender(d.Sender),
		deer.WithGraphStore(d.Graphs),
	)

	d.Content, err = deer.NewContentStore(append(common,
		deer.WithIDGenerator(d.IDs),
		deer.WithNotificationFanout(c.NotificationFanout),
	)...)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.Equivalents, err = deer.NewEquivalentContentStore(append(common,
		deer.WithContentResolver(d.Content),
	)...)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (c *Config) buildStorage(ctx context.Context, d *Deer) error {
	switch c.Storage {
	case StorageMemory:
		d.Storage = memory.New()
		d.IDs = memory.NewIDGenerator(0)
		return nil

	case StorageBadger:
		store, err := badgerstore.Open(c.BadgerDir)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, store.Close)
		ids, err := badgerstore.NewSequenceIDGenerator(store, 1000)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, ids.Release)
		d.Storage = store
		d.IDs = ids
		return nil

	case StoragePostgres:
		primary, err := c.newPool(ctx, c.DatabaseURL)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, closePool(primary))
		replica := primary
		if c.ReplicaURL != "" {
			if replica, err = c.newPool(ctx, c.ReplicaURL); err != nil {
				return err
			}
			d.closers = append(d.closers, closePool(replica))
		}
		d.Storage = repopg.NewWithReplica(primary, replica)
		d.IDs = repopg.NewSequenceIDGenerator(primary)
		d.migrate = func(ctx context.Context) error {
			return repopg.Migrate(ctx, primary)
		}
		return nil

	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage)
	}
}

func (c *Config) newPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	// Optionally set search_path for the connection
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}

func (c *Config) buildSender(logger *slog.Logger) (deer.MessageSender, error) {
	switch c.Messaging {
	case MessagingNone:
		return deer.NewNoopMessageSender(), nil
	case MessagingLog:
		return deer.NewLoggingMessageSender(logger), nil
	case MessagingCloudEvents:
		return cesender.New(c.EventsURL, c.EventSource)
	default:
		return nil, fmt.Errorf("unsupported messaging type: %s", c.Messaging)
	}
}
