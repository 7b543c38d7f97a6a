package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tokstats/internal/retry"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverJSON     = "json"
)

// Options selects and locates a Store.
type Options struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	JSONPath    string
	// ConnectRetries is the number of connection attempts.
	ConnectRetries int
	// ConnectDelay is the wait between attempts.
	ConnectDelay time.Duration
	Logger       *slog.Logger
}

// Open connects to the configured backend, retrying connection failures
// ConnectRetries times ConnectDelay apart.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	open, err := opener(opts)
	if err != nil {
		return nil, err
	}

	log := opts.Logger.With("driver", opts.Driver)
	var store Store
	err = retry.Do(ctx, retry.Fixed(opts.ConnectRetries, opts.ConnectDelay), retryable,
		func(attempt int, err error, wait time.Duration) {
			log.Warn("storage connection failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
		func(ctx context.Context) error {
			s, err := open(ctx)
			if err != nil {
				return err
			}
			store = s
			return nil
		})
	if err != nil {
		return nil, err
	}
	log.Debug("storage opened")
	return store, nil
}

func opener(opts Options) (func(context.Context) (Store, error), error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return func(ctx context.Context) (Store, error) { return OpenSQLite(ctx, opts.SQLitePath) }, nil
	case DriverPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("%w: postgres driver needs a DSN", ErrInvalidInput)
		}
		return func(ctx context.Context) (Store, error) { return OpenPostgres(ctx, opts.PostgresDSN) }, nil
	case DriverJSON:
		return func(context.Context) (Store, error) { return NewJSONStore(opts.JSONPath) }, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
}

// retryable keeps retrying connection failures but gives up on corrupt data
// and bad input.
func retryable(err error) bool {
	if errors.Is(err, ErrStorageCorrupt) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	return retry.IsRetryable(err)
}
