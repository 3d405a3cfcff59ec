package durable

import (
	"context"
	"errors"
	"fmt"

	surrealdb "github.com/surrealdb/surrealdb.go"

	"github.com/TangoRomeo80/chatty/pkg/log"
)

// SurrealOptions configures the SurrealDB backend.
type SurrealOptions struct {
	URL       string
	Namespace string
	Database  string
	User      string
	Pass      string
	Logger    log.Logger
}

// SurrealStore implements Store on a SurrealDB connection.
type SurrealStore struct {
	db     *surrealdb.DB
	logger log.Logger
}

var _ Store = (*SurrealStore)(nil)

// OpenSurreal connects, signs in when credentials are set, and selects the
// namespace and database.
func OpenSurreal(opts SurrealOptions) (*SurrealStore, error) {
	db, err := surrealdb.New(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("durable: connect %q: %w", opts.URL, err)
	}
	if opts.User != "" {
		if _, err := db.Signin(map[string]interface{}{"user": opts.User, "pass": opts.Pass}); err != nil {
			db.Close()
			return nil, fmt.Errorf("durable: signin: %w", err)
		}
	}
	if _, err := db.Use(opts.Namespace, opts.Database); err != nil {
		db.Close()
		return nil, fmt.Errorf("durable: use %s/%s: %w", opts.Namespace, opts.Database, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &SurrealStore{db: db, logger: logger.WithComponent("durable")}, nil
}

// thing builds a record pointer with the id escaped. Generated ids contain
// dashes, which fall outside the plain identifier set.
func thing(table, id string) string {
	return table + ":⟨" + id + "⟩"
}

func (s *SurrealStore) Create(ctx context.Context, table, id string, doc map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// UPDATE with full content upserts, which keeps replayed create jobs
	// from tripping over the record they already wrote.
	if _, err := s.db.Update(thing(table, id), doc); err != nil {
		return fmt.Errorf("durable: create %s:%s: %w", table, id, err)
	}
	return nil
}

func (s *SurrealStore) Update(ctx context.Context, table, id string, fields map[string]interface{}) error {
	if err := s.exists(ctx, table, id); err != nil {
		return err
	}
	if _, err := s.db.Change(thing(table, id), fields); err != nil {
		return asNotFound(fmt.Errorf("durable: update %s:%s: %w", table, id, err), err)
	}
	return nil
}

func (s *SurrealStore) Delete(ctx context.Context, table, id string) error {
	if err := s.exists(ctx, table, id); err != nil {
		return err
	}
	if _, err := s.db.Delete(thing(table, id)); err != nil {
		return fmt.Errorf("durable: delete %s:%s: %w", table, id, err)
	}
	return nil
}

func (s *SurrealStore) Increment(ctx context.Context, table, id, field string, delta int64) error {
	if err := s.exists(ctx, table, id); err != nil {
		return err
	}
	// Field names come from compiled-in constants, never from callers.
	sql := fmt.Sprintf("UPDATE %s SET %s += $delta", thing(table, id), field)
	if _, err := s.db.Query(sql, map[string]interface{}{"delta": delta}); err != nil {
		return fmt.Errorf("durable: increment %s:%s %s: %w", table, id, field, err)
	}
	return nil
}

func (s *SurrealStore) Read(ctx context.Context, table, id string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.db.Select(thing(table, id))
	if err != nil {
		return nil, asNotFound(fmt.Errorf("durable: read %s:%s: %w", table, id, err), err)
	}
	doc, ok := res.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("durable: read %s:%s: unexpected shape %T", table, id, res)
	}
	return doc, nil
}

func (s *SurrealStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.Info(); err != nil {
		return fmt.Errorf("durable: ping: %w", err)
	}
	return nil
}

func (s *SurrealStore) Close() error {
	s.db.Close()
	return nil
}

// exists resolves a record pointer before a mutation so that a missing
// record surfaces as ErrNotFound instead of an implicit upsert.
func (s *SurrealStore) exists(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.Select(thing(table, id)); err != nil {
		return asNotFound(fmt.Errorf("durable: lookup %s:%s: %w", table, id, err), err)
	}
	return nil
}

// asNotFound collapses the client's missing-record error into ErrNotFound
// and leaves everything else wrapped as transient.
func asNotFound(wrapped, cause error) error {
	if errors.Is(cause, surrealdb.ErrNoRow) {
		return ErrNotFound
	}
	return wrapped
}
