package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/FulfillBox/internal/pii"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// DB is the subset of pgxpool.Pool the repos use; pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	defaultLockStaleness    = 300 * time.Second
	defaultAddressRetention = 90 * 24 * time.Hour
)

type Storage struct {
	db     DB
	pool   *pgxpool.Pool
	cipher pii.Cipher

	lockStaleness    time.Duration
	addressRetention time.Duration
}

func New(connString string, cipher pii.Cipher) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{
		db:               pool,
		pool:             pool,
		cipher:           cipher,
		lockStaleness:    defaultLockStaleness,
		addressRetention: defaultAddressRetention,
	}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// NewWithDB wires an existing connection (or a pgxmock pool) without
// running schema init.
func NewWithDB(db DB, cipher pii.Cipher) *Storage {
	return &Storage{
		db:               db,
		cipher:           cipher,
		lockStaleness:    defaultLockStaleness,
		addressRetention: defaultAddressRetention,
	}
}

func (s *Storage) WithLockStaleness(d time.Duration) *Storage {
	if d > 0 {
		s.lockStaleness = d
	}
	return s
}

func (s *Storage) WithAddressRetention(d time.Duration) *Storage {
	if d > 0 {
		s.addressRetention = d
	}
	return s
}

func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	var x int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&x); err != nil {
		return errors.Wrap(err, "ping")
	}
	return nil
}
