// Package storagedb is the storage engine (spec §4.1/§4.2): two embedded
// SQLite databases (a primary store and a separate request-audit log
// store) opened through the pure-Go ncruces/go-sqlite3 driver, with a
// pooled connection discipline and a blocking-interact contract for
// operations that must run pinned to one connection.
package storagedb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const driverName = "sqlite3"

// Engine owns the two database handles and enforces the write discipline
// described in spec §4.1: WAL journaling, foreign keys on, a busy timeout,
// and a pool sized for read concurrency.
type Engine struct {
	Primary *sql.DB
	Log     *sql.DB
}

// Options configures Open.
type Options struct {
	// PoolSize is the number of pooled connections per database. Zero
	// means 2*runtime.NumCPU(), per spec §4.1.
	PoolSize int
	// BusyTimeoutMS is the SQLite busy_timeout pragma, minimum 5000ms
	// per spec §4.1.
	BusyTimeoutMS int
}

// Open opens both database files at primaryPath and logPath, applying the
// pragma discipline to each connection in the pool.
func Open(primaryPath, logPath string, opts Options) (*Engine, error) {
	if opts.BusyTimeoutMS < 5000 {
		opts.BusyTimeoutMS = 5000
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 2 * runtime.NumCPU()
	}

	primary, err := openOne(primaryPath, opts.BusyTimeoutMS, poolSize)
	if err != nil {
		return nil, fmt.Errorf("opening primary database: %w", err)
	}
	logDB, err := openOne(logPath, opts.BusyTimeoutMS, poolSize)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("opening log database: %w", err)
	}
	return &Engine{Primary: primary, Log: logDB}, nil
}

func openOne(path string, busyTimeoutMS, poolSize int) (*sql.DB, error) {
	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
			fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS),
		},
		// Every BeginTx acquires the write lock up front (BEGIN IMMEDIATE)
		// instead of on first write, so concurrent writers queue instead
		// of deadlocking under the single-writer discipline of spec §4.1.
		"_txlock": []string{"immediate"},
	}.Encode()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Repos bundles one repository per entity, each bound to the correct
// underlying database (every repo but RpcCallRepo lives on Primary).
type Repos struct {
	Elements         *ElementRepo
	Areas            *AreaRepo
	AreaElements     *AreaElementRepo
	ElementComments  *ElementCommentRepo
	ElementEvents    *ElementEventRepo
	ElementIssues    *ElementIssueRepo
	Reports          *ReportRepo
	Events           *EventRepo
	Users            *UserRepo
	OsmUsers         *OsmUserRepo
	AccessTokens     *AccessTokenRepo
	Invoices         *InvoiceRepo
	Bans             *BanRepo
	PlaceSubmissions *PlaceSubmissionRepo
	Conf             *ConfRepo
	RpcCalls         *RpcCallRepo
}

// NewRepos wires every repository against e's two databases.
func (e *Engine) NewRepos() *Repos {
	return &Repos{
		Elements:         NewElementRepo(e.Primary),
		Areas:            NewAreaRepo(e.Primary),
		AreaElements:     NewAreaElementRepo(e.Primary),
		ElementComments:  NewElementCommentRepo(e.Primary),
		ElementEvents:    NewElementEventRepo(e.Primary),
		ElementIssues:    NewElementIssueRepo(e.Primary),
		Reports:          NewReportRepo(e.Primary),
		Events:           NewEventRepo(e.Primary),
		Users:            NewUserRepo(e.Primary),
		OsmUsers:         NewOsmUserRepo(e.Primary),
		AccessTokens:     NewAccessTokenRepo(e.Primary),
		Invoices:         NewInvoiceRepo(e.Primary),
		Bans:             NewBanRepo(e.Primary),
		PlaceSubmissions: NewPlaceSubmissionRepo(e.Primary),
		Conf:             NewConfRepo(e.Primary),
		RpcCalls:         NewRpcCallRepo(e.Log),
	}
}

// Close closes both database handles.
func (e *Engine) Close() error {
	errPrimary := e.Primary.Close()
	errLog := e.Log.Close()
	if errPrimary != nil {
		return errPrimary
	}
	return errLog
}

// Interact is the blocking-interact contract of spec §4.1: fn runs pinned
// to one exclusively-held connection from db, released when fn returns.
func Interact(ctx context.Context, db *sql.DB, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn)
}

// WithTx runs fn inside a transaction against db (BEGIN IMMEDIATE, via the
// connection's _txlock=immediate DSN option): commits on nil, rolls back
// on error or panic. This is the "transactional batch" operation and the
// serialization mechanism the single-writer discipline relies on (SQLite's
// IMMEDIATE mode acquires the write lock up front, avoiding the deadlocks
// a plain BEGIN can hit under concurrent writers).
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RetryOnBusy retries fn up to attempts times with a fixed backoff when it
// returns a transient lock-conflict error, per spec §7's report-insert
// retry policy (10ms sleep, up to 10 attempts).
func RetryOnBusy(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := fn(); err != nil {
			lastErr = err
			if !isBusyErr(err) {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"SQLITE_BUSY", "database is locked", "UNIQUE constraint failed"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
