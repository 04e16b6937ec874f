// Package memstore is an in-memory implementation of the ledger, escrow,
// identity, credit-config and api-key stores. Transactions are fully serialized and
// buffer their writes until Commit, so rollback discards every effect.
// It backs unit and handler tests.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inaiurai/credits/internal/models"
)

// Operation names accepted by Fail.
const (
	OpSaveWallet        = "SaveWallet"
	OpAppendTransaction = "AppendTransaction"
	OpAddSessionUsage   = "AddSessionUsage"
	OpInsertEscrow      = "InsertEscrow"
	OpUpdateEscrow      = "UpdateEscrow"
	OpUpsertIdentity    = "UpsertIdentity"
	OpCommit            = "Commit"
)

// DB holds committed state. Use the Ledger, Escrows, Identities, Config and
// APIKeys views to get the per-component store interfaces.
type DB struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	wallets    map[string]models.Wallet
	entries    []models.CreditTransaction
	txids      map[string]bool
	sessions   map[string]int64
	escrows    map[uuid.UUID]models.EscrowTransaction
	escrowSeq  []uuid.UUID
	identities map[string]models.AgentIdentity
	activity   map[string]models.AgentActivity
	config     map[string]string
	apiKeys    map[uuid.UUID]models.APIKey
	faults     map[string]error
}

func New() *DB {
	return &DB{
		wallets:    make(map[string]models.Wallet),
		txids:      make(map[string]bool),
		sessions:   make(map[string]int64),
		escrows:    make(map[uuid.UUID]models.EscrowTransaction),
		identities: make(map[string]models.AgentIdentity),
		activity:   make(map[string]models.AgentActivity),
		config:     make(map[string]string),
		apiKeys:    make(map[uuid.UUID]models.APIKey),
		faults:     make(map[string]error),
	}
}

// Fail makes every later call of op return err. A nil err clears the fault.
func (db *DB) Fail(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.faults, op)
		return
	}
	db.faults[op] = err
}

func (db *DB) fault(op string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.faults[op]
}

// Begin opens a transaction. Only one transaction is open at a time.
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.txMu.Lock()
	return &Tx{
		db:         db,
		wallets:    make(map[string]models.Wallet),
		escrows:    make(map[uuid.UUID]models.EscrowTransaction),
		identities: make(map[string]models.AgentIdentity),
		sessions:   make(map[string]int64),
	}, nil
}

// Tx buffers writes until Commit. It satisfies pgx.Tx; the SQL methods are
// inert because the stores never issue SQL through it.
type Tx struct {
	db   *DB
	done bool

	wallets    map[string]models.Wallet
	entries    []models.CreditTransaction
	sessions   map[string]int64
	escrows    map[uuid.UUID]models.EscrowTransaction
	newEscrows []uuid.UUID
	identities map[string]models.AgentIdentity
}

var _ pgx.Tx = (*Tx)(nil)

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if err := t.db.fault(OpCommit); err != nil {
		t.finish()
		return err
	}
	db := t.db
	db.mu.Lock()
	for k, w := range t.wallets {
		db.wallets[k] = w
	}
	for _, e := range t.entries {
		if e.TxID != nil {
			db.txids[*e.TxID] = true
		}
		db.entries = append(db.entries, e)
	}
	for k, n := range t.sessions {
		db.sessions[k] += n
	}
	for k, e := range t.escrows {
		db.escrows[k] = e
	}
	db.escrowSeq = append(db.escrowSeq, t.newEscrows...)
	for k, id := range t.identities {
		db.identities[k] = id
	}
	db.mu.Unlock()
	t.finish()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.done = true
	t.db.txMu.Unlock()
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("memstore: nested transactions are not supported")
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *Tx) Conn() *pgx.Conn { return nil }

func asTx(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}
