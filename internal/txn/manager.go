// Package txn provides the transactional envelope used by cascade operations:
// root transactions bound to a database connection, logical nested
// transactions that merge into their parent on commit, and named savepoints.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State tracks a transaction's lifecycle.
type State string

const (
	StateActive     State = "ACTIVE"
	StateCommitted  State = "COMMITTED"
	StateRolledBack State = "ROLLED_BACK"
	StateFailed     State = "FAILED"
)

// Operation is one entry in a transaction's operation log.
type Operation struct {
	Name     string                 `json:"name"`
	At       time.Time              `json:"at"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Savepoint is a named intra-transaction marker the transaction can be rolled
// back to without aborting.
type Savepoint struct {
	ID            string                 `json:"id"`
	TransactionID string                 `json:"transaction_id"`
	Name          string                 `json:"name"`
	CreatedAt     time.Time              `json:"created_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	opIndex int // op-log length at creation, for log truncation on rollback
}

// Transaction is the manager's record of one root or nested transaction.
// Only root transactions own a *sql.Tx; nested transactions are logical and
// share the root's connection.
type Transaction struct {
	ID          string
	ParentID    string
	State       State
	CreatedAt   time.Time
	CompletedAt time.Time

	tx         *sql.Tx // root only
	ops        []Operation
	savepoints []*Savepoint
}

// IsNested reports whether this is a logical nested transaction.
func (t *Transaction) IsNested() bool {
	return t.ParentID != ""
}

// Manager tracks transactions and reaps completed ones.
type Manager struct {
	db     *sql.DB
	logger *log.Logger

	mu  sync.Mutex
	txs map[string]*Transaction

	maxAge       time.Duration
	reapInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithMaxAge overrides how long completed transactions are retained
// (default 30 minutes).
func WithMaxAge(age time.Duration) ManagerOption {
	return func(m *Manager) { m.maxAge = age }
}

// WithReapInterval overrides the reaper period (default 5 minutes).
func WithReapInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) { m.reapInterval = interval }
}

// NewManager creates a transaction manager over db and starts its reaper.
func NewManager(db *sql.DB, logger *log.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		db:           db,
		logger:       logger,
		txs:          make(map[string]*Transaction),
		maxAge:       30 * time.Minute,
		reapInterval: 5 * time.Minute,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.reapLoop()
	return m
}

// Close stops the background reaper.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

type ctxKey int

const (
	ctxKeyTxID ctxKey = iota
	ctxKeyExecutor
)

// Executor is the common surface of *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ExecutorFromContext returns the transaction's executor when ctx carries an
// open transaction, or fallback otherwise.
func ExecutorFromContext(ctx context.Context, fallback Executor) Executor {
	if ex, ok := ctx.Value(ctxKeyExecutor).(Executor); ok {
		return ex
	}
	return fallback
}

// TransactionIDFromContext returns the innermost transaction id in ctx.
func TransactionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyTxID).(string)
	return id, ok
}

func newTxID() string {
	return "tx_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// ExecuteInTransaction opens a root transaction, runs fn with the transaction
// id and executor in the context, commits on nil return and rolls back on
// error. The returned error is fn's error (or the commit failure).
func (m *Manager) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	t := &Transaction{
		ID:        newTxID(),
		State:     StateActive,
		CreatedAt: time.Now(),
		tx:        sqlTx,
	}
	m.register(t)

	txCtx := context.WithValue(ctx, ctxKeyTxID, t.ID)
	txCtx = context.WithValue(txCtx, ctxKeyExecutor, Executor(sqlTx))

	if err := m.runGuarded(txCtx, fn); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			m.complete(t, StateFailed)
			m.logger.Printf("Rollback of transaction %s failed: %v (original error: %v)", t.ID, rbErr, err)
			return fmt.Errorf("rollback failed: %v: %w", rbErr, err)
		}
		m.complete(t, StateRolledBack)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		m.complete(t, StateFailed)
		return fmt.Errorf("commit transaction %s: %w", t.ID, err)
	}
	m.complete(t, StateCommitted)
	return nil
}

// ExecuteInNestedTransaction opens a logical nested transaction under the
// transaction in ctx. The nested transaction shares the parent's connection
// and is bracketed by an internal savepoint: on error everything since the
// nested start is undone and the parent stays open; on success the nested
// operation log and savepoints are merged into the parent.
func (m *Manager) ExecuteInNestedTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	parentID, ok := TransactionIDFromContext(ctx)
	if !ok {
		// No enclosing transaction: behave as a root transaction.
		return m.ExecuteInTransaction(ctx, fn)
	}

	parent := m.get(parentID)
	if parent == nil || parent.State != StateActive {
		return fmt.Errorf("parent transaction %s is not active", parentID)
	}
	root := m.root(parent)

	child := &Transaction{
		ID:        newTxID(),
		ParentID:  parentID,
		State:     StateActive,
		CreatedAt: time.Now(),
	}
	m.register(child)

	guard := "nested_" + child.ID[3:]
	if _, err := root.tx.ExecContext(ctx, "SAVEPOINT "+guard); err != nil {
		m.complete(child, StateFailed)
		return fmt.Errorf("create nested savepoint: %w", err)
	}

	childCtx := context.WithValue(ctx, ctxKeyTxID, child.ID)

	if err := m.runGuarded(childCtx, fn); err != nil {
		if _, rbErr := root.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+guard); rbErr != nil {
			m.complete(child, StateFailed)
			return fmt.Errorf("rollback nested transaction %s: %v: %w", child.ID, rbErr, err)
		}
		m.complete(child, StateRolledBack)
		return err
	}

	if _, err := root.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+guard); err != nil {
		m.complete(child, StateFailed)
		return fmt.Errorf("release nested savepoint: %w", err)
	}

	// Merge the child's log into the parent before marking it committed.
	m.mu.Lock()
	parent.ops = append(parent.ops, child.ops...)
	parent.savepoints = append(parent.savepoints, child.savepoints...)
	m.mu.Unlock()
	m.complete(child, StateCommitted)
	return nil
}

// runGuarded converts panics in fn into errors so the transaction still
// rolls back.
func (m *Manager) runGuarded(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// RecordOperation appends an entry to the innermost transaction's operation
// log. Outside a transaction it is a no-op.
func (m *Manager) RecordOperation(ctx context.Context, name string, metadata map[string]interface{}) {
	id, ok := TransactionIDFromContext(ctx)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txs[id]; ok && t.State == StateActive {
		t.ops = append(t.ops, Operation{Name: name, At: time.Now(), Metadata: metadata})
	}
}

// CreateSavepoint creates a named savepoint in the transaction carried by ctx
// and returns its id.
func (m *Manager) CreateSavepoint(ctx context.Context, name string, metadata map[string]interface{}) (string, error) {
	id, ok := TransactionIDFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("no transaction in context")
	}
	t := m.get(id)
	if t == nil || t.State != StateActive {
		return "", fmt.Errorf("transaction %s is not active", id)
	}
	root := m.root(t)

	sp := &Savepoint{
		ID:            "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		TransactionID: id,
		Name:          name,
		CreatedAt:     time.Now(),
		Metadata:      metadata,
	}
	if _, err := root.tx.ExecContext(ctx, "SAVEPOINT "+sp.ID); err != nil {
		return "", fmt.Errorf("create savepoint %s: %w", name, err)
	}

	m.mu.Lock()
	sp.opIndex = len(t.ops)
	t.savepoints = append(t.savepoints, sp)
	m.mu.Unlock()
	return sp.ID, nil
}

// ReleaseSavepoint releases a savepoint, keeping its effects.
func (m *Manager) ReleaseSavepoint(ctx context.Context, spID string) error {
	t, sp, err := m.findSavepoint(ctx, spID)
	if err != nil {
		return err
	}
	root := m.root(t)
	if _, err := root.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.ID); err != nil {
		return fmt.Errorf("release savepoint %s: %w", sp.Name, err)
	}
	m.removeSavepoint(t, spID, false)
	return nil
}

// RollbackToSavepoint undoes everything after the savepoint, leaving the
// transaction open. Log entries and savepoints created after it are dropped.
func (m *Manager) RollbackToSavepoint(ctx context.Context, spID string) error {
	t, sp, err := m.findSavepoint(ctx, spID)
	if err != nil {
		return err
	}
	root := m.root(t)
	if _, err := root.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.ID); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", sp.Name, err)
	}
	m.removeSavepoint(t, spID, true)
	return nil
}

func (m *Manager) findSavepoint(ctx context.Context, spID string) (*Transaction, *Savepoint, error) {
	id, ok := TransactionIDFromContext(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("no transaction in context")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok || t.State != StateActive {
		return nil, nil, fmt.Errorf("transaction %s is not active", id)
	}
	for _, sp := range t.savepoints {
		if sp.ID == spID {
			return t, sp, nil
		}
	}
	return nil, nil, fmt.Errorf("savepoint %s not found in transaction %s", spID, id)
}

// removeSavepoint drops sp from t. When truncate is set, the op log and any
// later savepoints are discarded as well.
func (m *Manager) removeSavepoint(t *Transaction, spID string, truncate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sp := range t.savepoints {
		if sp.ID != spID {
			continue
		}
		if truncate {
			t.ops = t.ops[:sp.opIndex]
			t.savepoints = t.savepoints[:i]
		} else {
			t.savepoints = append(t.savepoints[:i], t.savepoints[i+1:]...)
		}
		return
	}
}

// GetActiveTransactions returns a snapshot of all ACTIVE transactions.
func (m *Manager) GetActiveTransactions() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, t := range m.txs {
		if t.State == StateActive {
			out = append(out, t)
		}
	}
	return out
}

// GetSavepoints returns the savepoints of a transaction.
func (m *Manager) GetSavepoints(txID string) []*Savepoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[txID]
	if !ok {
		return nil
	}
	return append([]*Savepoint(nil), t.savepoints...)
}

// Operations returns a snapshot of a transaction's operation log.
func (m *Manager) Operations(txID string) []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[txID]
	if !ok {
		return nil
	}
	return append([]Operation(nil), t.ops...)
}

// IsNested reports whether txID names a logical nested transaction.
func (m *Manager) IsNested(txID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[txID]
	return ok && t.IsNested()
}

// GetRootTransactionID walks up the parent chain to the root.
func (m *Manager) GetRootTransactionID(txID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[txID]
	if !ok {
		return ""
	}
	for t.ParentID != "" {
		parent, ok := m.txs[t.ParentID]
		if !ok {
			break
		}
		t = parent
	}
	return t.ID
}

func (m *Manager) register(t *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[t.ID] = t
}

func (m *Manager) get(id string) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txs[id]
}

// root resolves the connection-owning ancestor of t.
func (m *Manager) root(t *Transaction) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t.ParentID != "" {
		parent, ok := m.txs[t.ParentID]
		if !ok {
			break
		}
		t = parent
	}
	return t
}

func (m *Manager) complete(t *Transaction, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.State = state
	t.CompletedAt = time.Now()
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Reap removes completed, rolled-back, and failed transactions older than
// maxAge and returns how many were removed.
func (m *Manager) Reap() int {
	cutoff := time.Now().Add(-m.maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	reaped := 0
	for id, t := range m.txs {
		if t.State != StateActive && !t.CompletedAt.IsZero() && t.CompletedAt.Before(cutoff) {
			delete(m.txs, id)
			reaped++
		}
	}
	if reaped > 0 && m.logger != nil {
		m.logger.Printf("Reaped %d completed transactions", reaped)
	}
	return reaped
}
