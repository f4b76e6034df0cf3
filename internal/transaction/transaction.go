package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/forgefit/forgefit/internal/store"
	"github.com/forgefit/forgefit/internal/telemetry/tracing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusFailed     Status = "failed"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Operation is one store mutation within a transaction. OriginalData is the
// pre-mutation snapshot used for rollback; when the caller does not supply
// it, Commit fetches it lazily before mutating.
type Operation struct {
	ID           string          `json:"id"`
	Collection   string          `json:"collection"`
	Kind         Kind            `json:"kind"`
	DocumentID   string          `json:"documentId,omitempty"`
	Data         any             `json:"data,omitempty"`
	OriginalData *store.Document `json:"originalData,omitempty"`
}

type OperationResult struct {
	OperationID string `json:"operationId"`
	Success     bool   `json:"success"`
	DocumentID  string `json:"documentId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Result is what Commit hands back. Success is false as soon as any
// operation failed, even when the rollback of prior operations succeeded.
type Result struct {
	TransactionID string            `json:"transactionId"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	RolledBack    bool              `json:"rolledBack"`
	Results       []OperationResult `json:"results"`
}

// executedOp pairs an operation with the document id its execution produced,
// so rollback can target the right record.
type executedOp struct {
	op    *Operation
	docID string
}

// Transaction is a builder plus executor for an ordered list of store
// mutations with reverse-order rollback on failure. Not safe for concurrent
// use; one transaction belongs to one request flow.
type Transaction struct {
	id        string
	userID    string
	store     store.Store
	ops       []*Operation
	results   []OperationResult
	status    Status
	createdAt time.Time
	opCounter int
	executed  []executedOp
}

func New(st store.Store, userID string) *Transaction {
	return &Transaction{
		id:        uuid.NewString(),
		userID:    userID,
		store:     st,
		status:    StatusPending,
		createdAt: time.Now(),
	}
}

func (t *Transaction) ID() string {
	return t.id
}

func (t *Transaction) UserID() string {
	return t.userID
}

func (t *Transaction) Status() Status {
	return t.status
}

func (t *Transaction) Operations() []*Operation {
	return t.ops
}

func (t *Transaction) nextOpID() string {
	t.opCounter++
	return fmt.Sprintf("op-%d", t.opCounter)
}

// AddCreate appends a create operation. id may be empty, letting the store
// generate one; the generated id is captured for rollback either way.
func (t *Transaction) AddCreate(collection, id string, data any) string {
	op := &Operation{
		ID:         t.nextOpID(),
		Collection: collection,
		Kind:       KindCreate,
		DocumentID: id,
		Data:       data,
	}
	t.ops = append(t.ops, op)
	return op.ID
}

// AddUpdate appends an update operation. original is the optional
// pre-mutation snapshot; when nil it is fetched during Commit.
func (t *Transaction) AddUpdate(collection, id string, data any, original *store.Document) string {
	op := &Operation{
		ID:           t.nextOpID(),
		Collection:   collection,
		Kind:         KindUpdate,
		DocumentID:   id,
		Data:         data,
		OriginalData: original,
	}
	t.ops = append(t.ops, op)
	return op.ID
}

func (t *Transaction) AddDelete(collection, id string, original *store.Document) string {
	op := &Operation{
		ID:           t.nextOpID(),
		Collection:   collection,
		Kind:         KindDelete,
		DocumentID:   id,
		OriginalData: original,
	}
	t.ops = append(t.ops, op)
	return op.ID
}

// Commit executes the operations in insertion order. The first failure stops
// execution, rolls back all prior successes in reverse order and marks the
// transaction failed. Remaining operations never run.
func (t *Transaction) Commit(ctx context.Context) Result {
	ctx, span := tracing.GlobalTracer.Start(ctx, "transaction.commit")
	defer span.End()

	if t.status != StatusPending {
		return Result{
			TransactionID: t.id,
			Success:       false,
			Error:         fmt.Sprintf("transaction is %s, not pending", t.status),
			Results:       t.results,
		}
	}

	for _, op := range t.ops {
		t.captureOriginal(ctx, op)

		docID, err := t.execute(ctx, op)
		if err != nil {
			t.results = append(t.results, OperationResult{
				OperationID: op.ID,
				Success:     false,
				Error:       err.Error(),
			})
			log.Errorf(
				"transaction %s: operation %s (%s %s) failed: %s",
				t.id, op.ID, op.Kind, op.Collection, err,
			)

			t.rollbackExecuted(ctx)
			t.status = StatusFailed

			return Result{
				TransactionID: t.id,
				Success:       false,
				Error:         fmt.Sprintf("operation %s failed: %s", op.ID, err),
				RolledBack:    true,
				Results:       t.results,
			}
		}

		t.results = append(t.results, OperationResult{
			OperationID: op.ID,
			Success:     true,
			DocumentID:  docID,
		})
		t.executed = append(t.executed, executedOp{op: op, docID: docID})
	}

	t.status = StatusCommitted
	log.Debugf("transaction %s committed, %d operations", t.id, len(t.ops))

	return Result{
		TransactionID: t.id,
		Success:       true,
		Results:       t.results,
	}
}

// captureOriginal fetches the pre-mutation snapshot for update/delete
// operations that came without one. Best effort: a failed fetch is logged
// and only disables rollback for that operation.
func (t *Transaction) captureOriginal(ctx context.Context, op *Operation) {
	if op.Kind == KindCreate || op.OriginalData != nil {
		return
	}
	original, err := t.store.FindByID(ctx, op.Collection, op.DocumentID)
	if err != nil {
		log.Warnf(
			"transaction %s: operation %s: capture original of %s/%s: %s",
			t.id, op.ID, op.Collection, op.DocumentID, err,
		)
		return
	}
	op.OriginalData = original
}

func (t *Transaction) execute(ctx context.Context, op *Operation) (string, error) {
	switch op.Kind {
	case KindCreate:
		doc, err := t.store.Create(ctx, op.Collection, op.DocumentID, op.Data)
		if err != nil {
			return "", err
		}
		return doc.ID, nil
	case KindUpdate:
		doc, err := t.store.Update(ctx, op.Collection, op.DocumentID, op.Data)
		if err != nil {
			return "", err
		}
		return doc.ID, nil
	case KindDelete:
		doc, err := t.store.Delete(ctx, op.Collection, op.DocumentID)
		if err != nil {
			return "", err
		}
		return doc.ID, nil
	default:
		return "", fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// rollbackExecuted undoes the executed operations in reverse order.
// Failures are aggregated and logged, never raised: rollback is best effort
// and the original failure is what the caller gets.
func (t *Transaction) rollbackExecuted(ctx context.Context) {
	var rollbackErr error
	for i := len(t.executed) - 1; i >= 0; i-- {
		if err := t.undo(ctx, t.executed[i]); err != nil {
			rollbackErr = multierr.Append(rollbackErr, err)
		}
	}
	t.executed = nil
	if rollbackErr != nil {
		log.Errorf("transaction %s: rollback: %s", t.id, rollbackErr)
	}
}

func (t *Transaction) undo(ctx context.Context, ex executedOp) error {
	op := ex.op
	switch op.Kind {
	case KindCreate:
		if _, err := t.store.Delete(ctx, op.Collection, ex.docID); err != nil {
			return fmt.Errorf("undo create %s (%s/%s): %w", op.ID, op.Collection, ex.docID, err)
		}
	case KindUpdate:
		if op.OriginalData == nil {
			log.Warnf("transaction %s: operation %s has no original data, skipping undo", t.id, op.ID)
			return nil
		}
		if _, err := t.store.Update(ctx, op.Collection, op.DocumentID, op.OriginalData.Data); err != nil {
			return fmt.Errorf("undo update %s (%s/%s): %w", op.ID, op.Collection, op.DocumentID, err)
		}
	case KindDelete:
		if op.OriginalData == nil {
			log.Warnf("transaction %s: operation %s has no original data, skipping undo", t.id, op.ID)
			return nil
		}
		if _, err := t.store.Create(ctx, op.Collection, op.DocumentID, op.OriginalData.Data); err != nil {
			return fmt.Errorf("undo delete %s (%s/%s): %w", op.ID, op.Collection, op.DocumentID, err)
		}
	}
	return nil
}

// RollbackCommitted undoes an already committed transaction using the same
// reverse-order logic. Refuses anything not in the committed state.
func (t *Transaction) RollbackCommitted(ctx context.Context, reason string) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "transaction.rollbackCommitted")
	defer span.End()

	if t.status != StatusCommitted {
		return fmt.Errorf("cannot rollback transaction in status %s", t.status)
	}

	log.Warnf("rolling back committed transaction %s: %s", t.id, reason)
	t.rollbackExecuted(ctx)
	t.status = StatusRolledBack
	return nil
}
