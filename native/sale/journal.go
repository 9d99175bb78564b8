package sale

import (
	"errors"
	"fmt"

	"tokensale/native/bank"
)

// journal records every side effect of an in-flight operation so a failure
// part way through can be compensated in reverse order.
type journal struct {
	ledger   Transferer
	undo     []func() error
	receipts []bank.Receipt
}

func newJournal(ledger Transferer) *journal {
	return &journal{ledger: ledger}
}

// transfer moves funds and records the receipt. A failed move leaves nothing
// to compensate because the ledger applies each call atomically.
func (j *journal) transfer(asset string, from, to, authorizer [20]byte, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	receipt, err := j.ledger.Transfer(asset, from, to, authorizer, amount)
	if err != nil {
		return err
	}
	if receipt.IsZero() {
		return nil
	}
	j.receipts = append(j.receipts, receipt)
	j.undo = append(j.undo, func() error {
		if err := j.ledger.Revert(receipt); err != nil {
			return fmt.Errorf("revert %s %d %x->%x: %w", receipt.Asset, receipt.Amount, receipt.From, receipt.To, err)
		}
		return nil
	})
	return nil
}

func (j *journal) onRollback(fn func() error) {
	j.undo = append(j.undo, fn)
}

// rollback runs every compensation newest first and returns the joined
// failures, if any.
func (j *journal) rollback() error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](); err != nil {
			errs = append(errs, err)
		}
	}
	j.undo = nil
	j.settle()
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// commit settles every receipt once the operation has been persisted.
func (j *journal) commit() {
	j.undo = nil
	j.settle()
}

func (j *journal) settle() {
	if len(j.receipts) > 0 {
		j.ledger.Release(j.receipts...)
		j.receipts = nil
	}
}

// fail rolls the journal back and returns cause. When a compensation could
// not be applied the result is an ErrRollbackIncomplete carrying both the
// cause and the failed compensations.
func (j *journal) fail(cause error) error {
	if rbErr := j.rollback(); rbErr != nil {
		return ErrRollbackIncomplete.wrap(errors.Join(cause, rbErr))
	}
	return cause
}

// Transferer is the ledger surface used by the engine.
type Transferer interface {
	Transfer(asset string, from, to, authorizer [20]byte, amount uint64) (bank.Receipt, error)
	Revert(bank.Receipt) error
	Release(...bank.Receipt)
	RegisterVault(vault, authority [20]byte) error
	Balance(asset string, addr [20]byte) (uint64, error)
}
