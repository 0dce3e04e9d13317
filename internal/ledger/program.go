package ledger

import (
	"errors"
	"fmt"
	"strings"

	"Provenance/internal/address"
	"Provenance/internal/storage"
)

// Function identifiers of the ledger program.
const (
	FnCreate          = "create"
	FnGet             = "get"
	FnTransfer        = "transfer"
	FnVerifyOwnership = "verifyOwnership"
	FnCount           = "count"
	FnListByOwner     = "listByOwner"
)

// VM status strings carried in receipts.
const (
	StatusSuccess       = "Executed successfully"
	statusAbortPrefix   = "abort: "
	codeInvalidInput    = "EINVALID_INPUT"
	codeNotFound        = "ENOT_FOUND"
	codeNotAuthorized   = "ENOT_AUTHORIZED"
	codeUnknownFunction = "EUNKNOWN_FUNCTION"
	codeInternal        = "EINTERNAL"
)

const (
	// baseGas is charged for every call.
	baseGas = 5

	// argBytesPerGasUnit is the argument size covered by one extra gas unit.
	argBytesPerGasUnit = 32
)

// ErrUnknownFunction is returned for function ids outside the program.
var ErrUnknownFunction = errors.New("unknown function")

// Result is the outcome of executing one call.
type Result struct {
	Return  []byte  // Return is the Borsh-encoded return value
	Events  []Event // Events were emitted by a successful call
	GasUsed uint64  // GasUsed is charged whether or not the call succeeds
	Status  string  // Status is StatusSuccess or an abort string
}

// Success reports whether the call committed.
func (r Result) Success() bool {
	return r.Status == StatusSuccess
}

// Stage adds writes to the batch that commits a successful mutation.
// res is the result the call will return. Stage is only called for
// create and transfer on a storage-backed ledger; an error aborts the
// call and nothing is written.
type Stage func(b *storage.Batch, res Result) error

// Program dispatches function calls onto a Ledger.
type Program struct {
	ledger *Ledger
}

// NewProgram wraps l.
func NewProgram(l *Ledger) *Program {
	return &Program{ledger: l}
}

// Ledger returns the wrapped ledger.
func (p *Program) Ledger() *Ledger {
	return p.ledger
}

// mutating reports whether fn changes state and therefore needs a transaction.
func mutating(fn string) bool {
	return fn == FnCreate || fn == FnTransfer
}

// Known reports whether fn is a program function.
func Known(fn string) bool {
	switch fn {
	case FnCreate, FnGet, FnTransfer, FnVerifyOwnership, FnCount, FnListByOwner:
		return true
	}

	return false
}

// Execute runs a call on behalf of caller. Errors become abort statuses;
// Execute never fails outright.
func (p *Program) Execute(caller address.Address, fn string, args []byte) Result {
	res, _ := p.ExecuteStaged(caller, fn, args, nil)
	return res
}

// ExecuteStaged is Execute with stage committed atomically alongside a
// successful mutation. staged reports whether stage ran and its writes
// were committed.
func (p *Program) ExecuteStaged(caller address.Address, fn string, args []byte, stage Stage) (res Result, staged bool) {
	res = Result{GasUsed: gasFor(args)}

	var hook stageFunc
	if stage != nil {
		hook = func(b *storage.Batch, ev Event) error {
			pending := Result{Events: []Event{ev}, GasUsed: res.GasUsed, Status: StatusSuccess}
			if fn == FnCreate {
				pending.Return = encodeID(ev.ID)
			}

			if err := stage(b, pending); err != nil {
				return err
			}

			staged = true
			return nil
		}
	}

	var err error
	switch fn {
	case FnCreate:
		res.Return, res.Events, err = p.create(caller, args, hook)
	case FnTransfer:
		res.Events, err = p.transfer(caller, args, hook)
	default:
		res.Return, err = p.View(fn, args)
	}

	res.Status = StatusFor(err)
	if err != nil {
		res.Return = nil
		res.Events = nil
		staged = false
	}

	return res, staged
}

// View runs a read-only function.
func (p *Program) View(fn string, args []byte) ([]byte, error) {
	if mutating(fn) {
		return nil, fmt.Errorf("%w: %s needs a transaction", ErrInvalidInput, fn)
	}

	switch fn {
	case FnGet:
		r := &reader{buf: args}
		id := r.u64()
		if err := r.done(); err != nil {
			return nil, argsError(fn, err)
		}

		rec, err := p.ledger.Get(id)
		if err != nil {
			return nil, err
		}

		return encodeRecord(rec), nil

	case FnVerifyOwnership:
		r := &reader{buf: args}
		id, addr := r.u64(), r.addr()
		if err := r.done(); err != nil {
			return nil, argsError(fn, err)
		}

		w := &writer{}
		w.boolean(p.ledger.VerifyOwnership(id, addr))

		return w.buf, nil

	case FnCount:
		if len(args) != 0 {
			return nil, argsError(fn, fmt.Errorf("%d unexpected argument bytes", len(args)))
		}

		w := &writer{}
		w.u64(p.ledger.Count())

		return w.buf, nil

	case FnListByOwner:
		r := &reader{buf: args}
		addr := r.addr()
		if err := r.done(); err != nil {
			return nil, argsError(fn, err)
		}

		return encodeIDs32(p.ledger.ListByOwner(addr)), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, fn)
}

// create decodes (content_hash, Option<owner>) and stores the record.
func (p *Program) create(caller address.Address, args []byte, stage stageFunc) ([]byte, []Event, error) {
	r := &reader{buf: args}
	hash := r.str()

	owner := caller
	if r.boolean() {
		owner = r.addr()
	}

	if err := r.done(); err != nil {
		return nil, nil, argsError(FnCreate, err)
	}

	ev, err := p.ledger.create(caller, owner, hash, stage)
	if err != nil {
		return nil, nil, err
	}

	return encodeID(ev.ID), []Event{ev}, nil
}

// transfer decodes (id, new_owner) and moves the record.
func (p *Program) transfer(caller address.Address, args []byte, stage stageFunc) ([]Event, error) {
	r := &reader{buf: args}
	id, newOwner := r.u64(), r.addr()

	if err := r.done(); err != nil {
		return nil, argsError(FnTransfer, err)
	}

	ev, err := p.ledger.transfer(caller, id, newOwner, stage)
	if err != nil {
		return nil, err
	}

	return []Event{ev}, nil
}

func encodeID(id uint64) []byte {
	w := &writer{}
	w.u64(id)

	return w.buf
}

// argsError marks a decode failure as invalid input.
func argsError(fn string, err error) error {
	return fmt.Errorf("%w: %s args: %v", ErrInvalidInput, fn, err)
}

// gasFor charges a base fee plus one unit per started 32 bytes of args.
func gasFor(args []byte) uint64 {
	return baseGas + uint64((len(args)+argBytesPerGasUnit-1)/argBytesPerGasUnit)
}

// StatusFor maps an execution error to its VM status string.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrInvalidInput):
		return statusAbortPrefix + codeInvalidInput
	case errors.Is(err, ErrNotFound):
		return statusAbortPrefix + codeNotFound
	case errors.Is(err, ErrNotAuthorized):
		return statusAbortPrefix + codeNotAuthorized
	case errors.Is(err, ErrUnknownFunction):
		return statusAbortPrefix + codeUnknownFunction
	default:
		return statusAbortPrefix + codeInternal
	}
}

// ErrorForStatus maps a VM status string back to the ledger error it
// came from. Success yields nil.
func ErrorForStatus(status string) error {
	if status == StatusSuccess {
		return nil
	}

	switch strings.TrimPrefix(status, statusAbortPrefix) {
	case codeInvalidInput:
		return ErrInvalidInput
	case codeNotFound:
		return ErrNotFound
	case codeNotAuthorized:
		return ErrNotAuthorized
	case codeUnknownFunction:
		return ErrUnknownFunction
	default:
		return fmt.Errorf("ledger abort %q", status)
	}
}
