package common

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/events"
)

var (
	// ErrNotOwner is returned when an owner-only operation is attempted by
	// another caller.
	ErrNotOwner = errors.New("ownable: caller is not the owner")
	// ErrNotPendingOwner is returned when someone other than the nominated
	// address tries to accept ownership.
	ErrNotPendingOwner = errors.New("ownable: caller is not the pending owner")
)

// KVStore is the subset of the ledger the ownership state lives in.
type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ownable implements a two-step ownership handshake: the current owner
// nominates a pending owner and the nominee accepts. Both fields live in the
// ledger so a reverted operation also reverts the handshake.
type Ownable struct {
	subject    string
	store      KVStore
	emitter    events.Emitter
	ownerKey   []byte
	pendingKey []byte
}

// NewOwnable binds an ownership record named subject to store.
func NewOwnable(subject string, store KVStore) *Ownable {
	return &Ownable{
		subject:    subject,
		store:      store,
		emitter:    events.NoopEmitter{},
		ownerKey:   []byte(subject + "/owner"),
		pendingKey: []byte(subject + "/pending-owner"),
	}
}

// SetEmitter configures the event emitter used for ownership changes.
func (o *Ownable) SetEmitter(emitter events.Emitter) {
	if o == nil {
		return
	}
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
		return
	}
	o.emitter = emitter
}

// Subject returns the name ownership events are tagged with.
func (o *Ownable) Subject() string { return o.subject }

func (o *Ownable) read(key []byte) (ethcommon.Address, error) {
	var addr ethcommon.Address
	if _, err := o.store.KVGet(key, &addr); err != nil {
		return ethcommon.Address{}, fmt.Errorf("%s: read ownership: %w", o.subject, err)
	}
	return addr, nil
}

// Owner returns the current owner; the zero address means unowned.
func (o *Ownable) Owner() (ethcommon.Address, error) {
	return o.read(o.ownerKey)
}

// PendingOwner returns the nominated owner; the zero address means none.
func (o *Ownable) PendingOwner() (ethcommon.Address, error) {
	return o.read(o.pendingKey)
}

// RequireOwner returns ErrNotOwner unless caller is the owner.
func (o *Ownable) RequireOwner(caller ethcommon.Address) error {
	owner, err := o.Owner()
	if err != nil {
		return err
	}
	if owner == (ethcommon.Address{}) || owner != caller {
		return ErrNotOwner
	}
	return nil
}

// SetOwner overwrites the owner without a handshake. It backs genesis and
// bootstrap flows and clears any pending nomination.
func (o *Ownable) SetOwner(owner ethcommon.Address) error {
	previous, err := o.Owner()
	if err != nil {
		return err
	}
	if err := o.store.KVPut(o.ownerKey, owner); err != nil {
		return err
	}
	if err := o.store.KVPut(o.pendingKey, ethcommon.Address{}); err != nil {
		return err
	}
	o.emitter.Emit(events.OwnerUpdated{Subject: o.subject, Previous: previous, Owner: owner})
	return nil
}

// TransferOwnership nominates next as pending owner. Only the owner may call
// it; nominating the zero address cancels a pending transfer.
func (o *Ownable) TransferOwnership(caller, next ethcommon.Address) error {
	if err := o.RequireOwner(caller); err != nil {
		return err
	}
	if err := o.store.KVPut(o.pendingKey, next); err != nil {
		return err
	}
	o.emitter.Emit(events.PendingOwnerUpdated{Subject: o.subject, PendingOwner: next})
	return nil
}

// AcceptOwnership completes a handshake started by TransferOwnership.
func (o *Ownable) AcceptOwnership(caller ethcommon.Address) error {
	pending, err := o.PendingOwner()
	if err != nil {
		return err
	}
	if pending == (ethcommon.Address{}) || pending != caller {
		return ErrNotPendingOwner
	}
	return o.SetOwner(caller)
}
