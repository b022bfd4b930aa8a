package common

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/events"
	"fiatreserve/core/state"
)

func TestOwnableHandshake(t *testing.T) {
	ledger := state.NewLedger(nil)
	rec := &events.Recorder{}
	own := NewOwnable("stable", ledger)
	own.SetEmitter(rec)

	alice := ethcommon.HexToAddress("0x01")
	bob := ethcommon.HexToAddress("0x02")

	if err := own.RequireOwner(alice); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("unowned record must reject everyone, got %v", err)
	}
	if err := own.SetOwner(alice); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if err := own.TransferOwnership(bob, bob); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := own.AcceptOwnership(bob); !errors.Is(err, ErrNotPendingOwner) {
		t.Fatalf("expected ErrNotPendingOwner before nomination, got %v", err)
	}
	if err := own.TransferOwnership(alice, bob); err != nil {
		t.Fatalf("nominate: %v", err)
	}
	if pending, _ := own.PendingOwner(); pending != bob {
		t.Fatalf("unexpected pending owner %s", pending.Hex())
	}
	if err := own.AcceptOwnership(alice); !errors.Is(err, ErrNotPendingOwner) {
		t.Fatalf("owner cannot accept for nominee, got %v", err)
	}
	if err := own.AcceptOwnership(bob); err != nil {
		t.Fatalf("accept: %v", err)
	}
	owner, _ := own.Owner()
	pending, _ := own.PendingOwner()
	if owner != bob || pending != (ethcommon.Address{}) {
		t.Fatalf("unexpected state owner=%s pending=%s", owner.Hex(), pending.Hex())
	}
	if got := len(rec.OfType(events.TypeOwnerUpdated)); got != 2 {
		t.Fatalf("expected 2 owner events, got %d", got)
	}
	if got := len(rec.OfType(events.TypePendingOwnerUpdated)); got != 1 {
		t.Fatalf("expected 1 pending event, got %d", got)
	}
}

func TestPauseSetGuard(t *testing.T) {
	pauses := NewPauseSet("Reserve")
	if err := Guard(pauses, "reserve"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	pauses.Set("reserve", false)
	if err := Guard(pauses, "reserve"); err != nil {
		t.Fatalf("unexpected guard error: %v", err)
	}
	if err := Guard(nil, "reserve"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}
