package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestReserveMintEvent(t *testing.T) {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := ReserveMint{Caller: caller, StableAmount: big.NewInt(1_000_000_000_000), FiatAmount: big.NewInt(1)}.Event()
	if evt.Type != TypeReserveMint {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["caller"] != caller.Hex() {
		t.Fatalf("unexpected caller: %s", evt.Attributes["caller"])
	}
	if evt.Attributes["stableAmount"] != "1000000000000" || evt.Attributes["fiatAmount"] != "1" {
		t.Fatalf("unexpected amounts: %+v", evt.Attributes)
	}
}

func TestOwnershipEvents(t *testing.T) {
	owner := common.HexToAddress("0x01")
	evt := OwnerUpdated{Subject: "reserve", Owner: owner}.Event()
	if evt.Attr("owner") != owner.Hex() || evt.Attr("subject") != "reserve" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attr("previous") != (common.Address{}).Hex() {
		t.Fatalf("unexpected previous: %s", evt.Attr("previous"))
	}
	pending := PendingOwnerUpdated{PendingOwner: owner}.Event()
	if _, ok := pending.Attributes["subject"]; ok {
		t.Fatalf("empty subject should be omitted")
	}
}

func TestRecorderAndFanout(t *testing.T) {
	var a, b Recorder
	fan := Fanout{&a, nil, &b}
	fan.Emit(ReserveIssue{Amount: big.NewInt(1)})
	fan.Emit(AllocationUpdated{Allocation: big.NewInt(5)})

	if got := len(a.Events()); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	if got := len(b.OfType(TypeReserveIssue)); got != 1 {
		t.Fatalf("expected 1 issue event, got %d", got)
	}
	a.Reset()
	if len(a.Events()) != 0 {
		t.Fatalf("reset did not clear events")
	}
}

func TestEventClone(t *testing.T) {
	evt := Transfer{Asset: "fiat", Amount: big.NewInt(3)}.Event()
	clone := evt.Clone()
	clone.Attributes["amount"] = "9"
	if evt.Attr("amount") != "3" {
		t.Fatalf("clone shares attributes")
	}
	if evt.Attr("asset") != "FIAT" {
		t.Fatalf("unexpected asset: %s", evt.Attr("asset"))
	}
}
