package reserve

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fiatreserve/core/events"
	"fiatreserve/native/reserve/scale"
)

// Owner returns the reserve owner; zero before initialization.
func (r *Reserve) Owner() (common.Address, error) { return r.access.Owner() }

// PendingOwner returns the nominated owner, if any.
func (r *Reserve) PendingOwner() (common.Address, error) { return r.access.PendingOwner() }

// Coordinator returns the address allowed to tune the allocation.
func (r *Reserve) Coordinator() (common.Address, error) {
	var addr common.Address
	if _, err := r.ledger.KVGet(coordinatorKey, &addr); err != nil {
		return common.Address{}, fmt.Errorf("reserve: read coordinator: %w", err)
	}
	return addr, nil
}

// Allocation returns the deployed fraction target scaled by 1e18.
func (r *Reserve) Allocation() (*big.Int, error) {
	value := new(big.Int)
	if _, err := r.ledger.KVGet(allocationKey, value); err != nil {
		return nil, fmt.Errorf("reserve: read allocation: %w", err)
	}
	return value, nil
}

func (r *Reserve) requireCoordinator(caller common.Address) error {
	coordinator, err := r.Coordinator()
	if err != nil {
		return err
	}
	if coordinator == (common.Address{}) || coordinator != caller {
		return ErrNotCoordinator
	}
	return nil
}

// UpdateAllocation sets the deployed fraction. Only the coordinator may call
// it. Funds are not moved until the next mint or redeem.
func (r *Reserve) UpdateAllocation(caller common.Address, allocation *big.Int) error {
	err := r.atomic("update_allocation", func() error {
		if err := r.requireCoordinator(caller); err != nil {
			return err
		}
		if allocation == nil || allocation.Sign() < 0 || allocation.Cmp(scale.One()) > 0 {
			return fmt.Errorf("%w: %v", ErrInvalidAllocation, allocation)
		}
		if err := r.ledger.KVPut(allocationKey, allocation); err != nil {
			return err
		}
		r.ledger.Emit(events.AllocationUpdated{Allocation: new(big.Int).Set(allocation)})
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("reserve allocation updated", "allocation", allocation.String())
	return nil
}

// UpdateCoordinator replaces the coordinator. Only the owner may call it.
func (r *Reserve) UpdateCoordinator(caller, coordinator common.Address) error {
	return r.atomic("update_coordinator", func() error {
		if err := r.access.RequireOwner(caller); err != nil {
			return err
		}
		if err := r.ledger.KVPut(coordinatorKey, coordinator); err != nil {
			return err
		}
		r.ledger.Emit(events.CoordinatorUpdated{Coordinator: coordinator})
		return nil
	})
}

// UpdatePendingOwner nominates next as owner. The nominee completes the
// handover with AcceptOwner.
func (r *Reserve) UpdatePendingOwner(caller, next common.Address) error {
	return r.atomic("update_pending_owner", func() error {
		return r.access.TransferOwnership(caller, next)
	})
}

// AcceptOwner completes a pending ownership handover.
func (r *Reserve) AcceptOwner(caller common.Address) error {
	return r.atomic("accept_owner", func() error {
		return r.access.AcceptOwnership(caller)
	})
}
