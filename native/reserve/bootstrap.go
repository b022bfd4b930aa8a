package reserve

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Initialize establishes the reserve. While no owner is assigned, the caller
// becomes owner and the reserve accepts the stable token ownership it has
// been nominated for. Once an owner exists the call does nothing. If the
// reserve was never nominated the whole call fails with ErrNotPendingOwner
// and can be retried after nomination.
func (r *Reserve) Initialize(caller common.Address) error {
	initialized := false
	err := r.atomic("initialize", func() error {
		owner, err := r.access.Owner()
		if err != nil {
			return err
		}
		if owner != (common.Address{}) {
			return nil
		}
		if err := r.access.SetOwner(caller); err != nil {
			return err
		}
		stableOwner, err := r.stable.Owner()
		if err != nil {
			return err
		}
		if stableOwner != r.address {
			if err := r.stable.AcceptOwnership(r.address); err != nil {
				return fmt.Errorf("reserve: accept stable ownership: %w", err)
			}
		}
		initialized = true
		return nil
	})
	if err != nil {
		return err
	}
	if initialized {
		r.logger.Info("reserve initialized", "owner", caller.Hex(), "stable", r.stable.Address().Hex())
	}
	return nil
}

// Initialized reports whether the reserve has an owner and holds the stable
// token's mint and burn authority.
func (r *Reserve) Initialized() (bool, error) {
	owner, err := r.access.Owner()
	if err != nil {
		return false, err
	}
	if owner == (common.Address{}) {
		return false, nil
	}
	stableOwner, err := r.stable.Owner()
	if err != nil {
		return false, err
	}
	return stableOwner == r.address, nil
}
