package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the expected on-disk schema layout. Increment it
// whenever the stored structure changes incompatibly.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided schema version in state.
func (l *Ledger) SetStateVersion(version uint32) error {
	return l.KVPut(stateVersionKey, uint64(version))
}

// StateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func (l *Ledger) StateVersion() (uint32, bool, error) {
	var stored uint64
	ok, err := l.KVGet(stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the stored version matches StateVersion.
// Fresh stores are stamped and committed. When allowMigrate is true,
// mismatches are tolerated so operators can perform manual migrations.
func EnsureStateVersion(l *Ledger, allowMigrate bool) error {
	if l == nil {
		return fmt.Errorf("state: ledger must not be nil")
	}
	version, ok, err := l.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		if err := l.SetStateVersion(StateVersion); err != nil {
			return err
		}
		_, err := l.Commit()
		return err
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
