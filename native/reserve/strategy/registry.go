package strategy

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind names a strategy variant.
type Kind string

const (
	KindNoop  Kind = "noop"
	KindPool  Kind = "pool"
	KindComet Kind = "comet"
)

// ParseKind resolves a configured strategy name. Empty selects noop.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(KindNoop), "none":
		return KindNoop, nil
	case string(KindPool), "lending-market-a":
		return KindPool, nil
	case string(KindComet), "lending-market-b":
		return KindComet, nil
	default:
		return "", fmt.Errorf("unknown strategy kind %q", value)
	}
}

// Deps carries the collaborators a strategy may need. Only the market for
// the selected kind has to be set.
type Deps struct {
	Fiat   Approver
	Holder common.Address
	Pool   Pool
	Comet  Comet
}

// Build constructs the strategy for kind. The variant is fixed for the
// lifetime of the reserve.
func Build(kind Kind, deps Deps) (Strategy, error) {
	switch kind {
	case KindNoop:
		return Noop{}, nil
	case KindPool:
		if deps.Pool == nil {
			return nil, fmt.Errorf("strategy %s: pool not configured", kind)
		}
		s, err := NewPool(deps.Pool, deps.Fiat, deps.Holder)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindComet:
		if deps.Comet == nil {
			return nil, fmt.Errorf("strategy %s: comet not configured", kind)
		}
		s, err := NewComet(deps.Comet, deps.Fiat, deps.Holder)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
}
