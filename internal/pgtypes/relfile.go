package pgtypes

import "fmt"

// ForkNumber identifies a per-relation sub-file.
type ForkNumber int8

const (
	MainForkNum ForkNumber = iota
	FSMForkNum
	VisibilityMapForkNum
	InitForkNum
)

func (f ForkNumber) String() string {
	switch f {
	case MainForkNum:
		return "main"
	case FSMForkNum:
		return "fsm"
	case VisibilityMapForkNum:
		return "vm"
	case InitForkNum:
		return "init"
	default:
		return fmt.Sprintf("fork(%d)", int8(f))
	}
}

// RelFileLocator is the triple identifying a relation file.
type RelFileLocator struct {
	SpcOID  uint32
	DBOID   uint32
	RelNum  uint32
}

// RelFileKey is the (locator, fork) composite key used by the block-ref
// table and the incremental combine walk.
type RelFileKey struct {
	Locator RelFileLocator
	Fork    ForkNumber
}

// Less orders keys by (spcOid, dbOid, relNumber, fork) as required for
// deterministic BRT serialization (§4.E) and combine ordering (§4.I).
func (k RelFileKey) Less(o RelFileKey) bool {
	if k.Locator.SpcOID != o.Locator.SpcOID {
		return k.Locator.SpcOID < o.Locator.SpcOID
	}
	if k.Locator.DBOID != o.Locator.DBOID {
		return k.Locator.DBOID < o.Locator.DBOID
	}
	if k.Locator.RelNum != o.Locator.RelNum {
		return k.Locator.RelNum < o.Locator.RelNum
	}
	return k.Fork < o.Fork
}

// BlockNumber is an index into a relation file (0-based).
type BlockNumber uint32

// InvalidBlockNumber marks "no block"/unbounded.
const InvalidBlockNumber BlockNumber = 0xFFFFFFFF
