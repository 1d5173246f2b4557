package walrecord

import (
	"github.com/leengari/pgward/internal/pgtypes"
)

// RecordHeader is the 24-byte on-wire XLogRecord header (§3).
type RecordHeader struct {
	TotLen uint32
	Xid    uint32
	Prev   pgtypes.LSN
	Info   uint8
	Rmid   uint8
	CRC    uint32
}

// BlockRef is one decoded block sub-record (§3, block reference header).
type BlockRef struct {
	BlockID  uint8
	Fork     pgtypes.ForkNumber
	HasImage bool
	HasData  bool
	SameRel  bool
	WillInit bool

	DataLen uint16 // length of the per-block "data" payload (not the image)

	// Full-page image fields, valid when HasImage.
	BimgLen    uint16
	HoleOffset uint16
	BimgInfo   uint8
	HoleLength uint16 // explicit when compressed+has-hole, else BLCKSZ-bimg_len

	Locator  pgtypes.RelFileLocator
	BlockNum pgtypes.BlockNumber

	// Payload bytes, filled in by the payload-reading pass.
	Image []byte
	Data  []byte
}

// IsCompressed reports whether the block image is compressed, per the
// version-dependent flag layout of §3 (PG<15 single bit, PG>=15 method
// bits).
func (b BlockRef) IsCompressed(version int) bool {
	return fpiIsCompressed(version, b.BimgInfo)
}

// Record is one fully decoded XLogRecord: header, block references in
// ascending block_id order, optional origin/toplevel-xid markers, and main
// data.
type Record struct {
	Header RecordHeader

	// StartLSN is this record's starting LSN (its own position, i.e. the
	// byte address xl_prev of the *next* record will carry).
	StartLSN pgtypes.LSN

	MaxBlockID  int // -1 if no block references
	BlockRefs   []BlockRef
	HasOrigin   bool
	Origin      uint16
	HasToplevel bool
	ToplevelXid uint32

	MainDataLen uint32
	MainData    []byte
}

// DataTotal is the sum the decoder must reconcile against remaining bytes
// at header-end: "Σ(data_len + bimg_len) across blocks + main_data_len"
// (§4.C, Block-header decode loop).
func (r *Record) DataTotal() uint32 {
	var total uint32
	for _, b := range r.BlockRefs {
		total += uint32(b.DataLen)
		if b.HasImage {
			total += uint32(b.BimgLen)
		}
	}
	total += r.MainDataLen
	return total
}

// RmgrName returns the human name of this record's resource manager.
func (r *Record) RmgrName() string {
	return rmgrNames[r.Header.Rmid]
}

var rmgrNames = map[uint8]string{
	RMXLogID:       "XLOG",
	RMXactID:       "Transaction",
	RMSMGRID:       "Storage",
	RMCLogID:       "CLOG",
	RMDBaseID:      "Database",
	RMTblspcID:     "Tablespace",
	RMMultiXactID:  "MultiXact",
	RMRelMapID:     "RelMap",
	RMStandbyID:    "Standby",
	RMHeap2ID:      "Heap2",
	RMHeapID:       "Heap",
	RMBtreeID:      "Btree",
	RMHashID:       "Hash",
	RMGinID:        "Gin",
	RMGistID:       "Gist",
	RMSeqID:        "Sequence",
	RMSPGistID:     "SPGist",
	RMBRinID:       "BRIN",
	RMCommitTsID:   "CommitTs",
	RMReplOriginID: "ReplicationOrigin",
	RMGenericID:    "Generic",
	RMLogicalMsgID: "LogicalMessage",
}
