// Package perr consolidates the error taxonomy of §7 into a single result
// type instead of the sentinel integers and boolean outcomes the original
// source mixes.
package perr

import (
	"errors"
	"fmt"
)

// Code is a closed enum spanning the five error families in §7.
type Code int

const (
	// Input/format errors.
	InvalidMagic Code = iota + 1
	ShortData
	CrcMismatch
	HeaderInconsistent
	FpiFlagInconsistent
	ManifestChecksumMismatch
	BrtCorrupt
	BlockIDOutOfOrder
	SameRelWithoutPrior

	// Resource/IO errors.
	FileMissing
	FileCorrupt
	DiskFull
	Permission
	Network
	TLSError

	// Protocol errors.
	UnexpectedMessageKind
	ReplicationProtocol
	S3HTTPStatus
	SSHAuth

	// Catalog errors.
	BackupNotFound
	BackupAlreadyActive
	NoParent
	AlreadyRetained
	NotRetained

	// Semantic errors.
	IncompatibleVersion
	TimelineMismatch
)

var names = map[Code]string{
	InvalidMagic:             "invalid_magic",
	ShortData:                "short_data",
	CrcMismatch:              "crc_mismatch",
	HeaderInconsistent:       "header_inconsistent",
	FpiFlagInconsistent:      "fpi_flag_inconsistent",
	ManifestChecksumMismatch: "manifest_checksum_mismatch",
	BrtCorrupt:               "brt_corrupt",
	BlockIDOutOfOrder:        "block_id_out_of_order",
	SameRelWithoutPrior:      "same_rel_without_prior",
	FileMissing:              "file_missing",
	FileCorrupt:              "file_corrupt",
	DiskFull:                 "disk_full",
	Permission:               "permission",
	Network:                  "network",
	TLSError:                 "tls_error",
	UnexpectedMessageKind:    "unexpected_message_kind",
	ReplicationProtocol:      "replication_protocol",
	S3HTTPStatus:             "s3_http_status",
	SSHAuth:                  "ssh_auth",
	BackupNotFound:           "backup_not_found",
	BackupAlreadyActive:      "backup_already_active",
	NoParent:                 "no_parent",
	AlreadyRetained:          "already_retained",
	NotRetained:              "not_retained",
	IncompatibleVersion:      "incompatible_version",
	TimelineMismatch:         "timeline_mismatch",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is the single error type every package returns for taxonomy-bearing
// failures. Two errors with the same Code compare equal under errors.Is.
type Error struct {
	Code    Code
	Detail  string
	Wrapped error
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func Wrap(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, Wrapped: cause}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, perr.New(Code, "")) match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the taxonomy code from err, or 0 if err does not carry one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
