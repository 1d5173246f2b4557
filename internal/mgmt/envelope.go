// Package mgmt implements the management wire protocol of §6: a
// length-prefixed JSON envelope (Header/Request/Response/Outcome)
// optionally compressed (internal/codec) then optionally encrypted
// (internal/aesbuf) then base64-encoded. Grounded in the teacher's
// internal/network framing (length-prefixed messages over a net.Conn)
// generalized from the teacher's query wire format to pgward's
// control-plane JSON envelopes, and in internal/pgwire's big-endian,
// self-describing length-prefix convention for the outer frame.
package mgmt

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/leengari/pgward/internal/aesbuf"
	"github.com/leengari/pgward/internal/codec"
)

// Header carries the envelope metadata §6 specifies verbatim.
type Header struct {
	Command       int32  `json:"Command"`
	ClientVersion string `json:"ClientVersion"`
	Output        uint8  `json:"Output"`
	Timestamp     string `json:"Timestamp"` // YYYYMMDDHHMMSS
	Compression   uint8  `json:"Compression"`
	Encryption    uint8  `json:"Encryption"`
}

// Output formats the CLI's `-F text|json|raw` selects (§6).
const (
	OutputText uint8 = iota
	OutputJSON
	OutputRaw
)

// Compression byte values, mapped onto internal/codec.Kind.
const (
	CompressionNone uint8 = iota
	CompressionGzip
	CompressionLZ4
	CompressionZstd
	CompressionBzip2
)

var compressionKinds = map[uint8]codec.Kind{
	CompressionGzip:  codec.Gzip,
	CompressionLZ4:   codec.LZ4,
	CompressionZstd:  codec.Zstd,
	CompressionBzip2: codec.Bzip2,
}

// Encryption byte values. §6 says AES mode/key-size are "implied by the
// key size byte" without pinning an exact encoding; this implementation's
// own convention packs both mode and key size into one enum so a single
// Header byte
// fully determines how to decrypt.
const (
	EncryptionNone uint8 = iota
	EncryptionAES128CBC
	EncryptionAES192CBC
	EncryptionAES256CBC
	EncryptionAES128CTR
	EncryptionAES192CTR
	EncryptionAES256CTR
)

type encryptionSpec struct {
	mode    aesbuf.Mode
	keySize aesbuf.KeySize
}

var encryptionSpecs = map[uint8]encryptionSpec{
	EncryptionAES128CBC: {aesbuf.ModeCBC, aesbuf.Key128},
	EncryptionAES192CBC: {aesbuf.ModeCBC, aesbuf.Key192},
	EncryptionAES256CBC: {aesbuf.ModeCBC, aesbuf.Key256},
	EncryptionAES128CTR: {aesbuf.ModeCTR, aesbuf.Key128},
	EncryptionAES192CTR: {aesbuf.ModeCTR, aesbuf.Key192},
	EncryptionAES256CTR: {aesbuf.ModeCTR, aesbuf.Key256},
}

// Request is the command-specific payload sent to the daemon.
type Request struct {
	Server string            `json:"Server,omitempty"`
	Label  string            `json:"Label,omitempty"`
	Args   map[string]string `json:"Args,omitempty"`
}

// Response carries a command's result payload back to the client.
type Response struct {
	Status bool            `json:"Status"`
	Data   json.RawMessage `json:"Data,omitempty"`
}

// Outcome is the single error-reporting shape of §7: "a JSON response
// with {status:false, error:<code>, workflow:<name>}".
type Outcome struct {
	Status   bool   `json:"status"`
	Error    string `json:"error,omitempty"`
	Workflow string `json:"workflow,omitempty"`
}

// Envelope is one full message: a Header plus exactly one of Request,
// Response, Outcome depending on direction.
type Envelope struct {
	Header   Header    `json:"Header"`
	Request  *Request  `json:"Request,omitempty"`
	Response *Response `json:"Response,omitempty"`
	Outcome  *Outcome  `json:"Outcome,omitempty"`
}

// Encode renders env as JSON, then applies compression, then encryption,
// then base64 (each step only if the corresponding Header field is
// non-zero), then writes a 4-byte big-endian self-inclusive length
// prefix and the result to w.
func Encode(w io.Writer, env Envelope, key []byte) error {
	plain, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("mgmt: marshal envelope: %w", err)
	}

	payload := plain
	if env.Header.Compression != CompressionNone {
		payload, err = compressBytes(compressionKinds[env.Header.Compression], payload)
		if err != nil {
			return fmt.Errorf("mgmt: compress: %w", err)
		}
	}
	if env.Header.Encryption != EncryptionNone {
		spec, ok := encryptionSpecs[env.Header.Encryption]
		if !ok {
			return fmt.Errorf("mgmt: unknown encryption byte %d", env.Header.Encryption)
		}
		if len(key) != int(spec.keySize) {
			return fmt.Errorf("mgmt: key length %d does not match encryption byte %d (want %d)", len(key), env.Header.Encryption, spec.keySize)
		}
		payload, err = aesbuf.Encrypt(spec.mode, key, payload)
		if err != nil {
			return fmt.Errorf("mgmt: encrypt: %w", err)
		}
	}
	if env.Header.Compression != CompressionNone || env.Header.Encryption != EncryptionNone {
		encoded := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
		base64.StdEncoding.Encode(encoded, payload)
		payload = encoded
	}

	frameLen := uint32(4 + len(payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], frameLen)
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("mgmt: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("mgmt: write payload: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed frame from r and reverses base64,
// then decryption, then decompression, using the Compression/Encryption
// bytes the caller already knows (a fresh session negotiates these once;
// callers that don't know them yet must peek the header out-of-band).
func Decode(r io.Reader, compression, encryption uint8, key []byte) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, fmt.Errorf("mgmt: read length prefix: %w", err)
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen < 4 {
		return Envelope{}, fmt.Errorf("mgmt: frame length %d shorter than its own prefix", frameLen)
	}
	payload := make([]byte, frameLen-4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, fmt.Errorf("mgmt: read payload: %w", err)
	}

	var err error
	if compression != CompressionNone || encryption != EncryptionNone {
		decoded := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
		n, err := base64.StdEncoding.Decode(decoded, payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("mgmt: base64 decode: %w", err)
		}
		payload = decoded[:n]
	}
	if encryption != EncryptionNone {
		spec, ok := encryptionSpecs[encryption]
		if !ok {
			return Envelope{}, fmt.Errorf("mgmt: unknown encryption byte %d", encryption)
		}
		if len(key) != int(spec.keySize) {
			return Envelope{}, fmt.Errorf("mgmt: key length %d does not match encryption byte %d (want %d)", len(key), encryption, spec.keySize)
		}
		payload, err = aesbuf.Decrypt(spec.mode, key, payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("mgmt: decrypt: %w", err)
		}
	}
	if compression != CompressionNone {
		payload, err = decompressBytes(compressionKinds[compression], payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("mgmt: decompress: %w", err)
		}
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("mgmt: unmarshal envelope: %w", err)
	}
	return env, nil
}
