package mgmt

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePlain(t *testing.T) {
	env := Envelope{
		Header: Header{Command: int32(CmdPing), ClientVersion: "1.0", Output: OutputJSON},
		Request: &Request{Server: "primary"},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, env, nil); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf, CompressionNone, EncryptionNone, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header.Command != int32(CmdPing) {
		t.Fatalf("Command = %d, want %d", got.Header.Command, CmdPing)
	}
	if got.Request == nil || got.Request.Server != "primary" {
		t.Fatalf("Request = %+v", got.Request)
	}
}

func TestEncodeDecodeCompressedAndEncrypted(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	env := Envelope{
		Header: Header{
			Command:     int32(CmdStatus),
			Compression: CompressionGzip,
			Encryption:  EncryptionAES256CTR,
		},
		Request: &Request{Server: "replica", Args: map[string]string{"detail": "true"}},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, env, key); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf, CompressionGzip, EncryptionAES256CTR, key)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Request == nil || got.Request.Args["detail"] != "true" {
		t.Fatalf("Request = %+v", got.Request)
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 16)
	wrongKey := bytes.Repeat([]byte{0x02}, 16)
	env := Envelope{
		Header:  Header{Command: int32(CmdPing), Encryption: EncryptionAES128CBC},
		Request: &Request{Server: "primary"},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, env, key); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf, CompressionNone, EncryptionAES128CBC, wrongKey)
	if err == nil && got.Request != nil && got.Request.Server == "primary" {
		t.Fatalf("decoding with the wrong key should not reproduce the original payload")
	}
}

func TestHandlePing(t *testing.T) {
	resp, err := HandlePing()
	if err != nil {
		t.Fatalf("HandlePing: %v", err)
	}
	if !resp.Status {
		t.Fatalf("expected Status=true")
	}
	if string(resp.Data) != `{"ok":true}` {
		t.Fatalf("Data = %s, want {\"ok\":true}", resp.Data)
	}
}
