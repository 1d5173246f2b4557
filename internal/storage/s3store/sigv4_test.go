package s3store

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestSigningKeyDeterministic(t *testing.T) {
	k1 := signingKey("secret", "20150830", "us-east-1")
	k2 := signingKey("secret", "20150830", "us-east-1")
	if hex.EncodeToString(k1) != hex.EncodeToString(k2) {
		t.Fatalf("signingKey is not deterministic")
	}
	if len(k1) != 32 {
		t.Fatalf("signingKey length = %d, want 32 (sha256 output)", len(k1))
	}
}

func TestSigningKeyVariesWithInputs(t *testing.T) {
	base := signingKey("secret", "20150830", "us-east-1")
	otherSecret := signingKey("other", "20150830", "us-east-1")
	otherDate := signingKey("secret", "20150831", "us-east-1")
	otherRegion := signingKey("secret", "20150830", "eu-west-1")

	for _, other := range [][]byte{otherSecret, otherDate, otherRegion} {
		if hex.EncodeToString(base) == hex.EncodeToString(other) {
			t.Fatalf("signingKey did not vary with its inputs")
		}
	}
}

func TestAuthorizationHeaderShape(t *testing.T) {
	in := canonicalRequestInput{
		Method:       "PUT",
		CanonicalURI: "/test.txt",
		Query:        "",
		Host:         "examplebucket.s3.amazonaws.com",
		AmzDate:      "20150830T123600Z",
		PayloadHash:  sha256Hex(nil),
	}
	header := authorizationHeader(in, "AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY", "us-east-1")

	if !strings.HasPrefix(header, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/s3/aws4_request, SignedHeaders=") {
		t.Fatalf("unexpected Authorization header shape: %s", header)
	}
	if !strings.Contains(header, "Signature=") {
		t.Fatalf("Authorization header missing Signature: %s", header)
	}
	// SignedHeaders must be sorted and semicolon-joined.
	if !strings.Contains(header, "SignedHeaders=host;x-amz-content-sha256;x-amz-date") {
		t.Fatalf("unexpected SignedHeaders list: %s", header)
	}
}

func TestCanonicalRequestIncludesPayloadHashLast(t *testing.T) {
	in := canonicalRequestInput{
		Method:       "GET",
		CanonicalURI: "/",
		Query:        "list-type=2&prefix=srv%2Flbl",
		Host:         "examplebucket.s3.amazonaws.com",
		AmzDate:      "20150830T123600Z",
		PayloadHash:  unsignedPayload,
	}
	creq := canonicalRequest(in)
	lines := strings.Split(creq, "\n")
	if lines[len(lines)-1] != unsignedPayload {
		t.Fatalf("canonical request must end with the payload hash line, got %q", lines[len(lines)-1])
	}
	if lines[0] != "GET" || lines[1] != "/" {
		t.Fatalf("unexpected canonical request method/URI lines: %v", lines[:2])
	}
}
