// Package s3store implements the S3 storage backend (§4.J): AWS
// Signature Version 4 request signing, PUT-per-file upload, paginated
// GET-based listing, and path-vs-virtual-hosted endpoint addressing.
// SigV4 is hand-rolled against crypto/hmac + crypto/sha256 because no
// AWS SDK appears anywhere in the retrieval pack. sigv4_test.go checks
// signing-key determinism, the Authorization header's shape and the
// canonical request's layout; it does not compare against a published
// AWS test vector.
package s3store

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	awsAlgorithm   = "AWS4-HMAC-SHA256"
	awsService     = "s3"
	awsRequestTag  = "aws4_request"
	unsignedPayload = "UNSIGNED-PAYLOAD"
)

// longDateFormat/shortDateFormat match AWS's "X-Amz-Date" and
// credential-scope date formats.
const (
	longDateFormat  = "20060102T150405Z"
	shortDateFormat = "20060102"
)

// signingKey computes the four-step HMAC chain:
// HMAC(HMAC(HMAC(HMAC("AWS4"+secret, shortDate), region), "s3"), "aws4_request").
func signingKey(secret, shortDate, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), shortDate)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, awsService)
	return hmacSHA256(kService, awsRequestTag)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalRequestInput is everything needed to build the canonical
// request string of §4.J.
type canonicalRequestInput struct {
	Method         string
	CanonicalURI   string // already percent-encoded path, e.g. "/test.txt" or "/bucket/test.txt"
	Query          string // raw query string, already sorted/encoded, e.g. "list-type=2&prefix="
	Host           string
	AmzDate        string
	PayloadHash    string // sha256 hex of body, or "UNSIGNED-PAYLOAD"
	StorageClass   string // optional; "" to omit
}

// signedHeaderNames returns the lowercase header names included in the
// signature, in the fixed order §4.J specifies.
func (in canonicalRequestInput) signedHeaderNames() []string {
	names := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	if in.StorageClass != "" {
		names = []string{"host", "x-amz-content-sha256", "x-amz-date", "x-amz-storage-class"}
		sort.Strings(names)
		return names
	}
	sort.Strings(names)
	return names
}

func (in canonicalRequestInput) canonicalHeaders() string {
	var sb strings.Builder
	for _, name := range in.signedHeaderNames() {
		switch name {
		case "host":
			fmt.Fprintf(&sb, "host:%s\n", in.Host)
		case "x-amz-content-sha256":
			fmt.Fprintf(&sb, "x-amz-content-sha256:%s\n", in.PayloadHash)
		case "x-amz-date":
			fmt.Fprintf(&sb, "x-amz-date:%s\n", in.AmzDate)
		case "x-amz-storage-class":
			fmt.Fprintf(&sb, "x-amz-storage-class:%s\n", in.StorageClass)
		}
	}
	return sb.String()
}

func (in canonicalRequestInput) signedHeaders() string {
	return strings.Join(in.signedHeaderNames(), ";")
}

// canonicalRequest builds the five-line (plus trailing payload hash)
// canonical request string of §4.J.
func canonicalRequest(in canonicalRequestInput) string {
	return strings.Join([]string{
		in.Method,
		in.CanonicalURI,
		in.Query,
		in.canonicalHeaders(),
		in.signedHeaders(),
		in.PayloadHash,
	}, "\n")
}

// stringToSign builds the AWS4-HMAC-SHA256 string-to-sign.
func stringToSign(amzDate, shortDate, region, canonicalReq string) string {
	scope := fmt.Sprintf("%s/%s/%s/%s", shortDate, region, awsService, awsRequestTag)
	return strings.Join([]string{
		awsAlgorithm,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalReq)),
	}, "\n")
}

// authorizationHeader signs in and returns the full "Authorization" header
// value.
func authorizationHeader(in canonicalRequestInput, accessKey, secretKey, region string) string {
	shortDate := in.AmzDate[:8]
	creq := canonicalRequest(in)
	sts := stringToSign(in.AmzDate, shortDate, region, creq)
	key := signingKey(secretKey, shortDate, region)
	sig := hex.EncodeToString(hmacSHA256(key, sts))

	scope := fmt.Sprintf("%s/%s/%s/%s", shortDate, region, awsService, awsRequestTag)
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		awsAlgorithm, accessKey, scope, in.signedHeaders(), sig)
}

// now is overridable for tests that need a fixed long-date.
var now = func() time.Time { return time.Now().UTC() }

func encodePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
