package s3store

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/leengari/pgward/internal/storage"
)

// Config is one S3 target's connection settings. Effective configuration
// falls back per-key from a server override to a global default (§4.J);
// that merge happens in the CLI/config loader, out of scope here — this
// struct is always the already-resolved view.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty selects path-style addressing
	AccessKey string
	SecretKey string
}

// Backend is the S3 storage tier: PUT-per-file upload with SigV4 signing,
// and list-type=2 paginated listing.
type Backend struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New returns an S3 Backend for cfg.
func New(cfg Config, logger *slog.Logger) *Backend {
	return &Backend{cfg: cfg, client: &http.Client{}, logger: logger}
}

func (b *Backend) Name() string { return "s3" }

// Setup opens the backend's HTTP connection pool (lazily — net/http
// already pools connections per-host, so this only validates config).
func (b *Backend) Setup(ctx context.Context, nodes storage.Nodes) error {
	if b.cfg.Bucket == "" || b.cfg.Region == "" {
		return fmt.Errorf("s3store: bucket and region are required")
	}
	return nil
}

// host returns the virtual-hosted or path-style host, per §4.J's
// "Endpoint style" rule.
func (b *Backend) host() string {
	if b.cfg.Endpoint != "" {
		return b.cfg.Endpoint
	}
	return fmt.Sprintf("%s.s3.%s.amazonaws.com", b.cfg.Bucket, b.cfg.Region)
}

// objectURL returns the path-vs-vhost-correct URL for key.
func (b *Backend) objectURL(key string) (canonicalURI string, fullURL string) {
	if b.cfg.Endpoint != "" {
		canonicalURI = "/" + b.cfg.Bucket + "/" + key
		return canonicalURI, fmt.Sprintf("https://%s%s", b.cfg.Endpoint, encodePath(canonicalURI))
	}
	canonicalURI = "/" + key
	return canonicalURI, fmt.Sprintf("https://%s%s", b.host(), encodePath(canonicalURI))
}

// Execute uploads every file under the local target base tree to
// <server>/<label>/<relpath> in the bucket.
func (b *Backend) Execute(ctx context.Context, nodes storage.Nodes) error {
	localBase := nodes.String(storage.NodeTargetBase)
	server := nodes.String(storage.NodeServerID)
	label := nodes.String(storage.NodeLabel)
	prefix := fmt.Sprintf("%s/%s", server, label)

	return filepath.Walk(localBase, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localBase, p)
		if err != nil {
			return err
		}
		key := prefix + "/" + filepath.ToSlash(rel)
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return b.putObject(ctx, key, body)
	})
}

// ShipFile uploads a single file (WAL segment shipping, §4.H).
func (b *Backend) ShipFile(ctx context.Context, localPath, remoteRelPath string) error {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return b.putObject(ctx, "wal/"+remoteRelPath, body)
}

func (b *Backend) putObject(ctx context.Context, key string, body []byte) error {
	canonicalURI, fullURL := b.objectURL(key)
	payloadHash := sha256Hex(body)
	amzDate := now().Format(longDateFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fullURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	host := req.URL.Host
	req.Header.Set("Host", host)
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.ContentLength = int64(len(body))

	in := canonicalRequestInput{
		Method:       http.MethodPut,
		CanonicalURI: canonicalURI,
		Query:        "",
		Host:         host,
		AmzDate:      amzDate,
		PayloadHash:  payloadHash,
	}
	req.Header.Set("Authorization", authorizationHeader(in, b.cfg.AccessKey, b.cfg.SecretKey, b.cfg.Region))

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("s3store: PUT %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("s3store: PUT %s: status %d", key, resp.StatusCode)
	}
	if b.logger != nil {
		b.logger.Info("s3 object uploaded", "key", key, "bytes", len(body))
	}
	return nil
}

// listBucketResult is the subset of the S3 ListObjectsV2 XML response
// this client needs.
type listBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	IsTruncated           bool     `xml:"IsTruncated"`
	NextContinuationToken string   `xml:"NextContinuationToken"`
	Contents               []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

// List enumerates every object under the given prefix, following
// NextContinuationToken pagination (§4.J).
func (b *Backend) List(ctx context.Context, nodes storage.Nodes) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s", nodes.String(storage.NodeServerID), nodes.String(storage.NodeLabel))

	var keys []string
	token := ""
	for {
		page, next, err := b.listPage(ctx, prefix, token)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if next == "" {
			break
		}
		token = next
	}
	return keys, nil
}

func (b *Backend) listPage(ctx context.Context, prefix, token string) ([]string, string, error) {
	query := url.Values{}
	query.Set("list-type", "2")
	query.Set("prefix", prefix)
	if token != "" {
		query.Set("continuation-token", token)
	}
	canonicalURI, base := b.bucketURL()
	fullURL := base + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, "", err
	}
	host := req.URL.Host
	amzDate := now().Format(longDateFormat)
	req.Header.Set("Host", host)
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", unsignedPayload)

	in := canonicalRequestInput{
		Method:       http.MethodGet,
		CanonicalURI: canonicalURI,
		Query:        canonicalQueryString(query),
		Host:         host,
		AmzDate:      amzDate,
		PayloadHash:  unsignedPayload,
	}
	req.Header.Set("Authorization", authorizationHeader(in, b.cfg.AccessKey, b.cfg.SecretKey, b.cfg.Region))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("s3store: list %s: %w", prefix, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", fmt.Errorf("s3store: list %s: status %d", prefix, resp.StatusCode)
	}

	var result listBucketResult
	if err := xml.Unmarshal(data, &result); err != nil {
		return nil, "", fmt.Errorf("s3store: parse ListBucketResult: %w", err)
	}
	keys := make([]string, len(result.Contents))
	for i, c := range result.Contents {
		keys[i] = c.Key
	}
	if result.IsTruncated {
		return keys, result.NextContinuationToken, nil
	}
	return keys, "", nil
}

func (b *Backend) bucketURL() (canonicalURI string, fullURL string) {
	if b.cfg.Endpoint != "" {
		canonicalURI = "/" + b.cfg.Bucket
		return canonicalURI, fmt.Sprintf("https://%s%s", b.cfg.Endpoint, encodePath(canonicalURI))
	}
	return "/", fmt.Sprintf("https://%s/", b.host())
}

// canonicalQueryString renders query params sorted by key, matching
// SigV4's canonical query string rule (url.Values.Encode already sorts by
// key, so this is a thin documenting wrapper).
func canonicalQueryString(v url.Values) string {
	return v.Encode()
}

func (b *Backend) Teardown(ctx context.Context, nodes storage.Nodes) error { return nil }
