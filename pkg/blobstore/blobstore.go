// Package blobstore uploads encrypted documents to a content-addressed IPFS
// pinning service and resolves CIDs back to their bytes through HTTP
// gateways.
//
// The uploaded unit is a small JSON document {ciphertext, iv, tag}, each
// field base64. The ciphertext field carries the tag-stripped form; the tag
// travels in its own field. Download applies the same convention.
package blobstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

const (
	defaultEndpoint      = "https://api.pinata.cloud"
	defaultPublicGateway = "https://ipfs.io/ipfs"
	uploadFileName       = "encrypted-data.json"
)

var (
	// ErrUploadUnavailable means no pinning credentials are configured.
	// This is a configuration problem, not a transient one.
	ErrUploadUnavailable = errors.New("blobstore: upload unavailable, no pinning JWT configured")

	// ErrContentNotFound means neither the primary nor the fallback gateway
	// could resolve the CID.
	ErrContentNotFound = errors.New("blobstore: content not found")

	// ErrMalformedContent means the resolved bytes parsed as JSON but lack
	// one of the three required fields.
	ErrMalformedContent = errors.New("blobstore: malformed content")
)

// UploadFailedError is a non-success response from the pinning endpoint.
// Unlike ErrUploadUnavailable it may be transient; retrying is the caller's
// decision.
type UploadFailedError struct {
	Status  int
	Message string
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("blobstore: upload failed: HTTP %d: %s", e.Status, e.Message)
}

// Config configures a Client.
type Config struct {
	// JWT is the pinning service bearer token. Empty means uploads are
	// unavailable.
	JWT string
	// Endpoint is the pinning API base URL. Defaults to the Pinata API.
	Endpoint string
	// Gateway is the primary gateway base URL used for downloads, e.g.
	// "https://example.mypinata.cloud/ipfs". Empty means the public gateway
	// is primary.
	Gateway string
	// PublicGateway is the fallback gateway base URL. Defaults to ipfs.io.
	PublicGateway string
	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
	// Logger is an optional logger. Defaults to logrus.New().
	Logger *logrus.Logger
}

// Client talks to the pinning service and gateways. Safe for concurrent use;
// the underlying HTTP client is initialized lazily and shared.
type Client struct {
	config Config
	log    *logrus.Logger

	httpOnce sync.Once
	httpc    *http.Client
}

// NewClient creates a Client. A missing JWT is not an error here; Upload
// reports ErrUploadUnavailable when called without one, so that read-only
// deployments can still download.
func NewClient(config Config) *Client {
	if config.Endpoint == "" {
		config.Endpoint = defaultEndpoint
	}
	if config.PublicGateway == "" {
		config.PublicGateway = defaultPublicGateway
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	return &Client{
		config: config,
		log:    config.Logger,
	}
}

// document is the JSON wire format of the uploaded unit.
type document struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
	PinSize  int64  `json:"PinSize"`
}

// Upload serializes {ciphertext, iv, tag} as JSON and pins it. It returns
// the store-assigned CID and the pinned size in bytes.
func (c *Client) Upload(ctx context.Context, ciphertext, iv, tag []byte) (string, int64, error) {
	if c.config.JWT == "" {
		return "", 0, ErrUploadUnavailable
	}

	doc := document{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("error encoding blob document: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", uploadFileName)
	if err != nil {
		return "", 0, fmt.Errorf("error building multipart body: %w", err)
	}
	if _, err := part.Write(docJSON); err != nil {
		return "", 0, fmt.Errorf("error building multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", 0, fmt.Errorf("error building multipart body: %w", err)
	}

	url := c.config.Endpoint + "/pinning/pinFileToIPFS"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", 0, fmt.Errorf("error creating upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.JWT)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("error uploading blob: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, &UploadFailedError{
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	var pinned pinResponse
	if err := json.Unmarshal(respBody, &pinned); err != nil {
		return "", 0, fmt.Errorf("error decoding pin response: %w", err)
	}
	if _, err := cid.Decode(pinned.IpfsHash); err != nil {
		return "", 0, fmt.Errorf("error validating returned CID %q: %w", pinned.IpfsHash, err)
	}

	size := pinned.PinSize
	if size == 0 {
		size = int64(len(docJSON))
	}

	c.log.WithFields(logrus.Fields{
		"cid":  pinned.IpfsHash,
		"size": size,
	}).Debug("uploaded encrypted blob")

	return pinned.IpfsHash, size, nil
}

// Download resolves a CID to its {ciphertext, iv, tag} document. The primary
// gateway is tried first; on a non-success response the public gateway gets
// one attempt before the download fails.
func (c *Client) Download(ctx context.Context, contentID string) (ciphertext, iv, tag []byte, err error) {
	if _, err := cid.Decode(contentID); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: invalid CID %q: %v", ErrContentNotFound, contentID, err)
	}

	gateways := c.gatewayURLs(contentID)
	var lastErr error
	for _, url := range gateways {
		data, fetchErr := c.fetch(ctx, url)
		if fetchErr != nil {
			c.log.WithFields(logrus.Fields{
				"cid": contentID,
				"url": url,
			}).Warnf("gateway fetch failed: %v", fetchErr)
			lastErr = fetchErr
			continue
		}
		return decodeDocument(data)
	}

	return nil, nil, nil, fmt.Errorf("%w: cid %s: %v", ErrContentNotFound, contentID, lastErr)
}

func (c *Client) gatewayURLs(contentID string) []string {
	public := strings.TrimSuffix(c.config.PublicGateway, "/") + "/" + contentID
	if c.config.Gateway == "" {
		return []string{public}
	}
	primary := strings.TrimSuffix(c.config.Gateway, "/") + "/" + contentID
	if primary == public {
		return []string{primary}
	}
	return []string{primary, public}
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating gateway request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching from gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned HTTP %d %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<24))
}

func decodeDocument(data []byte) (ciphertext, iv, tag []byte, err error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if doc.Ciphertext == "" || doc.IV == "" || doc.Tag == "" {
		return nil, nil, nil, fmt.Errorf("%w: missing ciphertext, iv or tag", ErrMalformedContent)
	}

	ciphertext, err = base64.StdEncoding.DecodeString(doc.Ciphertext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: ciphertext is not base64: %v", ErrMalformedContent, err)
	}
	iv, err = base64.StdEncoding.DecodeString(doc.IV)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: iv is not base64: %v", ErrMalformedContent, err)
	}
	tag, err = base64.StdEncoding.DecodeString(doc.Tag)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: tag is not base64: %v", ErrMalformedContent, err)
	}

	return ciphertext, iv, tag, nil
}

func (c *Client) httpClient() *http.Client {
	c.httpOnce.Do(func() {
		c.httpc = &http.Client{Timeout: c.config.Timeout}
	})
	return c.httpc
}
