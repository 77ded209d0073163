// client.go - HuggingFace Hub Client
// Stellt einen HTTP-Client fuer Modell-Metadaten und Datei-Downloads bereit.
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bidyaai/bidya/envconfig"
)

// Konstanten fuer HuggingFace Hub API
const (
	DefaultHubURL        = "https://huggingface.co"
	DefaultClientTimeout = 30 * time.Minute
	ClientUserAgent      = "bidya/1.0"
)

// Fehler-Definitionen
var (
	ErrModelNotFound   = errors.New("model not found")
	ErrUnauthorized    = errors.New("authentication failed")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrGatedModel      = errors.New("gated model requires a token")
	ErrInvalidModelID  = errors.New("invalid model id")
	ErrInvalidResponse = errors.New("invalid server response")
)

// StatusError ist ein HTTP-Fehler des Hubs
// Unwrap liefert den passenden Sentinel-Fehler (z.B. ErrModelNotFound)
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("huggingface: %s: status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("huggingface: %s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrInvalidResponse
	}
}

// retryable prueft ob ein erneuter Versuch sinnvoll ist
func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// APIModelInfo enthaelt Metadaten eines Modells aus der Hub API
type APIModelInfo struct {
	ID       string       `json:"id"`
	SHA      string       `json:"sha"`
	Private  bool         `json:"private"`
	Gated    any          `json:"gated"` // false, "auto" oder "manual"
	Siblings []APISibling `json:"siblings"`
}

// IsGated prueft ob das Modell gated ist (authentifizierung erforderlich)
func (m *APIModelInfo) IsGated() bool {
	switch v := m.Gated.(type) {
	case bool:
		return v
	case string:
		return v == "auto" || v == "manual"
	default:
		return false
	}
}

// APISibling repraesentiert eine Datei im Model-Repository
type APISibling struct {
	Filename string   `json:"rfilename"`
	Size     int64    `json:"size"`
	LFS      *LFSInfo `json:"lfs,omitempty"`
}

// LFSInfo enthaelt LFS-Metadaten fuer grosse Dateien
type LFSInfo struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// FileSize gibt die Groesse der Datei zurueck, bevorzugt aus LFS
func (s APISibling) FileSize() int64 {
	if s.LFS != nil {
		return s.LFS.Size
	}
	return s.Size
}

// Client ist der HuggingFace Hub Client
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	userAgent   string
	cacheDir    string
	parallelism int
	retryDelay  time.Duration
}

// ClientOption konfiguriert den Client
type ClientOption func(*Client)

// WithToken setzt den HuggingFace API Token
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithBaseURL setzt eine Custom Base-URL
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient setzt einen Custom HTTP Client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewHTTPClient erstellt einen HTTP Client mit Proxy aus der Umgebung
// (HTTPS_PROXY, NO_PROXY). headerTimeout begrenzt das Warten auf die
// Antwort-Header, nicht die Dauer eines Downloads.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport, Timeout: DefaultClientTimeout}
}

// WithCacheDir setzt das Cache-Verzeichnis
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) { c.cacheDir = dir }
}

// WithParallelism setzt die Anzahl paralleler Downloads
func WithParallelism(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithRetryDelay setzt die Wartezeit zwischen Download-Versuchen
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// NewClient erstellt einen neuen Client; Token und Endpoint kommen aus
// HF_TOKEN und HF_ENDPOINT, Optionen ueberschreiben sie.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultClientTimeout},
		baseURL:     DefaultHubURL,
		token:       envconfig.HFToken(),
		userAgent:   ClientUserAgent,
		cacheDir:    GetCacheDir(),
		parallelism: DefaultParallelism,
		retryDelay:  DownloadRetryDelay,
	}
	if endpoint := envconfig.HFEndpoint(); endpoint != "" {
		c.baseURL = strings.TrimSuffix(endpoint, "/")
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// ModelInfo ruft die Metadaten eines Modells fuer eine Revision ab
func (c *Client) ModelInfo(ctx context.Context, modelID, revision string) (*APIModelInfo, error) {
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}
	if revision == "" {
		revision = DefaultRevision
	}

	u := fmt.Sprintf("%s/api/models/%s/revision/%s?blobs=true", c.baseURL, modelID, url.PathEscape(revision))
	resp, err := c.get(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info APIModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &info, nil
}

// fileURL baut die resolve-URL einer Datei
func (c *Client) fileURL(modelID, revision, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, modelID, url.PathEscape(revision), filename)
}

// get fuehrt einen GET aus und wandelt Fehlerstatus in *StatusError
func (c *Client) get(ctx context.Context, u string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: u, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func validateModelID(modelID string) error {
	if modelID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelID)
	}
	parts := strings.Split(modelID, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q, expected 'owner/model'", ErrInvalidModelID, modelID)
	}
	return nil
}
