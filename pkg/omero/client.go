package omero

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/je4/utils/v2/pkg/checksum"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/version"
	"github.com/rs/zerolog"
)

const (
	apiToken          = "/api/v0/token/"
	apiLogin          = "/api/v0/login/"
	apiLogout         = "/api/v0/login/logout/"
	apiOriginalFiles  = "/api/v0/m/originalfiles/"
	webKeepalive      = "/webclient/keepalive_ping/"
	webDownload       = "/webclient/download_original_file/"
	defaultUploadPath = "/webclient/upload_original_file/"

	pageLimit = 200
)

var ErrNotFound = fmt.Errorf("original file not found")

type clientConfig struct {
	serverID   int
	uploadPath string
	insecure   bool
	timeout    time.Duration
	httpClient *http.Client
	logger     zLogger.ZLogger
}

type ClientOption func(*clientConfig)

// WithServerID selects the server entry of the login form.
func WithServerID(id int) ClientOption {
	return func(cfg *clientConfig) { cfg.serverID = id }
}

func WithUploadPath(p string) ClientOption {
	return func(cfg *clientConfig) { cfg.uploadPath = p }
}

// WithInsecure disables TLS certificate verification.
func WithInsecure(insecure bool) ClientOption {
	return func(cfg *clientConfig) { cfg.insecure = insecure }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) { cfg.timeout = timeout }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(cfg *clientConfig) { cfg.httpClient = httpClient }
}

func WithClientLogger(logger zLogger.ZLogger) ClientOption {
	return func(cfg *clientConfig) { cfg.logger = logger }
}

// Client talks to the server's JSON API and webclient endpoints. It keeps
// the session cookie jar, the CSRF token and an optional session key and
// is safe for concurrent use.
type Client struct {
	baseURL    string
	http       *http.Client
	serverID   int
	uploadPath string
	userAgent  string
	logger     zLogger.ZLogger

	mtx     sync.Mutex
	csrf    string
	session string

	kaMtx     sync.Mutex
	kaDone    chan bool
	closeOnce sync.Once
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{serverID: 1, uploadPath: defaultUploadPath, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		nop := zerolog.Nop()
		cfg.logger = &nop
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, errors.Errorf("invalid base url '%s'", baseURL)
	}
	httpClient := cfg.httpClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, errors.Wrap(err, "cannot create cookie jar")
		}
		httpClient = &http.Client{Jar: jar, Timeout: cfg.timeout}
		if cfg.insecure {
			httpClient.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}
		}
	}
	return &Client{
		baseURL:    baseURL,
		http:       httpClient,
		serverID:   cfg.serverID,
		uploadPath: cfg.uploadPath,
		userAgent:  version.UserAgent(),
		logger:     cfg.logger,
	}, nil
}

func (c *Client) URL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, p string, query url.Values, contentType string, body io.Reader) (*http.Request, error) {
	c.mtx.Lock()
	csrf := c.csrf
	session := c.session
	c.mtx.Unlock()
	u := c.baseURL + p
	if session != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("bsession", session)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create request %s %s", method, p)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		if csrf != "" {
			req.Header.Set("X-CSRFToken", csrf)
			req.Header.Set("Referer", c.baseURL+"/")
		}
	}
	return req, nil
}

// do runs a request and returns the response body. Non-2xx responses come
// back as *RestError.
func (c *Client) do(ctx context.Context, method, p string, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	req, err := c.newRequest(ctx, method, p, query, contentType, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot %s %s", method, p)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read response of %s %s", method, p)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RestError{Method: method, Path: p, Status: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// IsNotFound reports whether err denotes a missing object.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var restErr *RestError
	return errors.As(err, &restErr) && restErr.Status == http.StatusNotFound
}

// Token fetches the CSRF token required for unsafe methods.
func (c *Client) Token(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, apiToken, nil, "", nil)
	if err != nil {
		return "", err
	}
	var result tokenResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", errors.Wrap(err, "cannot decode token response")
	}
	if result.Data == "" {
		return "", errors.New("empty CSRF token")
	}
	c.mtx.Lock()
	c.csrf = result.Data
	c.mtx.Unlock()
	return result.Data, nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mtx.Lock()
	csrf := c.csrf
	c.mtx.Unlock()
	if csrf != "" {
		return nil
	}
	_, err := c.Token(ctx)
	return err
}

// Login opens a new session with user credentials.
func (c *Client) Login(ctx context.Context, username, password string) (*EventContext, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	form := url.Values{
		"username": {username},
		"password": {password},
		"server":   {strconv.Itoa(c.serverID)},
	}
	body, err := c.do(ctx, http.MethodPost, apiLogin, nil,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	var result loginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "cannot decode login response")
	}
	if !result.Success || result.EventContext == nil {
		return nil, errors.Errorf("login failed: %s", result.Message)
	}
	c.logger.Info().Msgf("logged in to %s as '%s'", c.baseURL, result.EventContext.UserName)
	return result.EventContext, nil
}

// JoinSession attaches an existing session key and verifies it with a
// keepalive round trip.
func (c *Client) JoinSession(ctx context.Context, key string) error {
	c.mtx.Lock()
	c.session = key
	c.mtx.Unlock()
	if err := c.KeepAlive(ctx); err != nil {
		c.mtx.Lock()
		c.session = ""
		c.mtx.Unlock()
		return errors.Wrapf(err, "cannot join session on %s", c.baseURL)
	}
	c.logger.Info().Msgf("joined existing session on %s", c.baseURL)
	return nil
}

func (c *Client) KeepAlive(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, webKeepalive, nil, "", nil)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) == "Connection Failed" {
		return errors.Errorf("session on %s is gone", c.baseURL)
	}
	return nil
}

// StartKeepalive pings the session every interval until the client is
// closed. An interval <= 0 stops a running keepalive.
func (c *Client) StartKeepalive(interval time.Duration) {
	c.kaMtx.Lock()
	defer c.kaMtx.Unlock()
	if c.kaDone != nil {
		close(c.kaDone)
		c.kaDone = nil
	}
	if interval <= 0 {
		return
	}
	done := make(chan bool)
	c.kaDone = done
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.KeepAlive(context.Background()); err != nil {
					c.logger.Error().Err(err).Msgf("keepalive on %s failed", c.baseURL)
				}
			}
		}
	}()
}

// ListOriginalFiles returns all files stored below path, following the
// API pagination.
func (c *Client) ListOriginalFiles(ctx context.Context, path string) ([]*OriginalFile, error) {
	var files []*OriginalFile
	offset := 0
	for {
		query := url.Values{
			"path":   {path},
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(pageLimit)},
		}
		body, err := c.do(ctx, http.MethodGet, apiOriginalFiles, query, "", nil)
		if err != nil {
			return nil, err
		}
		var page filePage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.Wrap(err, "cannot decode file listing")
		}
		files = append(files, page.Data...)
		if len(page.Data) == 0 || len(files) >= page.Meta.TotalCount {
			return files, nil
		}
		offset += len(page.Data)
	}
}

func (c *Client) GetOriginalFile(ctx context.Context, id int64) (*OriginalFile, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s%d/", apiOriginalFiles, id), nil, "", nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.Wrapf(ErrNotFound, "id %d", id)
		}
		return nil, err
	}
	var result fileResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "cannot decode file response")
	}
	if result.Data == nil {
		return nil, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return result.Data, nil
}

// FindOriginalFile resolves a file by its exact path and name attributes.
func (c *Client) FindOriginalFile(ctx context.Context, path, name string) (*OriginalFile, error) {
	query := url.Values{
		"path":  {path},
		"name":  {name},
		"limit": {"1"},
	}
	body, err := c.do(ctx, http.MethodGet, apiOriginalFiles, query, "", nil)
	if err != nil {
		return nil, err
	}
	var page filePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrap(err, "cannot decode file listing")
	}
	if len(page.Data) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", path, name)
	}
	return page.Data[0], nil
}

// Download streams the file content. The caller closes the reader.
func (c *Client) Download(ctx context.Context, id int64) (io.ReadCloser, error) {
	p := fmt.Sprintf("%s%d/", webDownload, id)
	req, err := c.newRequest(ctx, http.MethodGet, p, nil, "", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Del("Accept")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot download file %d", id)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &RestError{Method: http.MethodGet, Path: p, Status: resp.StatusCode, Body: body}
	}
	return resp.Body, nil
}

// ReadOriginalFile downloads the whole file content.
func (c *Client) ReadOriginalFile(ctx context.Context, id int64) ([]byte, error) {
	reader, err := c.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read file %d", id)
	}
	return data, nil
}

// Upload stores data as a new file or overwrites the file with the same
// path and name. The SHA-1 of the payload travels along for integrity.
func (c *Client) Upload(ctx context.Context, path, name, mimetype string, data []byte) (*OriginalFile, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	digest, err := checksum.Checksum(bytes.NewReader(data), checksum.DigestSHA1)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build checksum")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"path": path,
		"name": name,
		"sha1": digest,
	}
	if mimetype != "" {
		fields["mimetype"] = mimetype
	}
	for field, value := range fields {
		if err := writer.WriteField(field, value); err != nil {
			return nil, errors.Wrapf(err, "cannot write field '%s'", field)
		}
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file part")
	}
	if _, err := part.Write(data); err != nil {
		return nil, errors.Wrap(err, "cannot write file part")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "cannot finish multipart body")
	}
	body, err := c.do(ctx, http.MethodPost, c.uploadPath, nil, writer.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	var result fileResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "cannot decode upload response")
	}
	if result.Data == nil {
		return nil, errors.Errorf("upload of '%s/%s' returned no file", path, name)
	}
	c.logger.Debug().Msgf("uploaded '%s/%s' (%d bytes, sha1 %s)", path, name, len(data), digest)
	return result.Data, nil
}

func (c *Client) UpdateOriginalFile(ctx context.Context, id int64, patch *FilePatch) (*OriginalFile, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode patch")
	}
	body, err := c.do(ctx, http.MethodPut, fmt.Sprintf("%s%d/", apiOriginalFiles, id), nil,
		"application/json", bytes.NewReader(payload))
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.Wrapf(ErrNotFound, "id %d", id)
		}
		return nil, err
	}
	var result fileResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "cannot decode update response")
	}
	if result.Data == nil {
		return nil, errors.Errorf("update of file %d returned no file", id)
	}
	return result.Data, nil
}

func (c *Client) DeleteOriginalFile(ctx context.Context, id int64) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("%s%d/", apiOriginalFiles, id), nil, "", nil); err != nil {
		if IsNotFound(err) {
			return errors.Wrapf(ErrNotFound, "id %d", id)
		}
		return err
	}
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	_, err := c.do(ctx, http.MethodPost, apiLogout, nil, "", nil)
	return err
}

// Close stops the keepalive and ends the session. Logout failures are
// logged, not returned.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.StartKeepalive(0)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Logout(ctx); err != nil {
			c.logger.Debug().Err(err).Msgf("logout on %s failed", c.baseURL)
		}
	})
	return nil
}
