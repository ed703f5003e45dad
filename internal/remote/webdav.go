// Package remote implements the WebDAV client used for browsing, fetching
// and uploading audio files on remote storage. Fetched files are staged to a
// local directory; from there the rest of the player treats them exactly
// like local files.
package remote

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cantabile/internal/cache"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAuth reports rejected credentials (HTTP 401/403).
	ErrAuth = errors.New("remote: authentication failed")
	// ErrNotFound reports a missing remote path (HTTP 404).
	ErrNotFound = errors.New("remote: not found")
)

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:resourcetype/>
    <D:getcontentlength/>
    <D:getlastmodified/>
  </D:prop>
</D:propfind>`

// Item describes one entry of a remote directory listing.
type Item struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"isDir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Client is a WebDAV client bound to one server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	basePath   string
	username   string
	password   string
	stagingDir string
	staged     *cache.StageCache
	logger     *logrus.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBasicAuth sets the credentials sent with every request.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithStagingDir sets where fetched files are staged. Defaults to the
// system temp directory.
func WithStagingDir(dir string) ClientOption {
	return func(c *Client) { c.stagingDir = dir }
}

// WithStageCache reuses staged downloads across Stage calls.
func WithStageCache(sc *cache.StageCache) ClientOption {
	return func(c *Client) { c.staged = sc }
}

// WithHTTPClient replaces the HTTP client, used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a WebDAV client for the given base URL.
func NewClient(baseURL string, logger *logrus.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	baseURL = strings.TrimRight(baseURL, "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid WebDAV URL %q", baseURL)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		basePath:   strings.TrimRight(parsed.Path, "/"),
		stagingDir: os.TempDir(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do issues one request with auth and maps error statuses.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w (HTTP %d)", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, fmt.Errorf("remote request failed with HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) resourceURL(remotePath string) string {
	if !strings.HasPrefix(remotePath, "/") {
		remotePath = "/" + remotePath
	}
	return c.baseURL + (&url.URL{Path: remotePath}).EscapedPath()
}

// List returns the entries directly under a remote directory.
func (c *Client) List(ctx context.Context, remotePath string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", c.resourceURL(remotePath),
		strings.NewReader(propfindBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", `application/xml; charset="utf-8"`)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to parse WebDAV listing: %w", err)
	}

	items := make([]Item, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		item, ok := c.itemFromResponse(r, remotePath)
		if ok {
			items = append(items, item)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"path":  remotePath,
		"count": len(items),
	}).Debug("Listed remote directory")
	return items, nil
}

// itemFromResponse converts one multistatus response, dropping the listed
// directory's own entry.
func (c *Client) itemFromResponse(r davResponse, listedPath string) (Item, bool) {
	href, err := url.PathUnescape(r.Href)
	if err != nil {
		href = r.Href
	}
	itemPath := strings.TrimPrefix(href, c.basePath)
	if itemPath == "" {
		itemPath = "/"
	}

	if strings.TrimRight(itemPath, "/") == strings.TrimRight(cleanPath(listedPath), "/") {
		return Item{}, false
	}

	item := Item{
		Path:  itemPath,
		IsDir: false,
	}
	for _, ps := range r.Propstats {
		if !strings.Contains(ps.Status, "200") {
			continue
		}
		if ps.Prop.DisplayName != "" {
			item.Name = ps.Prop.DisplayName
		}
		if ps.Prop.ResourceType.Collection != nil {
			item.IsDir = true
		}
		if ps.Prop.ContentLength > 0 {
			item.Size = ps.Prop.ContentLength
		}
		if ps.Prop.LastModified != "" {
			if t, err := http.ParseTime(ps.Prop.LastModified); err == nil {
				item.Modified = t
			}
		}
	}
	if item.Name == "" {
		item.Name = path.Base(strings.TrimRight(itemPath, "/"))
	}
	return item, true
}

// Fetch downloads a remote file into memory.
func (c *Client) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resourceURL(remotePath), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote file: %w", err)
	}
	return data, nil
}

// Store uploads data to a remote path.
func (c *Client) Store(ctx context.Context, remotePath string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resourceURL(remotePath),
		bytes.NewReader(data))
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"path": remotePath,
		"size": len(data),
	}).Info("Uploaded remote file")
	return nil
}

// Stage downloads a remote file to the staging directory and returns its
// local path. The download streams to disk in chunks; a repeated Stage of
// the same path reuses the cached copy while it exists.
func (c *Client) Stage(ctx context.Context, remotePath string) (string, error) {
	if c.staged != nil {
		if local, ok := c.staged.GetPath(remotePath); ok {
			c.logger.WithFields(logrus.Fields{
				"path":  remotePath,
				"local": local,
			}).Debug("Reusing staged download")
			return local, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resourceURL(remotePath), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(c.stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	local := c.stagingPath(remotePath)
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(local)
		return "", fmt.Errorf("failed to stage remote file: %w", err)
	}

	if c.staged != nil {
		c.staged.SetPath(remotePath, local)
	}

	c.logger.WithFields(logrus.Fields{
		"path":  remotePath,
		"local": local,
		"size":  written,
	}).Info("Staged remote file")
	return local, nil
}

// stagingPath builds a collision-free local filename that keeps the remote
// extension so decoders can recognize the format.
func (c *Client) stagingPath(remotePath string) string {
	ext := path.Ext(remotePath)
	name := fmt.Sprintf("cantabile_stage_%s%s", uuid.New().String(), ext)
	return filepath.Join(c.stagingDir, name)
}

func cleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// WebDAV multistatus document shapes.
type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	DisplayName   string       `xml:"displayname"`
	ResourceType  resourceType `xml:"resourcetype"`
	ContentLength int64        `xml:"getcontentlength"`
	LastModified  string       `xml:"getlastmodified"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}
