// Package confluence publishes pages and attachments to a Confluence space
// through its JSON-RPC v2 service.
package confluence

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	apperr "github.com/klauern/docsync/internal/errors"
	"github.com/klauern/docsync/internal/logging"
	"github.com/klauern/docsync/internal/pipeline"
)

const rpcPath = "/rpc/json-rpc/confluenceservice-v2/"

// Options configures a Client.
type Options struct {
	URL             string
	Space           string
	Username        string
	Password        string
	Token           string
	ParentPageTitle string
	HTTPClient      *http.Client
	Timeout         time.Duration
	UserAgent       string
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

// Client is a pipeline.DestinationClient backed by Confluence.
type Client struct {
	endpoint    string
	space       string
	username    string
	password    string
	token       string
	parentTitle string
	httpClient  *http.Client
	userAgent   string
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration

	parentMu sync.Mutex
	parentID string
}

var _ pipeline.DestinationClient = (*Client)(nil)

// New creates a client. URL and Space are required.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if baseURL == "" {
		return nil, apperr.New(apperr.ErrInvalidConfig, "confluence url is required")
	}
	space := strings.TrimSpace(opts.Space)
	if space == "" {
		return nil, apperr.New(apperr.ErrInvalidConfig, "confluence space is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "docsync"
	}
	return &Client{
		endpoint:    baseURL + rpcPath,
		space:       space,
		username:    opts.Username,
		password:    opts.Password,
		token:       strings.TrimSpace(opts.Token),
		parentTitle: strings.TrimSpace(opts.ParentPageTitle),
		httpClient:  httpClient,
		userAgent:   userAgent,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}, nil
}

// wire types

type remoteID string

// UnmarshalJSON accepts ids encoded either as strings or as numbers.
func (r *remoteID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = remoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = remoteID(n.String())
	return nil
}

type rpcPage struct {
	ID       remoteID `json:"id,omitempty"`
	Space    string   `json:"space"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Version  int      `json:"version,omitempty"`
	ParentID remoteID `json:"parentId,omitempty"`
	HomePage bool     `json:"homePage,omitempty"`
	URL      string   `json:"url,omitempty"`
}

func (p rpcPage) remote() pipeline.RemotePage {
	parent := string(p.ParentID)
	if parent == "0" {
		parent = ""
	}
	return pipeline.RemotePage{
		ID:       string(p.ID),
		Title:    p.Title,
		ParentID: parent,
		Version:  p.Version,
	}
}

type rpcAttachment struct {
	ID          remoteID `json:"id,omitempty"`
	PageID      remoteID `json:"pageId,omitempty"`
	FileName    string   `json:"fileName"`
	ContentType string   `json:"contentType"`
	URL         string   `json:"url,omitempty"`
}

type rpcError struct {
	Error json.RawMessage `json:"error"`
}

// message extracts a readable message from the service's error value,
// which is either a string or an object with a "message" field.
func (e rpcError) message() string {
	var s string
	if json.Unmarshal(e.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Error, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(e.Error))
}

type callKind int

const (
	readCall callKind = iota
	writeCall
	// createCall is a write that is not safe to repeat: a request lost
	// after the service applied it would create a duplicate.
	createCall
)

// errOutcomeUnknown marks a create whose request may or may not have
// been applied.
var errOutcomeUnknown = errors.New("outcome unknown")

// rejected returns the error code a refused call maps to.
func (k callKind) rejected() apperr.ErrorCode {
	if k == readCall {
		return apperr.ErrRemoteNotFound
	}
	return apperr.ErrRemoteConflict
}

// CreatePage publishes a new page. Pages without a parent are placed
// under the configured parent page, if any.
func (c *Client) CreatePage(ctx context.Context, spec pipeline.PageSpec) (pipeline.RemotePage, error) {
	return c.storePage(ctx, "", 0, spec)
}

// UpdatePage overwrites page id, which must be at version.
func (c *Client) UpdatePage(ctx context.Context, id string, version int, spec pipeline.PageSpec) (pipeline.RemotePage, error) {
	return c.storePage(ctx, id, version, spec)
}

func (c *Client) storePage(ctx context.Context, id string, version int, spec pipeline.PageSpec) (pipeline.RemotePage, error) {
	parentID := spec.ParentID
	if parentID == "" {
		var err error
		if parentID, err = c.defaultParent(ctx); err != nil {
			return pipeline.RemotePage{}, err
		}
	}
	page := rpcPage{
		ID:       remoteID(id),
		Space:    c.space,
		Title:    spec.Title,
		Content:  spec.Body,
		Version:  version,
		ParentID: remoteID(parentID),
		HomePage: spec.HomePage,
	}
	if id == "" {
		return c.createPage(ctx, page)
	}
	var out rpcPage
	if err := c.call(ctx, "storePage", writeCall, &out, page); err != nil {
		return pipeline.RemotePage{}, err
	}
	return out.remote(), nil
}

// createPage stores a new page. When a create fails without a definite
// answer the page is looked up by title before trying again, since the
// service may have stored it.
func (c *Client) createPage(ctx context.Context, page rpcPage) (pipeline.RemotePage, error) {
	logger := logging.WithContext(ctx)
	for attempt := 0; ; attempt++ {
		var out rpcPage
		err := c.call(ctx, "storePage", createCall, &out, page)
		if err == nil {
			return out.remote(), nil
		}
		if !errors.Is(err, errOutcomeUnknown) || attempt >= c.maxRetries {
			return pipeline.RemotePage{}, err
		}
		existing, getErr := c.GetPage(ctx, pipeline.PageQuery{Title: page.Title})
		if getErr == nil {
			logger.Info("page create applied despite failed response", "title", page.Title, logging.RemoteID(existing.ID))
			return existing, nil
		}
		if !apperr.Is(getErr, apperr.ErrRemoteNotFound) {
			return pipeline.RemotePage{}, err
		}
		logger.Debug("page create not applied, retrying", "title", page.Title, "attempt", attempt+1, logging.Err(err))
		if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
			return pipeline.RemotePage{}, waitErr
		}
	}
}

// DeletePage removes a page. A page that no longer exists is reported
// as RemoteNotFound.
func (c *Client) DeletePage(ctx context.Context, id string) error {
	var ok bool
	err := c.call(ctx, "removePage", writeCall, &ok, id)
	if err == nil && !ok {
		err = apperr.Newf(apperr.ErrRemoteConflict, "confluence refused to remove page %s", id)
	}
	if apperr.Is(err, apperr.ErrRemoteConflict) {
		if _, getErr := c.GetPage(ctx, pipeline.PageQuery{ID: id}); apperr.Is(getErr, apperr.ErrRemoteNotFound) {
			return getErr
		}
	}
	return err
}

// GetPage fetches a page by id, or by title in the client's space.
func (c *Client) GetPage(ctx context.Context, q pipeline.PageQuery) (pipeline.RemotePage, error) {
	var (
		out rpcPage
		err error
	)
	if q.ID != "" {
		err = c.call(ctx, "getPage", readCall, &out, q.ID)
	} else {
		err = c.call(ctx, "getPage", readCall, &out, c.space, q.Title)
	}
	if err != nil {
		return pipeline.RemotePage{}, err
	}
	return out.remote(), nil
}

// CreateAttachment uploads a file to a page. Uploads are not repeated
// after a failure that leaves the outcome unknown; the error is
// RemoteUnavailable and the next run uploads again.
func (c *Client) CreateAttachment(ctx context.Context, spec pipeline.AttachmentSpec) (pipeline.RemoteAttachment, error) {
	contentType := spec.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(spec.Name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	meta := rpcAttachment{FileName: spec.Name, ContentType: contentType}
	var out rpcAttachment
	if err := c.call(ctx, "addAttachment", createCall, &out, spec.PageID, meta, base64.StdEncoding.EncodeToString(spec.Data)); err != nil {
		return pipeline.RemoteAttachment{}, err
	}
	pageID := string(out.PageID)
	if pageID == "" {
		pageID = spec.PageID
	}
	name := out.FileName
	if name == "" {
		name = spec.Name
	}
	return pipeline.RemoteAttachment{ID: string(out.ID), PageID: pageID, Name: name}, nil
}

// MoveAttachment renames an attachment and possibly moves it to another page.
func (c *Client) MoveAttachment(ctx context.Context, pageID, name, newPageID, newName string) error {
	var ok bool
	if err := c.call(ctx, "moveAttachment", writeCall, &ok, pageID, name, newPageID, newName); err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.ErrRemoteConflict, "confluence refused to move attachment %s", name)
	}
	return nil
}

// DeleteAttachment removes an attachment. The service only refuses a
// removal when the file is absent, so refusals map to RemoteNotFound.
func (c *Client) DeleteAttachment(ctx context.Context, pageID, name string) error {
	var ok bool
	err := c.call(ctx, "removeAttachment", writeCall, &ok, pageID, name)
	if apperr.Is(err, apperr.ErrRemoteConflict) || (err == nil && !ok) {
		return apperr.Wrap(apperr.ErrRemoteNotFound, fmt.Sprintf("attachment %s on page %s", name, pageID), err)
	}
	return err
}

// defaultParent resolves the configured parent page title once.
func (c *Client) defaultParent(ctx context.Context) (string, error) {
	if c.parentTitle == "" {
		return "", nil
	}
	c.parentMu.Lock()
	defer c.parentMu.Unlock()
	if c.parentID != "" {
		return c.parentID, nil
	}
	p, err := c.GetPage(ctx, pipeline.PageQuery{Title: c.parentTitle})
	if err != nil {
		return "", fmt.Errorf("resolve parent page %q: %w", c.parentTitle, err)
	}
	c.parentID = p.ID
	return p.ID, nil
}

func (c *Client) call(ctx context.Context, method string, kind callKind, out any, args ...any) error {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	url := c.endpoint + method
	logger := logging.WithContext(ctx)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		switch {
		case c.token != "":
			req.Header.Set("Authorization", "Bearer "+c.token)
		case c.username != "" || c.password != "":
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if kind == createCall {
				return apperr.Wrap(apperr.ErrRemoteUnavailable, "confluence "+method, fmt.Errorf("%w: %w", errOutcomeUnknown, err))
			}
			if attempt < c.maxRetries {
				logger.Debug("confluence request failed, retrying", "method", method, "attempt", attempt+1, logging.Err(err))
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return apperr.Wrap(apperr.ErrRemoteUnavailable, "confluence "+method, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return apperr.Wrap(apperr.ErrRemoteUnavailable, "read confluence "+method+" response", readErr)
		}

		status := resp.StatusCode
		if kind == createCall && status >= 500 && status <= 599 {
			return apperr.Wrap(apperr.ErrRemoteUnavailable,
				fmt.Sprintf("confluence %s: status=%d message=%s", method, status, snippet(respBody)), errOutcomeUnknown)
		}
		// 429 means the request was not processed, so every kind retries it.
		if status == http.StatusTooManyRequests || (status >= 500 && status <= 599) {
			if attempt < c.maxRetries {
				logger.Debug("confluence unavailable, retrying", "method", method, "status", status, "attempt", attempt+1)
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
					return waitErr
				}
				continue
			}
			return apperr.Newf(apperr.ErrRemoteUnavailable, "confluence %s: status=%d message=%s", method, status, snippet(respBody))
		}
		return decodeResponse(method, kind, status, respBody, out)
	}
}

func decodeResponse(method string, kind callKind, status int, body []byte, out any) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Newf(apperr.ErrInvalidConfig, "confluence %s: credentials rejected (status=%d)", method, status)
	case status == http.StatusConflict:
		return apperr.Newf(apperr.ErrRemoteConflict, "confluence %s: status=%d message=%s", method, status, snippet(body))
	case status == http.StatusNotFound:
		return apperr.Newf(apperr.ErrRemoteNotFound, "confluence %s: status=%d", method, status)
	case status < 200 || status > 299:
		return apperr.Newf(kind.rejected(), "confluence %s: status=%d message=%s", method, status, snippet(body))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var rpcErr rpcError
		if json.Unmarshal(trimmed, &rpcErr) == nil && len(rpcErr.Error) > 0 && string(rpcErr.Error) != "null" {
			return apperr.Newf(kind.rejected(), "confluence %s: %s", method, rpcErr.message())
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return apperr.Wrap(apperr.ErrRemoteUnavailable, "decode confluence "+method+" response", err)
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
