package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/billed/internal/bill"
)

// ErrMissingID is returned by Update when no bill id was reserved
var ErrMissingID = errors.New("bill id is required")

// Client implements BillStore against the bills HTTP API
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a Client for the API rooted at baseURL
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing api base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// WithToken returns a copy of the client sending token as a bearer credential
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// List fetches GET /bills
func (c *Client) List(ctx context.Context) ([]bill.Bill, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/bills", nil)
	if err != nil {
		return nil, err
	}

	bills := make([]bill.Bill, 0)
	if err := c.do(req, &bills); err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	return bills, nil
}

// Create posts the receipt as multipart form data to POST /bills
func (c *Client) Create(ctx context.Context, cr CreateRequest) (*CreateResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", cr.FileName)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(cr.Data); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := writer.WriteField("email", cr.Email); err != nil {
		return nil, fmt.Errorf("writing email field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/bills", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result CreateResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("creating bill: %w", err)
	}
	if result.FileName == "" {
		result.FileName = cr.FileName
	}
	return &result, nil
}

// Update sends PATCH /bills/{id} with the JSON encoded bill
func (c *Client) Update(ctx context.Context, id string, b bill.Bill) (*bill.Bill, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshaling bill: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, "/bills/"+url.PathEscape(id), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var updated bill.Bill
	if err := c.do(req, &updated); err != nil {
		return nil, fmt.Errorf("updating bill %s: %w", id, err)
	}
	return &updated, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling bills API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
