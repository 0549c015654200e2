package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Dataset is one catalog record: a named file set with its bookkeeping
// metadata. The executor turns these into the inline dataset definitions the
// analysis layer consumes.
type Dataset struct {
	Name       string   `json:"name"`
	Sample     string   `json:"sample"`
	Year       string   `json:"year"`
	Era        string   `json:"era,omitempty"`
	FinalState string   `json:"final_state,omitempty"`
	IsMC       bool     `json:"is_mc"`
	XSec       float64  `json:"xsec,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Files      []string `json:"files,omitempty"`
	Events     int64    `json:"events"`
}

type Client interface {
	Dataset(ctx context.Context, name string) (*Dataset, error)
	Search(ctx context.Context, query string) ([]Dataset, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) doReq(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalog %s %s: %d %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *HTTPClient) Dataset(ctx context.Context, name string) (*Dataset, error) {
	data, err := c.doReq(ctx, "GET", "/datasets/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (c *HTTPClient) Search(ctx context.Context, query string) ([]Dataset, error) {
	data, err := c.doReq(ctx, "GET", "/datasets?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	var out []Dataset
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
