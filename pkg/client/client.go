package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

const (
	userHeader   = "X-Remote-User"
	groupsHeader = "X-Remote-Groups"

	maxEventSize = 4 << 20
)

// httpClient implements the Client interface using HTTP
type httpClient struct {
	config  *Config
	client  *http.Client
	stream  *http.Client
	baseURL *url.URL
}

// NewClient creates a new HTTP client for the Themelio API
func NewClient(config *Config) (Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %v", err)
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport
	if config.TLS.InsecureSkipVerify || config.TLS.CertFile != "" || config.TLS.KeyFile != "" || config.TLS.CAFile != "" {
		tlsConfig, err := newTLSConfig(config.TLS)
		if err != nil {
			return nil, err
		}
		transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		}
	}

	return &httpClient{
		config: config,
		client: &http.Client{Timeout: timeout, Transport: transport},
		// watches stay open until the caller cancels
		stream:  &http.Client{Transport: transport},
		baseURL: baseURL,
	}, nil
}

func newTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %v", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func (c *httpClient) CreateResource(ctx context.Context, ref definition.Reference, resource *meta.Object, opts WriteOptions) (*meta.Object, error) {
	if resource == nil {
		return nil, fmt.Errorf("resource cannot be nil")
	}
	body, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %v", err)
	}

	query := writeQuery(resource.Metadata.Namespace, opts)
	var created meta.Object
	if err := c.do(ctx, http.MethodPost, resourcePath(ref), query, body, "application/json", opts, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *httpClient) GetResource(ctx context.Context, ref definition.Reference, namespace, name string) (*meta.Object, error) {
	if name == "" {
		return nil, fmt.Errorf("resource name is required")
	}

	var resource meta.Object
	if err := c.do(ctx, http.MethodGet, resourcePath(ref, name), namespaceQuery(namespace), nil, "", WriteOptions{}, &resource); err != nil {
		return nil, err
	}
	return &resource, nil
}

func (c *httpClient) ListResources(ctx context.Context, ref definition.Reference, opts ListOptions) (*meta.List[*meta.Object], error) {
	var list meta.List[*meta.Object]
	if err := c.do(ctx, http.MethodGet, resourcePath(ref), listQuery(opts), nil, "", WriteOptions{}, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *httpClient) ReplaceResource(ctx context.Context, ref definition.Reference, resource *meta.Object, opts WriteOptions) (*meta.Object, error) {
	if resource == nil {
		return nil, fmt.Errorf("resource cannot be nil")
	}
	if resource.Metadata.Name == "" {
		return nil, fmt.Errorf("resource name is required")
	}
	body, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %v", err)
	}

	query := writeQuery(resource.Metadata.Namespace, opts)
	var replaced meta.Object
	if err := c.do(ctx, http.MethodPut, resourcePath(ref, resource.Metadata.Name), query, body, "application/json", opts, &replaced); err != nil {
		return nil, err
	}
	return &replaced, nil
}

func (c *httpClient) PatchResource(ctx context.Context, ref definition.Reference, namespace, name string, patch []byte, opts WriteOptions) (*meta.Object, error) {
	if name == "" {
		return nil, fmt.Errorf("resource name is required")
	}

	var patched meta.Object
	if err := c.do(ctx, http.MethodPatch, resourcePath(ref, name), writeQuery(namespace, opts), patch, "application/json-patch+json", opts, &patched); err != nil {
		return nil, err
	}
	return &patched, nil
}

func (c *httpClient) PatchSubResource(ctx context.Context, ref definition.Reference, namespace, name, subResource string, patch []byte, opts WriteOptions) (*meta.Object, error) {
	if name == "" || subResource == "" {
		return nil, fmt.Errorf("resource name and sub-resource are required")
	}

	var patched meta.Object
	if err := c.do(ctx, http.MethodPatch, resourcePath(ref, name, subResource), writeQuery(namespace, opts), patch, "application/json-patch+json", opts, &patched); err != nil {
		return nil, err
	}
	return &patched, nil
}

func (c *httpClient) DeleteResource(ctx context.Context, ref definition.Reference, namespace, name, resourceVersion string, opts WriteOptions) (*meta.Object, error) {
	if name == "" {
		return nil, fmt.Errorf("resource name is required")
	}

	query := writeQuery(namespace, opts)
	if resourceVersion != "" {
		query.Set("resourceVersion", resourceVersion)
	}
	var deleted meta.Object
	if err := c.do(ctx, http.MethodDelete, resourcePath(ref, name), query, nil, "", opts, &deleted); err != nil {
		return nil, err
	}
	return &deleted, nil
}

func (c *httpClient) WatchResources(ctx context.Context, ref definition.Reference, opts ListOptions) (<-chan watch.Event, error) {
	query := listQuery(opts)
	query.Set("watch", "true")

	req, err := c.newRequest(ctx, http.MethodGet, resourcePath(ref), query, nil, "", WriteOptions{})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}

	events := make(chan watch.Event)
	go c.readEvents(ctx, resp.Body, events)
	return events, nil
}

// readEvents decodes server-sent events named "event" into events
func (c *httpClient) readEvents(ctx context.Context, body io.ReadCloser, events chan<- watch.Event) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var name, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if name != "event" || data == "" {
				name, data = "", ""
				continue
			}
			var e watch.Event
			if err := json.Unmarshal([]byte(data), &e); err != nil {
				e = watch.NewError(problem.Newf(problem.WatchInterrupted, "failed to decode watch event: %v", err))
			}
			name, data = "", ""

			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
			if e.Type == watch.Error {
				return
			}
		}
	}
}

func (c *httpClient) CreateDefinition(ctx context.Context, document []byte) (*definition.ResourceDefinition, error) {
	var def definition.ResourceDefinition
	if err := c.do(ctx, http.MethodPost, "/api/v1/definitions", nil, document, "application/yaml", WriteOptions{}, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *httpClient) GetDefinition(ctx context.Context, group, plural string) (*definition.ResourceDefinition, error) {
	var def definition.ResourceDefinition
	if err := c.do(ctx, http.MethodGet, definitionPath(group, plural), nil, nil, "", WriteOptions{}, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *httpClient) ListDefinitions(ctx context.Context) ([]*definition.ResourceDefinition, error) {
	var list struct {
		Items []*definition.ResourceDefinition `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/definitions", nil, nil, "", WriteOptions{}, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *httpClient) DeleteDefinition(ctx context.Context, group, plural string) error {
	return c.do(ctx, http.MethodDelete, definitionPath(group, plural), nil, nil, "", WriteOptions{}, nil)
}

func resourcePath(ref definition.Reference, segments ...string) string {
	parts := []string{"/api/v1/resources", url.PathEscape(ref.Group), url.PathEscape(ref.Version), url.PathEscape(ref.Plural)}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	return path.Join(parts...)
}

func definitionPath(group, plural string) string {
	return path.Join("/api/v1/definitions", url.PathEscape(group), url.PathEscape(plural))
}

func namespaceQuery(namespace string) url.Values {
	query := url.Values{}
	if namespace != "" {
		query.Set("namespace", namespace)
	}
	return query
}

func writeQuery(namespace string, opts WriteOptions) url.Values {
	query := namespaceQuery(namespace)
	if opts.DryRun {
		query.Set("dryRun", strconv.FormatBool(true))
	}
	return query
}

func listQuery(opts ListOptions) url.Values {
	query := namespaceQuery(opts.Namespace)
	if !opts.LabelSelector.Empty() {
		query.Set("labelSelector", opts.LabelSelector.String())
	}
	if opts.ResourceVersion != "" {
		query.Set("resourceVersion", opts.ResourceVersion)
	}
	return query
}

func (c *httpClient) newRequest(ctx context.Context, method, urlPath string, query url.Values, body []byte, contentType string, opts WriteOptions) (*http.Request, error) {
	target := c.baseURL.ResolveReference(&url.URL{Path: urlPath, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	if opts.User != "" {
		req.Header.Set(userHeader, opts.User)
		if len(opts.Groups) > 0 {
			req.Header.Set(groupsHeader, strings.Join(opts.Groups, ","))
		}
	}
	return req, nil
}

// do sends the request and decodes a 2xx body into out when out is set
func (c *httpClient) do(ctx context.Context, method, urlPath string, query url.Values, body []byte, contentType string, opts WriteOptions, out any) error {
	req, err := c.newRequest(ctx, method, urlPath, query, body, contentType, opts)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

func (c *httpClient) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
	if err != nil {
		return &Error{
			StatusCode: resp.StatusCode,
			Body:       "failed to read error response",
		}
	}

	var p problem.Problem
	if err := json.Unmarshal(body, &p); err != nil || p.Type == "" {
		return &Error{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return &Error{
		StatusCode: resp.StatusCode,
		Problem:    &p,
		Body:       string(body),
	}
}
