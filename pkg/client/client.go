// Package client provides an HTTP client for the warden management API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client communicates with a running warden daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a warden API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks whether the daemon answers on its API.
func (c *Client) IsReachable(ctx context.Context) bool {
	var out []ServerStatus
	return c.getJSON(ctx, c.baseURL+"/servers", &out) == nil
}

// Statuses returns supervision status for all servers.
func (c *Client) Statuses(ctx context.Context) ([]ServerStatus, error) {
	var out []ServerStatus
	if err := c.getJSON(ctx, c.baseURL+"/servers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns supervision status for one server.
func (c *Client) Status(ctx context.Context, name string) (ServerStatus, error) {
	var out ServerStatus
	err := c.getJSON(ctx, c.serverURL(name, ""), &out)
	return out, err
}

// Start launches a server session.
func (c *Client) Start(ctx context.Context, name string) (SessionInfo, error) {
	var out SessionInfo
	err := c.postJSON(ctx, c.serverURL(name, "start"), nil, &out)
	return out, err
}

// Stop gracefully stops a server, waiting up to wait before escalation.
func (c *Client) Stop(ctx context.Context, name string, wait time.Duration) error {
	u := c.serverURL(name, "stop")
	if wait > 0 {
		u += "?wait=" + url.QueryEscape(wait.String())
	}
	return c.postJSON(ctx, u, nil, nil)
}

// Kill force-kills a server session.
func (c *Client) Kill(ctx context.Context, name string) error {
	return c.postJSON(ctx, c.serverURL(name, "kill"), nil, nil)
}

// Send delivers one console command line to a running server.
func (c *Client) Send(ctx context.Context, name, command string) error {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return err
	}
	return c.postJSON(ctx, c.serverURL(name, "send"), body, nil)
}

// Crashes lists recorded crash events for a server, newest first.
func (c *Client) Crashes(ctx context.Context, name string, limit int) ([]CrashEvent, error) {
	u := c.serverURL(name, "crashes")
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var out []CrashEvent
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearCrashes deletes the recorded crash events for a server.
func (c *Client) ClearCrashes(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.serverURL(name, "crashes"), nil, nil)
}

// Backup enqueues a backup job and returns its id.
func (c *Client) Backup(ctx context.Context, name string) (string, error) {
	var out jobStartedResponse
	if err := c.postJSON(ctx, c.serverURL(name, "backup"), nil, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// Jobs lists active jobs; with all set, every known job.
func (c *Client) Jobs(ctx context.Context, all bool) ([]JobSnapshot, error) {
	u := c.baseURL + "/jobs"
	if all {
		u += "?all=1"
	}
	var out []JobSnapshot
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Job returns one job snapshot.
func (c *Client) Job(ctx context.Context, id string) (JobSnapshot, error) {
	var out JobSnapshot
	err := c.getJSON(ctx, c.baseURL+"/jobs/"+url.PathEscape(id), &out)
	return out, err
}

func (c *Client) serverURL(name, op string) string {
	u := c.baseURL + "/servers/" + url.PathEscape(name)
	if op != "" {
		u += "/" + op
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte, out any) error {
	return c.do(ctx, http.MethodPost, url, body, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{} // #nosec G402
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			caCert, err := os.ReadFile(config.TLS.CACert)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to parse CA certificate")
			}
			tlsConfig.RootCAs = pool
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}
