package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"clipstream/internal/config"
)

type commandContext struct {
	serverFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// baseURL resolves the daemon address: the --server flag wins, then the
// configured listen address.
func (c *commandContext) baseURL() (string, error) {
	if c.serverFlag != nil {
		if base := strings.TrimSpace(*c.serverFlag); base != "" {
			return strings.TrimRight(base, "/"), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Paths.Listen, nil
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *commandContext) client() (*apiClient, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *apiClient) getJSON(path string, out any) error {
	resp, err := a.http.Get(a.base + path)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", a.base, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (a *apiClient) postJSON(path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	resp, err := a.http.Post(a.base+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", a.base, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon error: status %d", resp.StatusCode)
	}
	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
