package homeconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultAPIURL is the production Home Connect endpoint
const DefaultAPIURL = "https://api.home-connect.com"

const contentType = "application/vnd.bsh.sdk.v1+json"

// Credentials configures OAuth for the cloud API
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Client talks to the Home Connect REST API. It implements Commander.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client authenticated with a refresh-token source
func NewClient(ctx context.Context, baseURL string, creds Credentials, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{"IdentifyAppliance", "Monitor", "Control", "Settings"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  baseURL + "/security/oauth/authorize",
			TokenURL: baseURL + "/security/oauth/token",
		},
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})

	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = 30 * time.Second

	return NewClientWithHTTP(baseURL, httpClient, logger)
}

// NewClientWithHTTP creates a client around an already authenticated http.Client
func NewClientWithHTTP(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.Named("client"),
	}
}

type apiError struct {
	Error struct {
		Key         string `json:"key"`
		Description string `json:"description"`
	} `json:"error"`
}

type apiOption struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Value        any    `json:"value"`
	DisplayValue string `json:"displayvalue"`
	Unit         string `json:"unit"`
	Constraints  *struct {
		AllowedValues []string `json:"allowedvalues"`
	} `json:"constraints"`
}

func (o apiOption) toOption() *Option {
	opt := &Option{
		Key:          o.Key,
		Name:         o.Name,
		Value:        o.Value,
		DisplayValue: o.DisplayValue,
		Unit:         o.Unit,
	}
	if o.Constraints != nil && len(o.Constraints.AllowedValues) > 0 {
		opt.AllowedValues = append([]string(nil), o.Constraints.AllowedValues...)
	}
	return opt
}

type apiProgram struct {
	Key     string      `json:"key"`
	Name    string      `json:"name"`
	Options []apiOption `json:"options"`
}

func (p apiProgram) toProgram() *Program {
	prog := &Program{Key: p.Key, Name: p.Name, Options: make(map[string]*Option, len(p.Options))}
	for _, o := range p.Options {
		prog.Options[o.Key] = o.toOption()
	}
	return prog
}

// do performs a request against the API. A non-2xx response becomes *Error.
// out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", contentType)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		hcErr := &Error{Code: strconv.Itoa(resp.StatusCode)}
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil {
			hcErr.Key = apiErr.Error.Key
			hcErr.Description = apiErr.Error.Description
		}
		c.logger.Debug("API request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("code", hcErr.Code),
			zap.String("key", hcErr.Key))
		return hcErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func appliancePath(haID string, parts ...string) string {
	p := "/api/homeappliances/" + url.PathEscape(haID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListAppliances returns the appliances paired with the account
func (c *Client) ListAppliances(ctx context.Context) ([]Description, error) {
	var resp struct {
		Data struct {
			HomeAppliances []Description `json:"homeappliances"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/homeappliances", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.HomeAppliances, nil
}

// LoadSnapshot reads the full catalog of one appliance. Disconnected appliances
// only get an empty catalog; the API rejects most calls for them anyway.
func (c *Client) LoadSnapshot(ctx context.Context, desc Description) (*Snapshot, error) {
	snap := &Snapshot{
		Connected:         desc.Connected,
		AvailablePrograms: make(map[string]*Program),
		Settings:          make(map[string]*Option),
		Status:            make(map[string]any),
	}
	if !desc.Connected {
		return snap, nil
	}

	if err := c.loadStatus(ctx, desc.HaID, snap); err != nil {
		return nil, err
	}
	if err := c.loadSettings(ctx, desc.HaID, snap); err != nil {
		return nil, err
	}
	if err := c.loadPrograms(ctx, desc.HaID, snap); err != nil {
		return nil, err
	}

	selected, err := c.loadProgram(ctx, desc.HaID, "selected")
	if err != nil {
		return nil, err
	}
	snap.SelectedProgram = selected

	active, err := c.loadProgram(ctx, desc.HaID, "active")
	if err != nil {
		return nil, err
	}
	snap.ActiveProgram = active

	return snap, nil
}

func (c *Client) loadStatus(ctx context.Context, haID string, snap *Snapshot) error {
	var resp struct {
		Data struct {
			Status []apiOption `json:"status"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, appliancePath(haID, "status"), nil, &resp); err != nil {
		return fmt.Errorf("failed to load status of %s: %w", haID, err)
	}
	for _, s := range resp.Data.Status {
		snap.Status[s.Key] = s.Value
	}
	return nil
}

func (c *Client) loadSettings(ctx context.Context, haID string, snap *Snapshot) error {
	var resp struct {
		Data struct {
			Settings []apiOption `json:"settings"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, appliancePath(haID, "settings"), nil, &resp); err != nil {
		return fmt.Errorf("failed to load settings of %s: %w", haID, err)
	}

	for _, s := range resp.Data.Settings {
		var detail struct {
			Data apiOption `json:"data"`
		}
		if err := c.do(ctx, http.MethodGet, appliancePath(haID, "settings", s.Key), nil, &detail); err != nil {
			c.logger.Warn("Failed to load setting constraints",
				zap.String("ha_id", haID),
				zap.String("key", s.Key),
				zap.Error(err))
			snap.Settings[s.Key] = s.toOption()
			continue
		}
		if detail.Data.Key == "" {
			detail.Data.Key = s.Key
		}
		snap.Settings[s.Key] = detail.Data.toOption()
	}
	return nil
}

func (c *Client) loadPrograms(ctx context.Context, haID string, snap *Snapshot) error {
	var resp struct {
		Data struct {
			Programs []apiProgram `json:"programs"`
		} `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, appliancePath(haID, "programs", "available"), nil, &resp)
	if isStateConflict(err) {
		// appliances without remote start or in a busy state report no programs
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load programs of %s: %w", haID, err)
	}

	for _, p := range resp.Data.Programs {
		var detail struct {
			Data apiProgram `json:"data"`
		}
		if err := c.do(ctx, http.MethodGet, appliancePath(haID, "programs", "available", p.Key), nil, &detail); err != nil {
			c.logger.Warn("Failed to load program options",
				zap.String("ha_id", haID),
				zap.String("program", p.Key),
				zap.Error(err))
			snap.AvailablePrograms[p.Key] = p.toProgram()
			continue
		}
		if detail.Data.Key == "" {
			detail.Data.Key = p.Key
		}
		if detail.Data.Name == "" {
			detail.Data.Name = p.Name
		}
		snap.AvailablePrograms[p.Key] = detail.Data.toProgram()
	}
	return nil
}

// loadProgram reads the selected or active program; none is not an error
func (c *Client) loadProgram(ctx context.Context, haID, which string) (*Program, error) {
	var resp struct {
		Data apiProgram `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, appliancePath(haID, "programs", which), nil, &resp)
	if isNotFound(err) || isStateConflict(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s program of %s: %w", which, haID, err)
	}
	if resp.Data.Key == "" {
		return nil, nil
	}
	return resp.Data.toProgram(), nil
}

// SelectProgram selects a program without starting it
func (c *Client) SelectProgram(ctx context.Context, haID, key string) error {
	body := map[string]any{"data": map[string]any{"key": key, "options": []any{}}}
	return c.do(ctx, http.MethodPut, appliancePath(haID, "programs", "selected"), body, nil)
}

// SetOption changes an option of the selected program
func (c *Client) SetOption(ctx context.Context, haID, key string, value any) error {
	body := map[string]any{"data": map[string]any{"key": key, "value": value}}
	return c.do(ctx, http.MethodPut, appliancePath(haID, "programs", "selected", "options", key), body, nil)
}

// ApplySetting changes an appliance setting
func (c *Client) ApplySetting(ctx context.Context, haID, key string, value any) error {
	body := map[string]any{"data": map[string]any{"key": key, "value": value}}
	return c.do(ctx, http.MethodPut, appliancePath(haID, "settings", key), body, nil)
}

func isNotFound(err error) bool {
	var hcErr *Error
	return errors.As(err, &hcErr) && hcErr.Code == strconv.Itoa(http.StatusNotFound)
}

func isStateConflict(err error) bool {
	var hcErr *Error
	return errors.As(err, &hcErr) && hcErr.Code == strconv.Itoa(http.StatusConflict)
}

// IsRateLimited reports whether err is a 429 from the API
func IsRateLimited(err error) bool {
	var hcErr *Error
	return errors.As(err, &hcErr) && hcErr.Code == strconv.Itoa(http.StatusTooManyRequests)
}
