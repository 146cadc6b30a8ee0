// Package api is the request/response client for the Orbital robot REST
// service: robot lists, maps, zones, and command dispatch. The streaming
// side lives in internal/stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// RequestError is a non-2xx response from the robot service.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed: %d %s", e.Status, e.Body)
}

// Client talks to the Orbital REST API with the user's Auth0 identity token.
type Client struct {
	hc     *http.Client
	host   string
	token  string
	logger *slog.Logger
}

// NewClient creates a robot API client.
func NewClient(hc *http.Client, host, token string, logger *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		hc:     hc,
		host:   strings.TrimRight(host, "/"),
		token:  token,
		logger: logger.With("component", "api"),
	}
}

// RegisterDevice registers the bridge as a companion device.
func (c *Client) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (*RegisterDeviceResponse, error) {
	var out RegisterDeviceResponse
	if err := c.do(ctx, http.MethodPost, "/mobile_devices", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserRobots lists the robots registered to the account.
func (c *Client) GetUserRobots(ctx context.Context) ([]Robot, error) {
	var out []Robot
	if err := c.do(ctx, http.MethodGet, "/users/me/robots", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCleaningModes returns the robot's feature set.
func (c *Client) GetCleaningModes(ctx context.Context, robotID string) (*CleaningModes, error) {
	var out CleaningModes
	if err := c.do(ctx, http.MethodGet, "/robots/"+robotID+"/features", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRobotMaps lists the robot's floor plans, promoted first.
func (c *Client) GetRobotMaps(ctx context.Context, robotID string) ([]RobotMap, error) {
	var out []RobotMap
	path := "/robots/" + robotID + "/floorplans?sort_by=promoted_at&sort_order=asc"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRecentCleaningMaps returns the persistent cleaning maps as raw objects.
func (c *Client) GetRecentCleaningMaps(ctx context.Context, robotID string) ([]map[string]any, error) {
	var out []map[string]any
	path := "/robots/" + robotID + "/cleaningmaps?cleaning_types[]=persistent"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetZonesByFloorPlan lists the cleaning zones of a floor plan.
func (c *Client) GetZonesByFloorPlan(ctx context.Context, floorplanUUID string) ([]CleaningTrack, error) {
	var out []CleaningTrack
	if err := c.do(ctx, http.MethodGet, "/maps/floorplans/"+floorplanUUID+"/tracks", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartCleaning starts a cleaning session. The cleaning/v2 endpoint insists
// on its own app metadata headers.
func (c *Client) StartCleaning(ctx context.Context, robotID string, req CleaningStartRequest) error {
	extra := map[string]string{
		"mobile-app-version":    "3.9.0",
		"mobile-app-build":      "37883",
		"mobile-app-os":         "android",
		"mobile-app-os-version": "11",
	}
	return c.do(ctx, http.MethodPost, "/robots/"+robotID+"/cleaning/v2", req, extra, nil)
}

// SendToBase sends the robot back to its base.
func (c *Client) SendToBase(ctx context.Context, serial string) error {
	return c.sendMessage(ctx, serial, "navigation.return_to_base", nil)
}

// PauseCleaning pauses the current run.
func (c *Client) PauseCleaning(ctx context.Context, serial string) error {
	return c.sendMessage(ctx, serial, "cleaning.pause", nil)
}

// ResumeClean resumes a paused run.
func (c *Client) ResumeClean(ctx context.Context, serial string) error {
	return c.sendMessage(ctx, serial, "cleaning.resume", nil)
}

// FindMe makes the robot play its locate sound.
func (c *Client) FindMe(ctx context.Context, serial string) error {
	return c.sendMessage(ctx, serial, "utilities.find_me", nil)
}

// ShowCleaning fetches the current cleaning session.
func (c *Client) ShowCleaning(ctx context.Context, serial string) (*CleaningShowResponse, error) {
	var out CleaningShowResponse
	if err := c.sendMessage(ctx, serial, "cleaning.show", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) sendMessage(ctx context.Context, serial, ability string, out any) error {
	payload := map[string]string{"ability": ability}
	return c.do(ctx, http.MethodPost, "/vendors/3/robots/"+serial+"/messages", payload, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, extraHeaders map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Auth0Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.neato.orbital-http.v1+json")
	req.Header.Set("User-Agent", "okhttp/4.12.0")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	c.logger.Debug("robot api request", "method", method, "path", path)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("robot api request failed", "method", method, "path", path, "status", resp.StatusCode)
		return &RequestError{Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
