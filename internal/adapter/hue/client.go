// Package hue drives Philips Hue lights through the bridge's CLIP v2 API and
// maps donation events to light effects.
package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
	"github.com/sony/gobreaker"
)

const (
	DefaultGroupID = "1"
	defaultTimeout = 10 * time.Second

	breakerName             = "hue"
	breakerFailureThreshold = 3
	breakerOpenTimeout      = 30 * time.Second
)

type Config struct {
	BridgeIP    string
	AppKey      string
	GroupID     string
	InsecureTLS bool
	Timeout     time.Duration
}

// Client talks to one bridge. Every request goes through a circuit breaker
// so an unreachable bridge fails fast instead of stalling each effect step.
type Client struct {
	baseURL string
	appKey  string
	groupID string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type Light struct {
	ID   string
	Name string
}

// LightState is the subset of the CLIP v2 light resource this package writes.
type LightState struct {
	On        *OnState   `json:"on,omitempty"`
	Dimming   *Dimming   `json:"dimming,omitempty"`
	Color     *Color     `json:"color,omitempty"`
	EffectsV2 *EffectsV2 `json:"effects_v2,omitempty"`
}

type OnState struct {
	On bool `json:"on"`
}

type Dimming struct {
	Brightness float64 `json:"brightness"`
}

type Color struct {
	XY XY `json:"xy"`
}

type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type EffectsV2 struct {
	Action EffectAction `json:"action"`
}

type EffectAction struct {
	Effect string `json:"effect"`
}

func NewClient(cfg Config, breakerMetrics *metrics.CircuitBreakerMetrics) *Client {
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultGroupID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if breakerMetrics != nil {
				breakerMetrics.StateChanges.WithLabelValues(name, to.String()).Inc()
				breakerMetrics.State.WithLabelValues(name).Set(float64(to))
			}
		},
	}

	return &Client{
		baseURL: "https://" + cfg.BridgeIP,
		appKey:  cfg.AppKey,
		groupID: cfg.GroupID,
		http:    newHTTPClient(cfg.InsecureTLS, cfg.Timeout),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func newHTTPClient(insecure bool, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// The bridge serves a self-signed certificate.
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Lights lists every light known to the bridge.
func (c *Client) Lights(ctx context.Context) ([]Light, error) {
	var body struct {
		Data []struct {
			ID       string `json:"id"`
			Metadata struct {
				Name string `json:"name"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/clip/v2/resource/light", nil, &body); err != nil {
		return nil, fmt.Errorf("failed to list lights: %w", err)
	}

	lights := make([]Light, 0, len(body.Data))
	for _, item := range body.Data {
		if item.ID == "" {
			continue
		}
		lights = append(lights, Light{ID: item.ID, Name: item.Metadata.Name})
	}
	return lights, nil
}

func (c *Client) SetLight(ctx context.Context, id string, state LightState) error {
	if err := c.do(ctx, http.MethodPut, "/clip/v2/resource/light/"+id, state, nil); err != nil {
		return fmt.Errorf("failed to set light %s: %w", id, err)
	}
	return nil
}

// FlashGroup triggers the long "lselect" alert on the configured group. The
// alert only exists in the v1 API.
func (c *Client) FlashGroup(ctx context.Context) error {
	path := "/api/" + c.appKey + "/groups/" + c.groupID + "/action"
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"alert": "lselect"}, nil); err != nil {
		return fmt.Errorf("failed to flash group %s: %w", c.groupID, err)
	}
	return nil
}

func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("hue-application-key", c.appKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, describeErrors(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// describeErrors extracts the CLIP v2 error descriptions, falling back to the raw body.
func describeErrors(data []byte) string {
	var body struct {
		Errors []struct {
			Description string `json:"description"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Errors) == 0 {
		return strings.TrimSpace(string(data))
	}
	descs := make([]string, 0, len(body.Errors))
	for _, e := range body.Errors {
		descs = append(descs, e.Description)
	}
	return strings.Join(descs, "; ")
}
