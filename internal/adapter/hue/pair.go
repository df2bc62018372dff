package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// PairPollInterval is how often pairing is retried while waiting for the button.
	PairPollInterval = 2 * time.Second
	// PairTimeout bounds how long an operator has to press the button.
	PairTimeout = 30 * time.Second

	// errLinkButton is the bridge's "link button not pressed" error type.
	errLinkButton = 101
)

var ErrLinkButtonNotPressed = errors.New("link button not pressed")

type PairResult struct {
	AppKey    string
	ClientKey string
}

// Pair asks the bridge for a new application key. It returns
// ErrLinkButtonNotPressed until the bridge's link button has been pressed.
func Pair(ctx context.Context, bridgeIP, deviceType string, insecureTLS bool) (PairResult, error) {
	payload, err := json.Marshal(map[string]any{
		"devicetype":        deviceType,
		"generateclientkey": true,
	})
	if err != nil {
		return PairResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+bridgeIP+"/api", bytes.NewReader(payload))
	if err != nil {
		return PairResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := newHTTPClient(insecureTLS, defaultTimeout).Do(req)
	if err != nil {
		return PairResult{}, fmt.Errorf("contacting bridge: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var results []struct {
		Success *struct {
			Username  string `json:"username"`
			ClientKey string `json:"clientkey"`
		} `json:"success"`
		Error *struct {
			Type        int    `json:"type"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return PairResult{}, fmt.Errorf("decoding pairing response: %w", err)
	}
	if len(results) == 0 {
		return PairResult{}, errors.New("empty pairing response")
	}

	switch r := results[0]; {
	case r.Success != nil:
		return PairResult{AppKey: r.Success.Username, ClientKey: r.Success.ClientKey}, nil
	case r.Error != nil && r.Error.Type == errLinkButton:
		return PairResult{}, ErrLinkButtonNotPressed
	case r.Error != nil:
		return PairResult{}, fmt.Errorf("pairing failed: %s", r.Error.Description)
	default:
		return PairResult{}, errors.New("unexpected pairing response")
	}
}
