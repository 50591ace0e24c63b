package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/davecgh/go-spew/spew"
	"github.com/tidwall/gjson"

	"github.com/sinalbot/signals/shared"
)

// credentials is the login payload of the provider's auth endpoint.
type credentials struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// login exchanges the configured credentials for a session id.
func (c *Client) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(credentials{Identifier: c.cfg.Email, Password: c.cfg.Password})
	if err != nil {
		return "", fmt.Errorf("encoding credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending login request: %w", err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading login response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned status %d: %w", resp.StatusCode, shared.ErrAuthenticationFailed)
	}

	ssid := gjson.GetBytes(body, "ssid").String()
	if ssid == "" {
		c.cfg.Logger.Debug().Msgf("login response without ssid: %s", spew.Sdump(string(body)))
		return "", fmt.Errorf("login response has no ssid: %w", shared.ErrAuthenticationFailed)
	}

	return ssid, nil
}
