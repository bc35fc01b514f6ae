// File: internal/provisioner/client.go
// Description: Client for the external browser-profile provisioning service
// (MultiLoginX-style launcher API). The engine only consumes the request and
// response contract: sign in for a Bearer token, create a quick profile with
// a fingerprint and proxy, and stop the profile when the session ends.

package provisioner

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to the provisioning API. All failures wrap
// schemas.ErrProvisioning so the workflow can apply the provisioning retry
// budget before declaring them fatal.
type Client struct {
	cfg    config.ProvisionerConfig
	logger *zap.Logger
	http   *http.Client

	mu    sync.Mutex
	token string
}

// Compile-time check against the collaborator contract.
var _ schemas.Provisioner = (*Client)(nil)

// NewClient builds a provisioning client. The launcher endpoint serves a
// self-signed certificate on localhost, so verification is disabled for it,
// matching the vendor's own tooling.
func NewClient(cfg config.ProvisionerConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger.Named("provisioner"),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// signinResponse mirrors the provider's envelope: payload under "data",
// errors under "status".
type apiEnvelope struct {
	Status struct {
		Message string `json:"message"`
	} `json:"status"`
	Data jsoniter.RawMessage `json:"data"`
}

// Signin authenticates with an MD5-hashed password and caches the Bearer
// token for subsequent launcher calls.
func (c *Client) Signin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signinLocked(ctx)
}

func (c *Client) signinLocked(ctx context.Context) error {
	if c.token != "" {
		return nil
	}

	sum := md5.Sum([]byte(c.cfg.Password))
	payload := map[string]string{
		"email":    c.cfg.Email,
		"password": hex.EncodeToString(sum[:]),
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, c.cfg.APIURL+"/user/signin", "", payload, &data); err != nil {
		return fmt.Errorf("%w: signin: %v", schemas.ErrProvisioning, err)
	}
	if data.Token == "" {
		return fmt.Errorf("%w: signin returned no token", schemas.ErrProvisioning)
	}

	c.token = data.Token
	c.logger.Info("Provisioner signin successful.")
	return nil
}

// bearer returns the cached token, signing in first if necessary.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.signinLocked(ctx); err != nil {
		return "", err
	}
	return c.token, nil
}

// CreateProfile provisions and starts a quick browser profile whose
// fingerprint matches the presentation profile and whose traffic exits via
// the egress descriptor. The returned handle carries the DevTools endpoint
// the driver attaches to.
func (c *Client) CreateProfile(ctx context.Context, profile schemas.PresentationProfile, egress schemas.EgressDescriptor) (schemas.ProfileHandle, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return schemas.ProfileHandle{}, err
	}

	payload := c.quickProfilePayload(profile, egress)

	var data struct {
		ID   string `json:"id"`
		Port jsoniter.RawMessage `json:"port"`
	}
	url := strings.TrimSuffix(c.cfg.LauncherURL, "/") + "/api/v3/profile/quick"
	if err := c.do(ctx, http.MethodPost, url, token, payload, &data); err != nil {
		return schemas.ProfileHandle{}, fmt.Errorf("%w: create profile: %v", schemas.ErrProvisioning, err)
	}

	// The port arrives as a string or a number depending on provider version.
	port := strings.Trim(string(data.Port), `"`)
	if port == "" || port == "null" {
		return schemas.ProfileHandle{}, fmt.Errorf("%w: create profile returned no port", schemas.ErrProvisioning)
	}

	handle := schemas.ProfileHandle{
		ID:       data.ID,
		Endpoint: "http://127.0.0.1:" + port,
	}
	c.logger.Info("Browser profile provisioned.",
		zap.String("profile_id", handle.ID),
		zap.String("endpoint", handle.Endpoint),
	)
	return handle, nil
}

// quickProfilePayload builds the provider's quick-profile request. Masking
// flags default to provider-generated values; the fields the engine controls
// (localization, timezone, screen) are set to custom so the browser identity
// matches the phone's country.
func (c *Client) quickProfilePayload(profile schemas.PresentationProfile, egress schemas.EgressDescriptor) map[string]any {
	return map[string]any{
		"browser_type": c.cfg.BrowserType,
		"os_type":      c.cfg.OSType,
		"is_headless":  false,
		"automation":   "cdp",
		"parameters": map[string]any{
			"flags": map[string]any{
				"audio_masking":         "natural",
				"fonts_masking":         "mask",
				"geolocation_masking":   "mask",
				"geolocation_popup":     "prompt",
				"graphics_masking":      "mask",
				"graphics_noise":        "mask",
				"localization_masking":  "custom",
				"media_devices_masking": "natural",
				"navigator_masking":     "mask",
				"ports_masking":         "mask",
				"proxy_masking":         "custom",
				"screen_masking":        "custom",
				"timezone_masking":      "custom",
				"webrtc_masking":        "mask",
			},
			"fingerprint": map[string]any{
				"localization": map[string]any{
					"languages":        profile.Locale,
					"locale":           profile.Locale,
					"accept_languages": profile.AcceptLanguage,
				},
				"timezone": map[string]any{
					"zone": profile.Timezone,
				},
				"screen": map[string]any{
					"width":       profile.ViewportWidth,
					"height":      profile.ViewportHeight,
					"pixel_ratio": profile.DeviceScale,
				},
			},
			"storage": map[string]any{},
			"proxy": map[string]any{
				"type":     "http",
				"host":     egress.Host,
				"port":     egress.Port,
				"username": egress.Username,
				"password": egress.Password,
			},
		},
	}
}

// StopProfile tears down a provisioned profile. Idempotent: a profile that
// is already stopped (or was never fully started) reports success, because
// the provider returns an error for unknown profile IDs and the caller must
// still be able to converge on "stopped".
func (c *Client) StopProfile(ctx context.Context, profileID string) error {
	if profileID == "" {
		return nil
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/profile/stop?profile_id=%s",
		strings.TrimSuffix(c.cfg.LauncherURL, "/"), profileID)
	if err := c.do(ctx, http.MethodGet, url, token, nil, nil); err != nil {
		// The profile may already be gone; log and treat as stopped.
		c.logger.Warn("Stop profile reported an error; treating profile as stopped.",
			zap.String("profile_id", profileID), zap.Error(err))
		return nil
	}

	c.logger.Info("Browser profile stopped.", zap.String("profile_id", profileID))
	return nil
}

// do executes one API call and decodes the enveloped response into out.
func (c *Client) do(ctx context.Context, method, url, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		env.Status.Message = strings.TrimSpace(string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		msg := env.Status.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("api error (%d): %s", resp.StatusCode, msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
