// Package rest implements provider.Source against a JSON/HTTP bridge that
// holds an authenticated vendor session.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/jkaberg/hass-byd-vehicle/internal/provider"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

var _ provider.Source = (*Client)(nil)

// Vendor envelope codes.
const (
	codeOK               = "0"
	codeNotSupported     = "1001"
	codeSessionExpired   = "1002"
	codeAuthFailed       = "1003"
	codePinWrong         = "5005"
	codePinLocked        = "5006"
	codeConcurrentAccess = "6024"
	codeRemoteFailed     = "6051"
)

// Config for a Client.
type Config struct {
	BaseURL     string
	Token       string
	CountryCode string
	Language    string
	Timeout     time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the bridge.
type Client struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	logger log.Logger

	mu       sync.Mutex
	sections map[string]*lastSections
}

// lastSections are the charging and HVAC sections last fetched for a VIN.
// They stand in for a section whose fetch is gated off.
type lastSections struct {
	charging *provider.Charging
	hvac     *provider.HVAC
}

// envelope is the bridge response wrapper.
type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   base,
		cfg:    cfg,
		http:     hc,
		logger:   log.WithName("rest"),
		sections: make(map[string]*lastSections),
	}, nil
}

func (c *Client) Vehicles(ctx context.Context) ([]provider.Vehicle, error) {
	var out []provider.Vehicle
	if err := c.do(ctx, http.MethodGet, "/vehicles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Telemetry fetches the realtime and energy sections and, when the vehicle
// state calls for it, the charging and HVAC sections. A section that is gated
// off is filled from the last one fetched. Realtime, auth and session failures
// fail the fetch; other section failures leave the section out.
func (c *Client) Telemetry(ctx context.Context, vin string) (*provider.Telemetry, error) {
	t := &provider.Telemetry{VIN: vin}
	logger := c.logger.WithValues("vin", log.VIN(vin))

	var rt realtimeDTO
	if err := c.do(ctx, http.MethodGet, vehiclePath(vin, "realtime"), nil, &rt); err != nil {
		return nil, err
	}
	t.Realtime = rt.toModel()
	t.RequestSerial = rt.RequestSerial
	t.ServerTime = fromUnix(rt.ServerTime)

	c.mu.Lock()
	last, ok := c.sections[vin]
	if !ok {
		last = &lastSections{}
		c.sections[vin] = last
	}
	prev := *last
	c.mu.Unlock()

	failures := make(map[string]string)
	section := func(name string, out any) (bool, error) {
		err := c.do(ctx, http.MethodGet, vehiclePath(vin, name), nil, out)
		if err == nil {
			return true, nil
		}
		if k := provider.KindOf(err); k == provider.KindAuth || k == provider.KindSessionExpired {
			return false, err
		}
		failures[name] = err.Error()
		return false, nil
	}

	var en energyDTO
	got, err := section("energy", &en)
	if err != nil {
		return nil, err
	}
	if got {
		t.Energy = en.toModel()
	}

	t.HVAC = prev.hvac
	if fetch, reason := shouldFetchHVAC(t.Realtime, prev.hvac); fetch {
		var hv hvacDTO
		got, err := section("hvac", &hv)
		if err != nil {
			return nil, err
		}
		if got {
			t.HVAC = hv.toModel()
		}
	} else {
		logger.Debug("HVAC fetch skipped", "reason", reason)
	}

	t.Charging = prev.charging
	if fetch, reason := shouldFetchCharging(t.Realtime, prev.charging); fetch {
		var ch chargingDTO
		got, err := section("charging", &ch)
		if err != nil {
			return nil, err
		}
		if got {
			t.Charging = ch.toModel()
		}
	} else {
		logger.Debug("Charging fetch skipped", "reason", reason)
	}

	c.mu.Lock()
	last.hvac, last.charging = t.HVAC, t.Charging
	c.mu.Unlock()

	if len(failures) > 0 {
		logger.Warn("Telemetry partial refresh", "endpointFailures", failures)
	}
	return t, nil
}

// shouldFetchHVAC fetches once to learn the HVAC state, then only while the
// vehicle is on.
func shouldFetchHVAC(rt *provider.Realtime, prev *provider.HVAC) (bool, string) {
	if prev == nil {
		return true, "initial"
	}
	if vehicleOn(rt.VehicleState) {
		return true, "vehicle_on"
	}
	return false, "vehicle_not_on"
}

// shouldFetchCharging fetches once to learn the charging state, then while
// the vehicle charges or is plugged in.
func shouldFetchCharging(rt *provider.Realtime, prev *provider.Charging) (bool, string) {
	switch {
	case prev == nil:
		return true, "initial"
	case rt.IsCharging:
		return true, "is_charging"
	case rt.ChargingState != "":
		if unplugged(rt.ChargingState) {
			return false, "not_plugged"
		}
		return true, "charging_state"
	case prev.Connected:
		return true, "connected"
	default:
		return false, "not_charging_or_not_plugged"
	}
}

func vehicleOn(state string) bool {
	switch strings.ToLower(state) {
	case "on", "driving":
		return true
	}
	return false
}

// unplugged reports the realtime charging states meaning no cable is
// connected. The bridge passes the vendor's -1 through.
func unplugged(state string) bool {
	switch strings.ToLower(state) {
	case "-1", "disconnected", "unplugged":
		return true
	}
	return false
}

func (c *Client) GPS(ctx context.Context, vin string) (*provider.GPS, error) {
	var g gpsDTO
	if err := c.do(ctx, http.MethodGet, vehiclePath(vin, "gps"), nil, &g); err != nil {
		return nil, err
	}
	return g.toModel(vin), nil
}

func (c *Client) Execute(ctx context.Context, vin string, cmd provider.Command) (*provider.RemoteResult, error) {
	var raw map[string]any
	body := cmd.Params
	if body == nil {
		body = map[string]any{}
	}
	if err := c.do(ctx, http.MethodPost, vehiclePath(vin, "commands/"+string(cmd.Name)), body, &raw); err != nil {
		return nil, err
	}
	return remoteResultFromRaw(cmd, raw), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	u := *c.base
	u.Path = c.base.Path + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return provider.Wrap(provider.KindAPI, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return provider.Wrap(provider.KindTransport, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.CountryCode != "" {
		req.Header.Set("X-Country-Code", c.cfg.CountryCode)
	}
	if c.cfg.Language != "" {
		req.Header.Set("Accept-Language", c.cfg.Language)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.Wrap(provider.KindTransport, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return provider.Wrap(provider.KindTransport, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.NewError(provider.KindRateLimited, path, "", "rate limited by bridge")
	case resp.StatusCode == http.StatusUnauthorized:
		return provider.NewError(provider.KindAuth, path, "", "bridge rejected credentials")
	case resp.StatusCode >= 500:
		return provider.NewError(provider.KindTransport, path, "", fmt.Sprintf("bridge returned HTTP %d", resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return provider.Wrap(provider.KindAPI, path, fmt.Errorf("decode envelope (HTTP %d): %w", resp.StatusCode, err))
	}
	if env.Code != codeOK {
		return classify(path, env)
	}
	if resp.StatusCode >= 400 {
		return provider.NewError(provider.KindAPI, path, "", fmt.Sprintf("bridge returned HTTP %d", resp.StatusCode))
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return provider.Wrap(provider.KindAPI, path, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

// classify maps a vendor code to the provider error taxonomy.
func classify(endpoint string, env envelope) error {
	msg := env.Message
	if msg == "" {
		msg = "vendor error"
	}
	kind := provider.KindAPI
	switch env.Code {
	case codeNotSupported:
		kind = provider.KindUnsupported
	case codeSessionExpired:
		kind = provider.KindSessionExpired
	case codeAuthFailed:
		kind = provider.KindAuth
	case codePinWrong, codePinLocked:
		kind = provider.KindPinLockout
	case codeConcurrentAccess:
		kind = provider.KindRateLimited
	case codeRemoteFailed:
		kind = provider.KindRemoteControl
	}
	return provider.NewError(kind, endpoint, env.Code, msg)
}

func vehiclePath(vin, section string) string {
	return "/vehicles/" + url.PathEscape(vin) + "/" + section
}
