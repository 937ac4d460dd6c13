// Package vlc drives a VLC instance through its HTTP remote control
// interface (vlc --extraintf http).
package vlc

import (
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
)

// DefaultTimeout bounds every HTTP request.
const DefaultTimeout = 5 * time.Second

// Config configures the VLC driver.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Driver implements player.Driver for VLC.
type Driver struct {
	baseURL  string
	http     *http.Client
	username string
	password string
}

// NewDriver creates a VLC HTTP RC driver.
func NewDriver(cfg Config) (*Driver, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("vlc: base_url required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Driver{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		username: cfg.Username,
		// VLC's HTTP interface only checks the password.
		password: cfg.Password,
	}, nil
}

func (d *Driver) Play(streamURL string, positionMS int64) error {
	if streamURL == "" {
		return errors.New("vlc: url required")
	}
	_ = d.command("pl_stop", nil)
	_ = d.command("pl_empty", nil)
	if err := d.command("in_play", url.Values{"input": {streamURL}}); err != nil {
		return err
	}
	if positionMS > 0 {
		return d.SeekTo(positionMS)
	}
	return nil
}

func (d *Driver) Pause() error {
	st, err := d.status()
	if err != nil {
		return err
	}
	// pl_pause toggles.
	if st.State != "playing" {
		return nil
	}
	return d.command("pl_pause", nil)
}

func (d *Driver) Resume() error {
	return d.command("pl_forceresume", nil)
}

func (d *Driver) Stop() error {
	return d.command("pl_stop", nil)
}

func (d *Driver) SeekTo(positionMS int64) error {
	seconds := max(positionMS, 0) / 1000
	return d.command("seek", url.Values{"val": {strconv.FormatInt(seconds, 10)}})
}

// SetVolume maps [0, 1] onto VLC's 0..256 scale.
func (d *Driver) SetVolume(volume float64) error {
	volume = max(0, min(volume, 1))
	level := int(volume*256 + 0.5)
	return d.command("volume", url.Values{"val": {strconv.Itoa(level)}})
}

// Position reports the playhead while VLC has media loaded.
func (d *Driver) Position() (int64, int64, bool) {
	st, err := d.status()
	if err != nil {
		return 0, 0, false
	}
	if st.State != "playing" && st.State != "paused" {
		return 0, 0, false
	}
	return st.Time * 1000, st.Length * 1000, true
}

type status struct {
	State  string `json:"state"`
	Time   int64  `json:"time"`
	Length int64  `json:"length"`
	Volume int    `json:"volume"`
}

func (d *Driver) status() (status, error) {
	payload, err := d.request(nil)
	if err != nil {
		return status{}, err
	}
	var st status
	if err := json.Unmarshal(payload, &st); err != nil {
		return status{}, fmt.Errorf("vlc: decode status: %w", err)
	}
	return st, nil
}

func (d *Driver) command(name string, values url.Values) error {
	if values == nil {
		values = url.Values{}
	}
	values.Set("command", name)
	_, err := d.request(values)
	return err
}

func (d *Driver) request(values url.Values) ([]byte, error) {
	endpoint := d.baseURL + "/requests/status.json"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if d.username != "" || d.password != "" {
		req.SetBasicAuth(d.username, d.password)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("vlc: %s", msg)
	}
	return body, nil
}
