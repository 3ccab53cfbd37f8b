package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/party-playlist-system/pkg/apperr"
)

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type Track struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	URI      string   `json:"uri"`
	Artists  []Artist `json:"artists"`
	Duration int      `json:"duration_ms"`
	Album    Album    `json:"album"`
}

type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	VolumePercent int    `json:"volume_percent"`
}

// PlaybackSnapshot is the provider's live player state. Item is nil when
// nothing is loaded on the device.
type PlaybackSnapshot struct {
	Item       *Track `json:"item"`
	IsPlaying  bool   `json:"is_playing"`
	ProgressMs int    `json:"progress_ms"`
	Device     Device `json:"device"`
}

type SearchResponse struct {
	Tracks struct {
		Items []Track `json:"items"`
	} `json:"tracks"`
}

type devicesResponse struct {
	Devices []Device `json:"devices"`
}

func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) GetAuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", c.clientID)
	params.Add("response_type", "code")
	params.Add("redirect_uri", c.redirectURI)
	params.Add("scope", "user-read-private streaming user-read-playback-state user-modify-playback-state")
	params.Add("state", state)

	return "https://accounts.spotify.com/authorize?" + params.Encode()
}

func (c *Client) ExchangeToken(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.doTokenRequest(ctx, data)
}

func (c *Client) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", "https://accounts.spotify.com/api/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Add("Authorization", "Basic "+auth)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spotify: token request failed with status %d: %w", resp.StatusCode, apperr.ErrUpstreamAuth)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, err
	}
	return &token, nil
}

// GetPlayback fetches the live player snapshot. Returns (nil, nil) when the
// provider reports no active playback (204).
func (c *Client) GetPlayback(ctx context.Context, accessToken string) (*PlaybackSnapshot, error) {
	resp, err := c.doPlayerRequest(ctx, accessToken, "GET", "https://api.spotify.com/v1/me/player", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get playback", resp.StatusCode)
	}

	var snapshot PlaybackSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (c *Client) GetDevices(ctx context.Context, accessToken string) ([]Device, error) {
	resp, err := c.doPlayerRequest(ctx, accessToken, "GET", "https://api.spotify.com/v1/me/player/devices", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get devices", resp.StatusCode)
	}

	var devicesResp devicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&devicesResp); err != nil {
		return nil, err
	}

	return devicesResp.Devices, nil
}

// PlayTrack starts playback of a track URI on the given device. A bare
// track ID is accepted and normalized to a spotify:track: URI.
func (c *Client) PlayTrack(ctx context.Context, accessToken, deviceID, trackURI string) error {
	if !strings.HasPrefix(trackURI, "spotify:") {
		trackURI = "spotify:track:" + trackURI
	}

	payload := map[string]interface{}{
		"uris": []string{trackURI},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	playURL := "https://api.spotify.com/v1/me/player/play"
	if deviceID != "" {
		playURL += "?device_id=" + url.QueryEscape(deviceID)
	}

	return c.doPlayerCommand(ctx, accessToken, "PUT", playURL, string(jsonData))
}

func (c *Client) Pause(ctx context.Context, accessToken string) error {
	return c.doPlayerCommand(ctx, accessToken, "PUT", "https://api.spotify.com/v1/me/player/pause", "")
}

func (c *Client) SkipNext(ctx context.Context, accessToken string) error {
	return c.doPlayerCommand(ctx, accessToken, "POST", "https://api.spotify.com/v1/me/player/next", "")
}

func (c *Client) SkipPrevious(ctx context.Context, accessToken string) error {
	return c.doPlayerCommand(ctx, accessToken, "POST", "https://api.spotify.com/v1/me/player/previous", "")
}

func (c *Client) Seek(ctx context.Context, accessToken string, positionMs int) error {
	seekURL := "https://api.spotify.com/v1/me/player/seek?position_ms=" + strconv.Itoa(positionMs)
	return c.doPlayerCommand(ctx, accessToken, "PUT", seekURL, "")
}

func (c *Client) SetVolume(ctx context.Context, accessToken string, volumePercent int) error {
	volumeURL := "https://api.spotify.com/v1/me/player/volume?volume_percent=" + strconv.Itoa(volumePercent)
	return c.doPlayerCommand(ctx, accessToken, "PUT", volumeURL, "")
}

func (c *Client) SearchTracks(ctx context.Context, accessToken, query string, limit int) ([]Track, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("type", "track")
	params.Add("limit", fmt.Sprintf("%d", limit))

	resp, err := c.doPlayerRequest(ctx, accessToken, "GET", "https://api.spotify.com/v1/search?"+params.Encode(), "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("search", resp.StatusCode)
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, err
	}

	return searchResp.Tracks.Items, nil
}

func (c *Client) doPlayerRequest(ctx context.Context, accessToken, method, reqURL, body string) (*http.Response, error) {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Add("Authorization", "Bearer "+accessToken)
	if body != "" {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUpstreamUnavailable, err)
	}

	return resp, nil
}

func (c *Client) doPlayerCommand(ctx context.Context, accessToken, method, reqURL, body string) error {
	resp, err := c.doPlayerRequest(ctx, accessToken, method, reqURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("player command", resp.StatusCode)
	}

	return nil
}

func statusError(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("spotify: %s failed with status %d: %w", op, status, apperr.ErrUpstreamAuth)
	case status >= 500:
		return fmt.Errorf("spotify: %s failed with status %d: %w", op, status, apperr.ErrUpstreamUnavailable)
	default:
		return fmt.Errorf("spotify: %s failed with status %d", op, status)
	}
}
