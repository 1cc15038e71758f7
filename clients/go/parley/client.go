// Package parley provides a client for the Parley chat server.
package parley

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client is a Parley API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	UserID     string
	Username   string
	HTTPClient *http.Client
}

// Config holds saved client credentials.
type Config struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// NewClient creates a new Parley client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("PARLEY_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".parley")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads saved credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "credentials.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.Token = config.Token
	c.UserID = config.UserID
	c.Username = config.Username
	return nil
}

// SaveConfig saves credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{Token: c.Token, UserID: c.UserID, Username: c.Username}
	data, _ := json.MarshalIndent(config, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "credentials.json"), data, 0600)
}

// doRequest performs an HTTP request, attaching the bearer token when set.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("parley error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// UserInfo represents a user in API responses.
type UserInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Locked      bool   `json:"locked,omitempty"`
	Banned      bool   `json:"banned,omitempty"`
}

// AuthResponse is the response from register and login.
type AuthResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

// Register creates a new account and saves the returned credentials.
func (c *Client) Register(username, password, displayName string) (*AuthResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"username":     username,
		"password":     password,
		"display_name": displayName,
	})

	respBody, err := c.doRequest("POST", "/auth/register", body)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.Token = resp.Token
	c.UserID = resp.User.ID
	c.Username = resp.User.Username
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates and saves the returned credentials.
func (c *Client) Login(username, password string) (*AuthResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})

	respBody, err := c.doRequest("POST", "/auth/login", body)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.Token = resp.Token
	c.UserID = resp.User.ID
	c.Username = resp.User.Username
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message represents a chat message.
type Message struct {
	ID          int64  `json:"id"`
	Room        string `json:"room"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	CreatedAt   int64  `json:"created_at"`
	Retracted   bool   `json:"retracted,omitempty"`
}

// HistoryResponse is the response from the history endpoint.
type HistoryResponse struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// History retrieves room messages. Pass before > 0 to page backwards from
// that message ID.
func (c *Client) History(room string, limit int, before int64) (*HistoryResponse, error) {
	path := fmt.Sprintf("/rooms/%s/history?limit=%d", room, limit)
	if before > 0 {
		path += fmt.Sprintf("&before=%d", before)
	}

	respBody, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}

	var resp HistoryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the authenticated account's profile.
func (c *Client) Me() (*UserInfo, error) {
	respBody, err := c.doRequest("GET", "/me", nil)
	if err != nil {
		return nil, err
	}

	var resp UserInfo
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetUser gets a user's public profile.
func (c *Client) GetUser(id string) (*UserInfo, error) {
	respBody, err := c.doRequest("GET", "/users/"+id, nil)
	if err != nil {
		return nil, err
	}

	var resp UserInfo
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Connections int                    `json:"connections"`
	UsersOnline int                    `json:"users_online"`
	Checks      map[string]interface{} `json:"checks"`
	Timestamp   string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
