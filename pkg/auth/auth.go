package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client talks to the Blackbird Sport account endpoints.
type Client struct {
	BaseURL      string
	UserAgent    string
	AppVersion   string
	ClientType   string
	ClientDetail string
	IMEI         string
	ChannelID    string

	HTTP *http.Client
}

// NewClient builds an account client with the default request timeout.
func NewClient(baseURL, userAgent, appVersion, clientType, clientDetail, imei, channelID string) *Client {
	return &Client{
		BaseURL:      baseURL,
		UserAgent:    userAgent,
		AppVersion:   appVersion,
		ClientType:   clientType,
		ClientDetail: clientDetail,
		IMEI:         imei,
		ChannelID:    channelID,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
	}
}

type apiStatus struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func (c *Client) get(path string, params url.Values, cookies map[string]string, out any) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request to %s failed: status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("bad response from %s: %w", path, err)
	}
	return resp, nil
}

func timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// SetClient registers the client with the server and retrieves a session
// token.
func (c *Client) SetClient() (string, error) {
	params := url.Values{
		"version":   {c.AppVersion},
		"type":      {c.ClientType},
		"detail":    {c.ClientDetail},
		"code":      {""},
		"imei":      {c.IMEI},
		"timeStamp": {timestamp()},
		"channelId": {c.ChannelID},
	}

	var out struct {
		apiStatus
		Token struct {
			Token string `json:"token"`
		} `json:"token"`
	}
	if _, err := c.get("/bk_setClient", params, nil, &out); err != nil {
		return "", err
	}
	if out.Status != "ok" {
		return "", fmt.Errorf("setClient failed: %s", out.Msg)
	}
	if out.Token.Token == "" {
		return "", fmt.Errorf("no token found in setClient response")
	}
	log.Info("Successfully retrieved session token")
	return out.Token.Token, nil
}

// Authenticate logs in. When ton is empty, a token is retrieved first via
// SetClient. Returns the session cookies, the account id and the token
// used.
func (c *Client) Authenticate(ton, userID, password string) (map[string]string, string, string, error) {
	if ton == "" {
		var err error
		if ton, err = c.SetClient(); err != nil {
			return nil, "", "", err
		}
	}

	params := url.Values{
		"ton":       {ton},
		"userId":    {userID},
		"password":  {password},
		"timeStamp": {timestamp()},
	}

	var out struct {
		apiStatus
		User struct {
			AccountID json.Number `json:"accountId"`
		} `json:"user"`
	}
	resp, err := c.get("/bk_login", params, nil, &out)
	if err != nil {
		return nil, "", "", err
	}
	if out.Status != "ok" {
		return nil, "", "", fmt.Errorf("login failed: %s", out.Msg)
	}

	cookies := make(map[string]string)
	for _, cookie := range resp.Cookies() {
		cookies[cookie.Name] = cookie.Value
	}

	accountID := out.User.AccountID.String()
	log.Infof("Authentication successful for accountId: %s", accountID)
	return cookies, accountID, ton, nil
}

// GetUserInfo retrieves the profile of the given account using the cached
// session cookies.
func (c *Client) GetUserInfo(ton, friendID string, cookies map[string]string) (map[string]any, error) {
	params := url.Values{
		"ton":      {ton},
		"friendId": {friendID},
	}
	var out map[string]any
	if _, err := c.get("/bk_getUserInfo", params, cookies, &out); err != nil {
		return nil, err
	}
	return out, nil
}
