package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"remindline/internal/domain"
)

const DefaultAPIURL = "https://api.telegram.org"

// ErrConflict is returned by GetUpdates when another consumer is polling the
// same bot token.
var ErrConflict = errors.New("telegram: conflicting getUpdates consumer")

type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient builds a Bot API client. An empty baseURL selects the public API.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 70 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying http client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, name)
}

// GetUpdates long-polls for new messages starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	u, err := url.Parse(c.method("getUpdates"))
	if err != nil {
		return nil, domain.Transport("getUpdates", err)
	}
	q := u.Query()
	q.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	if offset > 0 {
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	q.Set("allowed_updates", `["message"]`)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.Transport("getUpdates", err)
	}
	var res apiResponse[[]Update]
	if err := c.do(req, &res); err != nil {
		return nil, domain.Transport("getUpdates", err)
	}
	return res.Result, nil
}

// SendMessage posts a Markdown message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return domain.Transport("sendMessage", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return domain.Transport("sendMessage", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var res apiResponse[Message]
	if err := c.do(req, &res); err != nil {
		return domain.Transport("sendMessage", err)
	}
	return nil
}

// SendDocument uploads content as a document named name.
func (c *Client) SendDocument(ctx context.Context, chatID int64, name string, content []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return domain.Transport("sendDocument", err)
	}
	part, err := w.CreateFormFile("document", name)
	if err != nil {
		return domain.Transport("sendDocument", err)
	}
	if _, err := part.Write(content); err != nil {
		return domain.Transport("sendDocument", err)
	}
	if err := w.Close(); err != nil {
		return domain.Transport("sendDocument", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendDocument"), &buf)
	if err != nil {
		return domain.Transport("sendDocument", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var res apiResponse[Message]
	if err := c.do(req, &res); err != nil {
		return domain.Transport("sendDocument", err)
	}
	return nil
}

type apiResponse[T any] struct {
	Ok          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

func (r apiResponse[T]) failure() (bool, string) {
	return !r.Ok, r.Description
}

type failer interface {
	failure() (bool, string)
}

func (c *Client) do(req *http.Request, out failer) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		io.Copy(io.Discard, resp.Body)
		return ErrConflict
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	if failed, desc := out.failure(); failed {
		return errors.New(desc)
	}
	return nil
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
}

type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName is the chat's first and last name, falling back to the
// username and then the numeric id.
func (c Chat) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		name = c.Username
	}
	if name == "" {
		name = strconv.FormatInt(c.ID, 10)
	}
	return name
}
