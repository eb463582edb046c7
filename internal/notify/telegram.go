package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/utils"
)

// TelegramNotifier posts episode summaries to a Telegram chat through the
// Bot API. Delivery is best-effort; callers decide what a failure means.
type TelegramNotifier struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

func NewTelegramNotifier(baseURL, token, chatID string, timeout time.Duration) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, episode *models.RecoveryEpisode) error {
	payload := map[string]any{
		"chat_id": n.chatID,
		"text":    summary(episode),
	}

	var response struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}

	if err := n.postJSON(ctx, n.sendMessageURL(), payload, &response); err != nil {
		return utils.NewAppError("notify", utils.FailNotification,
			fmt.Sprintf("telegram delivery for %s", episode.Target), err)
	}
	if !response.OK {
		return utils.NewAppError("notify", utils.FailNotification,
			fmt.Sprintf("telegram rejected message: %s", firstNonEmpty(response.Description, "no description")), nil)
	}
	return nil
}

func (n *TelegramNotifier) sendMessageURL() string {
	return n.resolvePath("bot" + n.token + "/sendMessage")
}

func (n *TelegramNotifier) resolvePath(p string) string {
	if n.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return n.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (n *TelegramNotifier) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
