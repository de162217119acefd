package alerts

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/scalytics/cdcbridge/internal/destsink"
)

// SlackNotifier posts one message to a fixed channel per newly created
// alert. Built the way the bridge's own Slack client is: a bot-token
// client with a configurable API base, a bounded HTTP client, and a small
// exponential backoff over rate-limit responses. Other errors, 5xx
// responses included, are not retried.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier builds a SlackNotifier against apiBase (default
// "https://slack.com/api") posting to channel. token must be non-empty;
// callers typically only construct this when config carries a bot token.
func NewSlackNotifier(token, apiBase, channel string) *SlackNotifier {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://slack.com/api"
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	return &SlackNotifier{
		client:  slack.New(token, slack.OptionHTTPClient(httpClient), slack.OptionAPIURL(apiBase)),
		channel: channel,
	}
}

// Notify posts a one-line summary of the triggered config and its current
// metric value, making up to 3 attempts with exponential backoff while
// Slack answers with a rate-limit error.
func (n *SlackNotifier) Notify(ctx context.Context, cfg destsink.AlertConfig, value float64) error {
	text := fmt.Sprintf(":rotating_light: *%s* (%s severity) — %s.%s is %.2f, threshold %s %.2f",
		cfg.Name, cfg.Severity, cfg.MetricSource, cfg.MetricName, value, cfg.Operator, cfg.Threshold)

	return withRetry(3, 200*time.Millisecond, func() (bool, error) {
		_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
		return retryDecision(err)
	})
}

func retryDecision(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rateErr *slack.RateLimitedError
	if ok := asRateLimited(err, &rateErr); ok {
		return true, err
	}
	return false, err
}

func asRateLimited(err error, target **slack.RateLimitedError) bool {
	rl, ok := err.(*slack.RateLimitedError)
	if ok {
		*target = rl
	}
	return ok
}

func withRetry(attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return lastErr
}
