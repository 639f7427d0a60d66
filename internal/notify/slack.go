// Package notify turns reconciliation outcomes into side effects, starting
// with Slack channel posts.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/inklingd/inkling/internal/dispatch"
	"github.com/inklingd/inkling/internal/reconcile"
	"github.com/inklingd/inkling/internal/store"
)

// SlackOptions configures the Slack handler.
type SlackOptions struct {
	BotToken string
	Channel  string
	// APIBase overrides the Slack endpoint, mainly for tests.
	APIBase string
}

// Slack returns a dispatch handler posting a summary of every committed
// update to a channel. Without a token and channel it returns nil, which
// the dispatcher ignores.
func Slack(opts SlackOptions, s *store.Store) dispatch.Handler {
	token := strings.TrimSpace(opts.BotToken)
	channel := strings.TrimSpace(opts.Channel)
	if token == "" || channel == "" {
		return nil
	}
	base := strings.TrimSpace(opts.APIBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	api := slack.New(token, slack.OptionAPIURL(base))

	return func(out reconcile.Outcome) {
		if out.Status != reconcile.StatusCommitted || len(out.PropositionIDs) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		text := summarize(ctx, s, out)
		if _, _, err := api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false)); err != nil {
			slog.Warn("Slack notify failed", "observer", out.Observer, "error", err)
		}
	}
}

// summarize renders one committed outcome as a Slack message.
func summarize(ctx context.Context, s *store.Store, out reconcile.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* committed %d proposition(s)", out.Observer, len(out.PropositionIDs))
	for _, id := range out.PropositionIDs {
		p, err := s.GetProposition(ctx, id)
		if err != nil {
			slog.Warn("Failed to load proposition for notify", "id", id, "error", err)
			continue
		}
		fmt.Fprintf(&b, "\n• v%d %s", p.Version, p.Text)
	}
	return b.String()
}
