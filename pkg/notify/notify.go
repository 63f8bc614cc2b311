// Package notify adapts the Slack notification service to MAGI's
// session.Notifier interface, posting a consensus session's terminal
// result to a configured Slack channel. Grounded on the teacher's
// pkg/slack.Service (NotifySessionStarted/NotifySessionCompleted,
// nil-safe, fail-open), repurposed from alert-session summaries to
// consensus decisions.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/engine"
	"github.com/codeready-toolchain/magi/pkg/slack"
)

// SlackNotifier implements session.Notifier over a slack.Service. A nil
// *SlackNotifier is valid and every method is a no-op, mirroring the
// teacher's nil-safe Service so callers never need to branch on whether
// notification is configured.
type SlackNotifier struct {
	service *slack.Service
}

// New constructs a SlackNotifier backed by a Slack bot token and channel.
// Returns nil if either is empty, so the zero-config path (no notify.Config
// block) disables notification entirely without the caller checking first.
func New(token, channel, dashboardURL string) *SlackNotifier {
	svc := slack.NewService(slack.ServiceConfig{
		Token:        token,
		Channel:      channel,
		DashboardURL: dashboardURL,
	})
	if svc == nil {
		return nil
	}
	return &SlackNotifier{service: svc}
}

// NotifyResolved posts the final decision and per-persona votes to Slack.
func (n *SlackNotifier) NotifyResolved(ctx context.Context, sessionID string, result engine.FinalResult) {
	if n == nil {
		return
	}
	n.service.NotifySessionCompleted(ctx, slack.SessionCompletedInput{
		SessionID:        sessionID,
		Status:           "completed",
		ExecutiveSummary: summarize(result),
	})
}

// NotifyFailed posts a terminal failure (quorum loss, timeout, internal
// error) to Slack.
func (n *SlackNotifier) NotifyFailed(ctx context.Context, sessionID string, reason string) {
	if n == nil {
		return
	}
	n.service.NotifySessionCompleted(ctx, slack.SessionCompletedInput{
		SessionID:    sessionID,
		Status:       "failed",
		ErrorMessage: reason,
	})
}

// summarize renders a FinalResult as the Markdown body of a Slack message:
// the decision, then one line per persona vote, flagging partial results.
func summarize(result engine.FinalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Decision: %s*\n", result.Decision)
	for _, name := range config.AllPersonas() {
		vote, ok := result.Votes[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "• %s: %s — %s\n", name, vote.Vote, vote.Reason)
	}
	if result.PartialResults {
		fmt.Fprintf(&b, "\n_partial result — excluded: %v_", result.ExcludedPersonas)
	}
	return b.String()
}
