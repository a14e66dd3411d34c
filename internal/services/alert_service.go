package services

import (
	"fmt"

	"github.com/containrrr/shoutrrr"
)

// ShoutrrrAlerter delivers security alerts to operator channels (Discord,
// Slack, Telegram, generic webhooks) through shoutrrr service URLs.
type ShoutrrrAlerter struct {
	urls []string
}

// NewShoutrrrAlerter builds an alerter for the configured URLs. Returns nil
// when no URLs are configured so callers can treat alerting as disabled.
func NewShoutrrrAlerter(urls []string) *ShoutrrrAlerter {
	if len(urls) == 0 {
		return nil
	}
	return &ShoutrrrAlerter{urls: urls}
}

// Alert sends the message to every configured channel. Failures are logged
// and otherwise ignored; alerting never blocks the security path.
func (a *ShoutrrrAlerter) Alert(title, message string) {
	if a == nil {
		return
	}
	body := fmt.Sprintf("%s\n%s", title, message)
	for _, url := range a.urls {
		if err := shoutrrr.Send(url, body); err != nil {
			logAlertFailure(err, url)
		}
	}
}
