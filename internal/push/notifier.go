// Package push delivers web push notifications to recipients who have no
// live connection. Subscriptions come from the browser and live in Postgres.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/akchat/internal/logger"
	"github.com/akchat/internal/repository"
)

const sendTimeout = 10 * time.Second

type Notifier struct {
	repo *repository.PushRepository
	keys *VAPIDKeys
	sub  string // VAPID subject, mailto: or https: origin
}

func NewNotifier(repo *repository.PushRepository, keys *VAPIDKeys, subject string) *Notifier {
	if subject == "" {
		subject = "https://localhost"
	}
	return &Notifier{repo: repo, keys: keys, sub: subject}
}

// notification is the payload the service worker renders.
type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends the notification to every subscription the user has. Dead
// endpoints (404/410) are pruned; other failures are logged and skipped so
// one bad endpoint never blocks the rest.
func (n *Notifier) Notify(ctx context.Context, username, title, body string, data map[string]string) {
	subs, err := n.repo.ByUsername(ctx, username)
	if err != nil {
		logger.Errorf("push: load subscriptions user=%s: %v", username, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: marshal payload user=%s: %v", username, err)
		return
	}

	for _, sub := range subs {
		s := &webpush.Subscription{Endpoint: sub.Endpoint}
		s.Keys.P256dh = sub.P256dh
		s.Keys.Auth = sub.Auth

		resp, err := webpush.SendNotificationWithContext(ctx, payload, s, &webpush.Options{
			Subscriber:      n.sub,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             3600,
		})
		if err != nil {
			logger.Errorf("push: send user=%s endpoint=%s: %v", username, sub.Endpoint, err)
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()
		if status == http.StatusNotFound || status == http.StatusGone {
			// Browser dropped the subscription; forget it.
			if err := n.repo.Delete(ctx, username, sub.Endpoint); err != nil {
				logger.Errorf("push: prune endpoint user=%s: %v", username, err)
			}
			continue
		}
		if status >= 400 {
			logger.Errorf("push: send user=%s status=%d", username, status)
		}
	}
}
