// FILE: telegram.go
// Package main – Best-effort Telegram alert sink.
//
// Notify never blocks trading and never returns an error to the loop;
// delivery failures are logged locally. NotifyError throttles repeats of the
// same key (account:category:symbol) within the cooldown window so a flapping
// symbol cannot storm the channel — the first occurrence, and the first after
// the cooldown expires, always go out.

package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Notifier sends HTML-formatted messages to one Telegram chat.
type Notifier struct {
	botToken string
	chatID   string
	enabled  bool
	cooldown time.Duration
	client   *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time // injectable clock for tests
}

func NewNotifier(botToken, chatID string, enabled bool, cooldown time.Duration) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		enabled:  enabled && botToken != "" && chatID != "",
		cooldown: cooldown,
		client:   &http.Client{Timeout: 10 * time.Second},
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Notify sends message unconditionally (startup, fills, reports).
func (n *Notifier) Notify(message string) {
	if !n.enabled {
		return
	}
	if err := n.send(message); err != nil {
		log.Printf("telegram: %v", err)
	}
}

// NotifyError sends an error alert unless the same key fired within the
// cooldown window. Returns whether the message was (attempted to be) sent,
// which the tests assert on.
func (n *Notifier) NotifyError(key, message string) bool {
	n.mu.Lock()
	now := n.now()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return false
	}
	n.lastSent[key] = now
	n.mu.Unlock()

	mtxAlerts.Inc()
	n.Notify("⚠️ <b>ERROR</b>\n" + message)
	return true
}

func (n *Notifier) send(message string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	data := url.Values{}
	data.Set("chat_id", n.chatID)
	data.Set("text", message)
	data.Set("parse_mode", "HTML")
	data.Set("disable_web_page_preview", "true")

	resp, err := n.client.PostForm(apiURL, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram api %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
