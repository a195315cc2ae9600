// FILE: telegram_test.go

package main

import (
	"testing"
	"time"
)

func TestNotifyErrorThrottlesRepeats(t *testing.T) {
	n := NewNotifier("", "", false, 5*time.Minute)
	clock := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	if !n.NotifyError("acct:buy:BTC", "boom") {
		t.Fatal("first alert suppressed")
	}
	clock = clock.Add(time.Minute)
	if n.NotifyError("acct:buy:BTC", "boom again") {
		t.Error("repeat within cooldown not suppressed")
	}
	if !n.NotifyError("acct:buy:ETH", "different key") {
		t.Error("unrelated key throttled")
	}
	clock = clock.Add(5 * time.Minute)
	if !n.NotifyError("acct:buy:BTC", "boom later") {
		t.Error("alert suppressed after cooldown expired")
	}
}

func TestNotifierDisabledWithoutCredentials(t *testing.T) {
	n := NewNotifier("", "", true, time.Minute)
	if n.enabled {
		t.Error("notifier enabled without token and chat id")
	}
	// Must be safe to call; trading never depends on delivery.
	n.Notify("hello")
}
