package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crypto-alerts/internal/model"
)

func notifyTrigger() *model.TriggeredAlert {
	return &model.TriggeredAlert{
		TriggerID:       "t1",
		AlertID:         "a1",
		Symbol:          "BTCUSDT",
		Price:           50100,
		BasePriceUsed:   50000,
		BasePriceSource: model.BaseSourceCandleOpen,
		PctChange:       0.2,
	}
}

func TestMessage(t *testing.T) {
	ev := notifyTrigger()
	alert := &model.Alert{ID: "a1", Comment: "breakout watch"}

	got := message(ev, alert)
	for _, want := range []string{"BTCUSDT", "↑", "50100.0000", "+0.20%", "candle_open", "breakout watch"} {
		if !strings.Contains(got, want) {
			t.Errorf("message %q missing %q", got, want)
		}
	}

	ev.PctChange = -0.99
	got = message(ev, &model.Alert{ID: "a1"})
	if !strings.Contains(got, "↓") || !strings.Contains(got, "-0.99%") {
		t.Errorf("down message %q", got)
	}
	if strings.Contains(got, "|") {
		t.Errorf("comment separator without comment: %q", got)
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier()
	if n.Name() != "log" {
		t.Errorf("name %q", n.Name())
	}
	if !n.Applies(&model.Alert{}) {
		t.Error("log notifier should always apply")
	}
	if err := n.Send(context.Background(), notifyTrigger(), &model.Alert{ID: "a1"}); err != nil {
		t.Errorf("send: %v", err)
	}
}

func TestChatNotifier(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	defer srv.Close()

	n := NewChatNotifier("TOKEN", srv.URL)
	if n.Name() != "chat" {
		t.Errorf("name %q", n.Name())
	}
	if n.Applies(&model.Alert{}) {
		t.Error("chat notifier should not apply without a chat target")
	}

	alert := &model.Alert{ID: "a1", ChatTarget: "12345"}
	if !n.Applies(alert) {
		t.Error("chat notifier should apply with token and target")
	}

	if err := n.Send(context.Background(), notifyTrigger(), alert); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path %q", gotPath)
	}
	if gotBody["chat_id"] != "12345" {
		t.Errorf("chat_id %v", gotBody["chat_id"])
	}
	if text, _ := gotBody["text"].(string); !strings.Contains(text, "BTCUSDT") {
		t.Errorf("text %q", text)
	}
}

func TestChatNotifier_NoTokenNeverApplies(t *testing.T) {
	n := NewChatNotifier("", "")
	if n.Applies(&model.Alert{ChatTarget: "12345"}) {
		t.Error("chat notifier without token should not apply")
	}
}

func TestChatNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewChatNotifier("TOKEN", srv.URL)
	err := n.Send(context.Background(), notifyTrigger(), &model.Alert{ID: "a1", ChatTarget: "12345"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if n.Name() != "webhook" {
		t.Errorf("name %q", n.Name())
	}
	if !n.Applies(&model.Alert{}) {
		t.Error("configured webhook should apply to every alert")
	}

	if err := n.Send(context.Background(), notifyTrigger(), &model.Alert{ID: "a1"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var ev model.TriggeredAlert
	if err := json.Unmarshal(gotBody, &ev); err != nil {
		t.Fatalf("payload not a trigger event: %v", err)
	}
	if ev.TriggerID != "t1" {
		t.Errorf("trigger id %q", ev.TriggerID)
	}
}

func TestWebhookNotifier_Unconfigured(t *testing.T) {
	n := NewWebhookNotifier("")
	if n.Applies(&model.Alert{}) {
		t.Error("unconfigured webhook should not apply")
	}
}
