package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crypto-alerts/internal/model"
)

func TestKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "1" {
			t.Errorf("query %v", q)
		}
		w.Write([]byte(`[[1705314720000,"50000.00","50150.00","49950.00","50100.00","123.456",1705314779999,"6171234.5",100,"60.0","3012345.6","0"]]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	candles, err := c.Klines(context.Background(), "BTCUSDT", model.Timeframe1Min, 1)
	if err != nil {
		t.Fatalf("klines: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles", len(candles))
	}

	k := candles[0]
	if k.Symbol != "BTCUSDT" || k.Timeframe != model.Timeframe1Min {
		t.Errorf("identity %s %s", k.Symbol, k.Timeframe)
	}
	if k.OpenTimeMs != 1705314720000 || k.CloseTimeMs != 1705314780000 {
		t.Errorf("times %d..%d (close must be exclusive)", k.OpenTimeMs, k.CloseTimeMs)
	}
	if k.Open != 50000 || k.High != 50150 || k.Low != 49950 || k.Close != 50100 || k.Volume != 123.456 {
		t.Errorf("ohlcv %+v", k)
	}
	if k.OpenTimeMs%model.Timeframe1Min.Millis() != 0 {
		t.Errorf("open time %d not aligned", k.OpenTimeMs)
	}
}

func TestKlines_ShortRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[[1705314720000,"50000.00"]]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if _, err := c.Klines(context.Background(), "BTCUSDT", model.Timeframe1Min, 1); err == nil {
		t.Fatal("expected error for short kline row")
	}
}

func TestCurrentKline_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if _, err := c.CurrentKline(context.Background(), "BTCUSDT", model.Timeframe1Min); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestTickerAndQuoteVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Errorf("path %q", r.URL.Path)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50100.00","priceChangePercent":"2.345","volume":"123.4","quoteVolume":"6171234.5"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	tk, err := c.Ticker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if tk.LastPrice != 50100 || tk.QuoteVolume != 6171234.5 {
		t.Errorf("ticker %+v", tk)
	}

	v, err := c.QuoteVolume24h(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("quote volume: %v", err)
	}
	if v != 6171234.5 {
		t.Errorf("quote volume %v", v)
	}
}

func TestGet_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Ticker(context.Background(), "NOPE")
	if err == nil {
		t.Fatal("expected status error")
	}
	if !strings.Contains(err.Error(), "418") || !strings.Contains(err.Error(), "Invalid symbol") {
		t.Errorf("error %v should carry status and body", err)
	}
}
