package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openrfx/sdrhal/sdr"
)

func rxSample(module uint8, packets uint64) Sample {
	return Sample{
		Module: module,
		Stats: sdr.StreamStats{
			Timestamp:   packets * 1024,
			Packets:     int64(packets),
			FIFOFilled:  0.25,
			DataRateBps: 4e6,
		},
	}
}

func TestHubHistoryBounded(t *testing.T) {
	h := NewHub(3)
	for i := uint64(1); i <= 5; i++ {
		h.Report(rxSample(0, i))
	}
	history := h.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Stats.Packets != 3 || history[2].Stats.Packets != 5 {
		t.Fatalf("history kept wrong window: first=%d last=%d",
			history[0].Stats.Packets, history[2].Stats.Packets)
	}
	if history[0].Timestamp.IsZero() {
		t.Fatal("sample timestamp not stamped")
	}
}

func TestHubSubscribeFanout(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Report(rxSample(1, 7))

	select {
	case s := <-ch:
		if s.Module != 1 || s.Stats.Packets != 7 {
			t.Fatalf("unexpected sample %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received sample")
	}
}

func TestHubSlowSubscriberDropsNotBlocks(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	bufCap := h.ConfigSnapshot().SubscriberCap
	done := make(chan struct{})
	go func() {
		for i := 0; i < bufCap+10; i++ {
			h.Report(rxSample(0, uint64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on full subscriber channel")
	}
	if got := len(ch); got != bufCap {
		t.Fatalf("subscriber buffered %d samples, want %d", got, bufCap)
	}
}

func TestHubStatusCallback(t *testing.T) {
	h := NewHub(10)
	cb := h.StatusCallback(2)
	if !cb(&sdr.StreamStats{Packets: 9, IsTx: true}, nil) {
		t.Fatal("callback should keep the stream running")
	}
	history := h.History()
	if len(history) != 1 || history[0].Module != 2 || !history[0].Stats.IsTx {
		t.Fatalf("callback sample not recorded: %+v", history)
	}
}

func TestMultiReporter(t *testing.T) {
	a, b := NewHub(5), NewHub(5)
	m := MultiReporter{a, nil, b}
	m.Report(rxSample(0, 1))
	if len(a.History()) != 1 || len(b.History()) != 1 {
		t.Fatal("sample not fanned out to all reporters")
	}
}

func TestHandleHistoryJSON(t *testing.T) {
	h := NewHub(5)
	h.Report(rxSample(3, 11))

	rec := httptest.NewRecorder()
	h.handleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var out []Sample
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(out) != 1 || out[0].Module != 3 || out[0].Stats.Packets != 11 {
		t.Fatalf("unexpected history payload %+v", out)
	}
}

func TestHandleSetConfig(t *testing.T) {
	h := NewHub(0)

	body := strings.NewReader(`{"historyLimit": 2}`)
	rec := httptest.NewRecorder()
	h.handleSetConfig(rec, httptest.NewRequest(http.MethodPost, "/api/config/update", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("set config status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := h.ConfigSnapshot().HistoryLimit; got != 2 {
		t.Fatalf("history limit = %d, want 2", got)
	}

	for i := uint64(0); i < 4; i++ {
		h.Report(rxSample(0, i))
	}
	if got := len(h.History()); got != 2 {
		t.Fatalf("history not trimmed to new limit: %d", got)
	}

	rec = httptest.NewRecorder()
	h.handleSetConfig(rec, httptest.NewRequest(http.MethodPost, "/api/config/update",
		strings.NewReader(`{"historyLimit": -1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid config accepted: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.handleSetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config/update", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on update gave %d", rec.Code)
	}
}
