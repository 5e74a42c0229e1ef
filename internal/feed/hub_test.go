package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcboost/stimulus-engine/internal/model"
)

// dial connects a test client to a running hub over a real socket.
func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The upgrade response lands before the hub processes the
	// registration; wait for it so no broadcast is dropped.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n > 0 {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := dial(t, h)

	h.DealUpdated(&model.Deal{DealID: "d1", Status: model.StatusAdmitted})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "deal_updated" || ev.Deal == nil || ev.Deal.DealID != "d1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.TS.IsZero() {
		t.Error("event missing timestamp")
	}
}

func TestHub_PingsInterleaveWithBroadcasts(t *testing.T) {
	h := NewHub()
	h.pingEvery = 5 * time.Millisecond
	go h.Run()

	conn := dial(t, h)

	// Flood events while pings fire on the same connection. Both write
	// paths run on the hub goroutine, so the client sees a clean stream.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			h.TransactionRecorded(&model.TransactionEvent{TxID: "tx"})
			time.Sleep(time.Millisecond)
		}
	}()

	read := 0
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for read < 50 {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %d events: %v", read, err)
		}
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("corrupt frame after %d events: %v", read, err)
		}
		read++
	}
	<-done
}
