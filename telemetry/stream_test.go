package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamBroadcastsWindows(t *testing.T) {
	stream := NewStream(nil)
	defer stream.Close()

	srv := httptest.NewServer(stream)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return stream.Clients() == 1 })

	stream.Publish(WindowStats{
		WindowEnd: 40,
		Live:      3,
		Species:   []SpeciesCount{{Species: "A", Count: 3}},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got WindowStats
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.WindowEnd != 40 || got.Live != 3 || got.Count("A") != 3 {
		t.Errorf("received %+v", got)
	}
}

func TestStreamDropsDisconnectedClients(t *testing.T) {
	stream := NewStream(nil)
	defer stream.Close()

	srv := httptest.NewServer(stream)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, func() bool { return stream.Clients() == 1 })

	conn.Close()
	waitFor(t, func() bool { return stream.Clients() == 0 })
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	stream := NewStream(nil)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// Publishing after close must not block.
	stream.Publish(WindowStats{WindowEnd: 1})
}
