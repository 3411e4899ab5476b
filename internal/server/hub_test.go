package server

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(httpURL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestWebsocketConnectAck(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts.URL)
	frame := readFrame(t, conn)
	if frame["type"] != "connected" {
		t.Fatalf("first frame type = %v, want connected", frame["type"])
	}
	if id, _ := frame["clientId"].(string); id == "" {
		t.Errorf("missing clientId in ack: %v", frame)
	}
}

func TestPublishToRoomTagsRoomID(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts.URL)
	readFrame(t, conn) // connected ack

	srv.publishToRoom(42, "round:ended", map[string]any{"roundId": 7})

	frame := readFrame(t, conn)
	if frame["type"] != "round:ended" {
		t.Fatalf("type = %v", frame["type"])
	}
	data, _ := frame["data"].(map[string]any)
	if data["roomId"] != float64(42) {
		t.Errorf("roomId = %v, want 42", data["roomId"])
	}
}

func TestClientFramesRebroadcast(t *testing.T) {
	_, ts := newTestServer(t)
	sender := dialWS(t, ts.URL)
	receiver := dialWS(t, ts.URL)
	readFrame(t, sender)
	readFrame(t, receiver)

	if err := sender.WriteJSON(map[string]any{"type": "cursor", "x": 3}); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, receiver)
	if frame["type"] != "cursor" || frame["x"] != float64(3) {
		t.Errorf("relayed frame = %v", frame)
	}
}

func TestConcurrentBroadcastsToOneConnection(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts.URL)
	readFrame(t, conn) // connected ack

	const publishers = 16
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			srv.publishToRoom(1, "scores:updated", map[string]any{"userId": n})
		}(i)
	}

	for i := 0; i < publishers; i++ {
		frame := readFrame(t, conn)
		if frame["type"] != "scores:updated" {
			t.Fatalf("frame %d type = %v", i, frame["type"])
		}
	}
	wg.Wait()
}

func TestHealthCountsClients(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts.URL)
	readFrame(t, conn)
	if got := srv.hub.ClientCount(); got != 1 {
		t.Errorf("client count = %d, want 1", got)
	}
	conn.Close()
}
