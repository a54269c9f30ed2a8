// Package integration contains end-to-end tests for the xat relay.
//
// These tests run a real HTTP server, upgrade real websocket connections,
// and verify the protocol behavior a client observes: join with history
// replay, live broadcast, system notices, and room isolation.
package integration

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/config"
	"github.com/xatrelay/xatrelay/internal/relay"
	"github.com/xatrelay/xatrelay/internal/server"
)

func startRelay(t *testing.T, customize func(cfg *config.Config)) (wsURL string, srv *server.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.AllowedOrigins = []string{"*"}
	// Generous limit so rapid test traffic is never throttled.
	cfg.RateLimit.Burst = 1000
	if customize != nil {
		customize(cfg)
	}

	registry := relay.NewRegistry(zerolog.Nop(), relay.Options{
		HistoryLimit: cfg.HistoryLimit,
		RoomIDLength: cfg.RoomIDLength,
	})
	srv = server.New(cfg, registry, zerolog.Nop())
	go srv.Hub().Run()

	testServer := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		testServer.Close()
		_ = srv.Hub().Shutdown(time.Second)
	})

	wsURL = "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
	return wsURL, srv
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	header := map[string][]string{"Origin": {"http://localhost"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", wsURL, err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("failed to send %q: %v", payload, err)
	}
}

func readBroadcast(t *testing.T, conn *websocket.Conn) relay.Message {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	var msg relay.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("failed to decode broadcast %q: %v", payload, err)
	}
	return msg
}

func expectNoBroadcast(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no broadcast, received %q", payload)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of broadcast: %v", err)
}

func join(t *testing.T, conn *websocket.Conn, roomID, sender string) {
	t.Helper()
	sendJSON(t, conn, fmt.Sprintf(`{"type":"join","roomId":%q,"sender":%q}`, roomID, sender))
}

func chat(t *testing.T, conn *websocket.Conn, roomID, sender, body string) {
	t.Helper()
	sendJSON(t, conn, fmt.Sprintf(`{"roomId":%q,"sender":%q,"message":%q}`, roomID, sender, body))
}

// TestJoinReplayAndLiveBroadcast walks the main protocol flow: a first
// client populates a room, a second client joins and receives the full
// history in order before any live message.
func TestJoinReplayAndLiveBroadcast(t *testing.T) {
	wsURL, _ := startRelay(t, nil)

	ann := dial(t, wsURL)
	join(t, ann, "ROOM", "Ann")

	notice := readBroadcast(t, ann)
	if notice.Sender != relay.SystemSender || !strings.Contains(notice.Body, "joined") {
		t.Fatalf("expected own join notice, got %+v", notice)
	}

	chat(t, ann, "ROOM", "Ann", "first")
	if msg := readBroadcast(t, ann); msg.Body != "first" {
		t.Fatalf("expected echo of own chat, got %+v", msg)
	}
	chat(t, ann, "ROOM", "Ann", "second")
	if msg := readBroadcast(t, ann); msg.Body != "second" {
		t.Fatalf("expected echo of own chat, got %+v", msg)
	}

	bob := dial(t, wsURL)
	join(t, bob, "ROOM", "Bob")

	wantBodies := []string{"joined", "first", "second", "joined"}
	for i, fragment := range wantBodies {
		msg := readBroadcast(t, bob)
		if !strings.Contains(msg.Body, fragment) {
			t.Fatalf("replay message %d = %q, want it to contain %q", i, msg.Body, fragment)
		}
	}

	chat(t, ann, "ROOM", "Ann", "live one")
	if msg := readBroadcast(t, bob); msg.Body != "live one" {
		t.Errorf("live message after replay = %q, want live one", msg.Body)
	}
}

// TestNoCrossRoomLeakage verifies a message for one room is never delivered
// to a connection subscribed to another.
func TestNoCrossRoomLeakage(t *testing.T) {
	wsURL, _ := startRelay(t, nil)

	ann := dial(t, wsURL)
	join(t, ann, "ALPHA", "Ann")
	readBroadcast(t, ann) // own join notice

	bob := dial(t, wsURL)
	join(t, bob, "BETA", "Bob")
	readBroadcast(t, bob) // own join notice

	chat(t, ann, "ALPHA", "Ann", "secret")
	readBroadcast(t, ann) // own echo

	expectNoBroadcast(t, bob, 300*time.Millisecond)
}

// TestEmptyMessageDropped verifies that blank chat frames neither broadcast
// nor grow the room history.
func TestEmptyMessageDropped(t *testing.T) {
	wsURL, srv := startRelay(t, nil)

	ann := dial(t, wsURL)
	join(t, ann, "ROOM", "Ann")
	readBroadcast(t, ann) // own join notice

	before := len(srv.Registry().GetRoom("ROOM").History())
	chat(t, ann, "ROOM", "Ann", "")
	chat(t, ann, "ROOM", "Ann", "   ")

	expectNoBroadcast(t, ann, 300*time.Millisecond)
	if after := len(srv.Registry().GetRoom("ROOM").History()); after != before {
		t.Errorf("blank frames changed store length: %d -> %d", before, after)
	}
}

// TestSanitizedBroadcast verifies markup sent by a client arrives neutralized
// at every subscriber.
func TestSanitizedBroadcast(t *testing.T) {
	wsURL, _ := startRelay(t, nil)

	ann := dial(t, wsURL)
	join(t, ann, "ROOM", "Ann")
	readBroadcast(t, ann)

	sendJSON(t, ann, `{"roomId":"ROOM","sender":"Ann","message":"<img src=x onerror=alert(1)>hi"}`)
	msg := readBroadcast(t, ann)
	if strings.Contains(msg.Body, "<img") || strings.Contains(msg.Body, "onerror") {
		t.Errorf("broadcast still contains live markup: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "hi") {
		t.Errorf("broadcast lost its text content: %q", msg.Body)
	}
}

// TestLeaveNotice verifies that an explicit leave announces the departure to
// remaining subscribers and stops delivery to the leaver.
func TestLeaveNotice(t *testing.T) {
	wsURL, _ := startRelay(t, nil)

	ann := dial(t, wsURL)
	join(t, ann, "ROOM", "Ann")
	readBroadcast(t, ann)

	bob := dial(t, wsURL)
	join(t, bob, "ROOM", "Bob")
	readBroadcast(t, ann) // Bob's join notice
	readBroadcast(t, bob) // replay: Ann's join notice
	readBroadcast(t, bob) // own join notice

	sendJSON(t, bob, `{"type":"leave","roomId":"ROOM","sender":"Bob"}`)
	notice := readBroadcast(t, ann)
	if notice.Sender != relay.SystemSender || !strings.Contains(notice.Body, "Bob") || !strings.Contains(notice.Body, "left") {
		t.Fatalf("expected left-notice naming Bob, got %+v", notice)
	}

	chat(t, ann, "ROOM", "Ann", "after bob left")
	readBroadcast(t, ann) // own echo
	expectNoBroadcast(t, bob, 300*time.Millisecond)
}

// TestDeadConnectionIsolation verifies that one subscriber dropping its
// connection does not break delivery to the others.
func TestDeadConnectionIsolation(t *testing.T) {
	wsURL, _ := startRelay(t, nil)

	ann := dial(t, wsURL)
	join(t, ann, "ROOM", "Ann")
	readBroadcast(t, ann)

	bob := dial(t, wsURL)
	join(t, bob, "ROOM", "Bob")
	readBroadcast(t, bob) // replay: Ann's join notice
	readBroadcast(t, bob) // own join notice
	readBroadcast(t, ann) // Bob's join notice

	// Bob vanishes without a leave frame.
	_ = bob.Close()
	time.Sleep(100 * time.Millisecond)

	chat(t, ann, "ROOM", "Ann", "still works")
	if msg := readBroadcast(t, ann); msg.Body != "still works" {
		t.Errorf("surviving subscriber received %q, want still works", msg.Body)
	}
}

// TestMalformedFramesKeepConnectionOpen verifies the permissive-decoding
// policy over the wire: garbage frames are dropped and the connection keeps
// working.
func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	wsURL, _ := startRelay(t, nil)

	ann := dial(t, wsURL)
	join(t, ann, "ROOM", "Ann")
	readBroadcast(t, ann)

	sendJSON(t, ann, `{this is not json`)
	sendJSON(t, ann, `{"sender":"Ann","message":"frame without a room"}`)

	chat(t, ann, "ROOM", "Ann", "after garbage")
	if msg := readBroadcast(t, ann); msg.Body != "after garbage" {
		t.Errorf("connection broken after malformed frames, got %+v", msg)
	}
}

// TestChatToUnknownRoomIsNoOp verifies that chatting into a room that was
// never created does not crash the handler or create the room.
func TestChatToUnknownRoomIsNoOp(t *testing.T) {
	wsURL, srv := startRelay(t, nil)

	ann := dial(t, wsURL)
	chat(t, ann, "GHOST", "Ann", "anyone?")

	expectNoBroadcast(t, ann, 300*time.Millisecond)
	if srv.Registry().GetRoom("GHOST") != nil {
		t.Error("chat to an unknown room created it")
	}
}
