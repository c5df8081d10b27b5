package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cleanquest/progression/internal/domain"
	"github.com/cleanquest/progression/internal/service"
	gorilla "github.com/gorilla/websocket"
)

var _ service.Notifier = (*Hub)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  bool
	}{
		{"leaderboard", true},
		{"user:u1", true},
		{"user:", false},
		{"", false},
		{"leaderboard:weekly", false},
	}
	for _, tt := range tests {
		if got := ValidTopic(tt.topic); got != tt.want {
			t.Fatalf("ValidTopic(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func dial(t *testing.T, hub *Hub) *gorilla.Conn {
	t.Helper()
	return dialQuery(t, hub, "")
}

func dialQuery(t *testing.T, hub *Hub, query string) *gorilla.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, testLogger(), w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

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

func TestHubDeliversToTopicSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: UserTopic("u1")}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if ack := readMessage(t, conn); ack.Type != "subscribed" || ack.Topic != "user:u1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	waitFor(t, func() bool { return hub.SubscriberCount("user:u1") == 1 })

	// Other users' events stay off this connection.
	hub.PointsAwarded("u2", domain.AwardResult{PointsAwarded: 5})
	hub.PointsAwarded("u1", domain.AwardResult{PointsAwarded: 42, TotalPoints: 42})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypePointsAwarded || msg.Topic != "user:u1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	data, _ := msg.Data.(map[string]interface{})
	if data["points_awarded"] != float64(42) {
		t.Fatalf("unexpected payload: %+v", msg.Data)
	}
}

func TestHubRejectsUnknownTopic(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: "everything"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("expected error reply, got %+v", msg)
	}
	if err := conn.WriteJSON(ClientMessage{Type: MessageTypePing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("expected pong, got %+v", msg)
	}
	if hub.TopicCount() != 0 {
		t.Fatalf("expected no topics, got %d", hub.TopicCount())
	}
}

func TestHubLeaderboardRebuiltAndDisconnect(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	waitFor(t, func() bool { return hub.TotalConnections() == 1 })
	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Topic: LeaderboardTopic}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	readMessage(t, conn)
	waitFor(t, func() bool { return hub.SubscriberCount(LeaderboardTopic) == 1 })

	at := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	hub.LeaderboardRebuilt(3, at)
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeLeaderboardRebuilt {
		t.Fatalf("unexpected message: %+v", msg)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.TotalConnections() == 0 && hub.TopicCount() == 0 })
}

func TestServeWsSubscribesQueryTopics(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialQuery(t, hub, "/?topic=leaderboard&topic=bogus")
	waitFor(t, func() bool { return hub.SubscriberCount(LeaderboardTopic) == 1 })
	if hub.TopicCount() != 1 {
		t.Fatalf("expected only the valid topic, got %d topics", hub.TopicCount())
	}

	hub.LeaderboardRebuilt(7, time.Now())
	if msg := readMessage(t, conn); msg.Type != MessageTypeLeaderboardRebuilt {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
