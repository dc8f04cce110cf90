package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestMarshalEnvelope(t *testing.T) {
	frame, err := marshalEnvelope("create rfid", map[string]string{"tagId": "tag-0001"})
	if err != nil {
		t.Fatalf("marshalEnvelope() вернул ошибку: %v", err)
	}

	var got envelope
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("кадр не является JSON: %v", err)
	}
	if got.Event != "create rfid" {
		t.Errorf("event = %q, ожидается create rfid", got.Event)
	}
	data, ok := got.Data.(map[string]any)
	if !ok || data["tagId"] != "tag-0001" {
		t.Errorf("data = %v, ожидается tagId=tag-0001", got.Data)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("подключение к хабу: %v", err)
	}
	defer conn.Close()

	// Даём хабу зарегистрировать клиента до рассылки.
	time.Sleep(50 * time.Millisecond)
	hub.Emit("update user", map[string]string{"_id": "6568a1b2c3d4e5f601020304"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("чтение кадра: %v", err)
	}

	var got envelope
	if err := json.Unmarshal(frame, &got); err != nil {
		t.Fatalf("кадр не является JSON: %v", err)
	}
	if got.Event != "update user" {
		t.Errorf("event = %q, ожидается update user", got.Event)
	}
}
