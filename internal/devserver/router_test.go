package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pulseboardhq/pulseboard/internal/realtime"
	"github.com/pulseboardhq/pulseboard/internal/updates"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	handler, err := NewHTTPHandler(Dependencies{
		Store: newTestStore(t),
		Hub:   hub,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, hub
}

func postUpdate(t *testing.T, server *httptest.Server, teamID, body string) *http.Response {
	t.Helper()
	response, err := http.Post(
		server.URL+"/api/teams/"+teamID+"/updates",
		"application/json",
		bytes.NewBufferString(body),
	)
	if err != nil {
		t.Fatalf("post request failed: %v", err)
	}
	return response
}

func TestCreateUpdateEndpointReturnsCanonicalEntry(t *testing.T) {
	server, _ := newTestServer(t)

	payload := `{"category":"win","text":"shipped it","media":{"kind":"none"},` +
		`"author":{"id":"user-1","name":"Dana"},"client_token":"token-9"}`
	response := postUpdate(t, server, "team-1", payload)
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", response.StatusCode)
	}
	var created updates.Update
	if err := json.NewDecoder(response.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.ID == "" || created.ID == "token-9" {
		t.Fatalf("expected a fresh canonical id, got %q", created.ID)
	}
	if created.ClientToken != "token-9" {
		t.Fatalf("client token not echoed: %q", created.ClientToken)
	}
}

func TestCreateUpdateEndpointRejectsInvalidDraft(t *testing.T) {
	server, _ := newTestServer(t)

	payload := `{"category":"win","text":"   ","media":{"kind":"none"},"author":{"id":"user-1"}}`
	response := postUpdate(t, server, "team-1", payload)
	defer response.Body.Close()

	if response.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty text, got %d", response.StatusCode)
	}
}

func TestCreateUpdateEndpointRejectsOverlongTeamID(t *testing.T) {
	server, _ := newTestServer(t)

	response := postUpdate(t, server, strings.Repeat("x", 200),
		`{"category":"team","text":"hello","media":{"kind":"none"},"author":{"id":"user-1"}}`)
	defer response.Body.Close()

	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid team id, got %d", response.StatusCode)
	}
}

func TestListUpdatesEndpointAppliesDayFilter(t *testing.T) {
	server, _ := newTestServer(t)

	for _, entry := range []struct {
		createdAt string
		text      string
	}{
		{"2024-07-01T09:00:00Z", "today's entry"},
		{"2024-06-30T21:00:00Z", "yesterday's entry"},
	} {
		payload := `{"created_at":"` + entry.createdAt + `","category":"team","text":"` + entry.text +
			`","media":{"kind":"none"},"author":{"id":"user-1"}}`
		response := postUpdate(t, server, "team-1", payload)
		if response.StatusCode != http.StatusCreated {
			t.Fatalf("seed post failed with status %d", response.StatusCode)
		}
		response.Body.Close()
	}

	response, err := http.Get(server.URL + "/api/teams/team-1/updates?day=2024-07-01")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer response.Body.Close()

	var listed []updates.Update
	if err := json.NewDecoder(response.Body).Decode(&listed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(listed) != 1 || listed[0].Text != "today's entry" {
		t.Fatalf("day filter returned wrong entries: %#v", listed)
	}
}

func TestWebsocketDeliversUpdatesToJoinedRoom(t *testing.T) {
	server, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(realtime.ClientEnvelope{Join: &realtime.JoinRoom{TeamID: "team-1"}}); err != nil {
		t.Fatalf("join message failed: %v", err)
	}
	// The join is processed asynchronously by the session's read loop.
	time.Sleep(50 * time.Millisecond)

	payload := `{"category":"blocker","text":"build is red","media":{"kind":"none"},` +
		`"author":{"id":"user-2","name":"Priya"},"client_token":"token-ws"}`
	response := postUpdate(t, server, "team-1", payload)
	response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("post failed with status %d", response.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope realtime.ServerEnvelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("failed to read push event: %v", err)
	}
	if envelope.UpdateCreated == nil {
		t.Fatalf("expected update_created envelope, got %#v", envelope)
	}
	if envelope.UpdateCreated.TeamID != "team-1" || envelope.UpdateCreated.Update.Text != "build is red" {
		t.Fatalf("unexpected push payload: %#v", envelope.UpdateCreated)
	}
	if envelope.UpdateCreated.Update.ClientToken != "token-ws" {
		t.Fatalf("push event lost the client token: %#v", envelope.UpdateCreated.Update)
	}
}

func TestWebsocketLeaveStopsDelivery(t *testing.T) {
	server, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(realtime.ClientEnvelope{Join: &realtime.JoinRoom{TeamID: "team-1"}}); err != nil {
		t.Fatalf("join message failed: %v", err)
	}
	if err := conn.WriteJSON(realtime.ClientEnvelope{Leave: &realtime.LeaveRoom{TeamID: "team-1"}}); err != nil {
		t.Fatalf("leave message failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	response := postUpdate(t, server, "team-1",
		`{"category":"team","text":"after leave","media":{"kind":"none"},"author":{"id":"user-1"}}`)
	response.Body.Close()

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var envelope realtime.ServerEnvelope
	if err := conn.ReadJSON(&envelope); err == nil {
		t.Fatalf("expected no push event after leave, got %#v", envelope)
	}
}
