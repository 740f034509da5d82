package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/feed"
	"github.com/pulseboardhq/pulseboard/internal/updates"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client
}

func TestCreateUpdatePostsDraftAndDecodesCanonicalEntry(t *testing.T) {
	var gotPath, gotContentType string
	var gotDraft feed.Draft
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotDraft); err != nil {
			t.Errorf("failed to decode draft: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(updates.Update{
			ID:          "canonical-1",
			TeamID:      "team-1",
			AuthorID:    gotDraft.Author.ID,
			CreatedAt:   gotDraft.CreatedAt,
			Category:    gotDraft.Category,
			Text:        gotDraft.Text,
			Media:       gotDraft.Media,
			ClientToken: gotDraft.ClientToken,
		})
	})

	draft := feed.Draft{
		CreatedAt:   time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC),
		Category:    updates.CategoryWin,
		Text:        "shipped it",
		Media:       updates.NoMedia(),
		Author:      feed.AuthorProfile{ID: "user-1", Name: "Dana"},
		ClientToken: "token-1",
	}
	created, err := client.CreateUpdate(context.Background(), "team-1", draft)
	if err != nil {
		t.Fatalf("create update failed: %v", err)
	}

	if gotPath != "/api/teams/team-1/updates" {
		t.Fatalf("unexpected request path: %q", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type: %q", gotContentType)
	}
	if gotDraft.ClientToken != "token-1" || gotDraft.Text != "shipped it" {
		t.Fatalf("draft did not survive the wire: %#v", gotDraft)
	}
	if created.ID != "canonical-1" || created.ClientToken != "token-1" {
		t.Fatalf("unexpected canonical entry: %#v", created)
	}
}

func TestCreateUpdateMapsErrorResponseToStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "storage_failed"})
	})

	_, err := client.CreateUpdate(context.Background(), "team-1", feed.Draft{
		Category: updates.CategoryTeam,
		Text:     "hello",
		Media:    updates.NoMedia(),
		Author:   feed.AuthorProfile{ID: "user-1"},
	})

	var statusErr *feed.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusServiceUnavailable || statusErr.Message != "storage_failed" {
		t.Fatalf("unexpected status error: %#v", statusErr)
	}
}

func TestCreateUpdateMapsTransportFailureToStatusZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // force a connection error

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}

	_, err = client.CreateUpdate(context.Background(), "team-1", feed.Draft{
		Category: updates.CategoryTeam,
		Text:     "hello",
		Media:    updates.NoMedia(),
		Author:   feed.AuthorProfile{ID: "user-1"},
	})

	var statusErr *feed.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != 0 {
		t.Fatalf("transport failures carry status 0, got %d", statusErr.Status)
	}
}

func TestListUpdatesEncodesFilterState(t *testing.T) {
	var gotQuery map[string][]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode([]updates.Update{
			{ID: "update-1", TeamID: "team-1", Category: updates.CategoryWin, Text: "done"},
		})
	})

	listed, err := client.ListUpdates(context.Background(), "team-1", updates.FilterState{
		Day:             "2024-07-01",
		Category:        updates.CategoryWin,
		MediaKind:       updates.MediaAudio,
		RequireLocation: true,
	})
	if err != nil {
		t.Fatalf("list updates failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "update-1" {
		t.Fatalf("unexpected list result: %#v", listed)
	}

	for key, want := range map[string]string{
		"day":          "2024-07-01",
		"category":     "win",
		"media":        "audio",
		"has_location": "true",
	} {
		if got := gotQuery[key]; len(got) != 1 || got[0] != want {
			t.Fatalf("query param %q = %v, want %q", key, got, want)
		}
	}
}

func TestListUpdatesOmitsEmptyFilters(t *testing.T) {
	var gotRawQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotRawQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode([]updates.Update{})
	})

	if _, err := client.ListUpdates(context.Background(), "team-1", updates.FilterState{}); err != nil {
		t.Fatalf("list updates failed: %v", err)
	}
	if gotRawQuery != "" {
		t.Fatalf("expected no query parameters, got %q", gotRawQuery)
	}
}

func TestListUpdatesMapsErrorResponseToStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.ListUpdates(context.Background(), "team-1", updates.FilterState{})

	var statusErr *feed.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", statusErr.Status)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("expected ErrMissingBaseURL, got %v", err)
	}
}
