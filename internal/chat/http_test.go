package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:       srv.URL,
		TokenProvider: func(context.Context) (string, error) { return "test-token", nil },
	})
	return client, srv
}

func TestObserveCallSeesEveryRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Space{Name: "spaces/s1"})
	}))
	t.Cleanup(srv.Close)

	var observed []time.Duration
	client := NewHTTPClient(HTTPClientOptions{
		BaseURL:       srv.URL,
		TokenProvider: func(context.Context) (string, error) { return "test-token", nil },
		ObserveCall:   func(d time.Duration) { observed = append(observed, d) },
	})

	if _, err := client.GetSpace(context.Background(), "spaces/s1"); err != nil {
		t.Fatal(err)
	}
	if err := client.CompleteImport(context.Background(), "spaces/s1"); err != nil {
		t.Fatal(err)
	}
	if len(observed) != 2 {
		t.Fatalf("observed %d calls, want 2", len(observed))
	}
	for _, d := range observed {
		if d < 0 {
			t.Errorf("negative duration %v", d)
		}
	}
}

func TestCreateMessageRequestShape(t *testing.T) {
	var gotPath, gotAuth, gotMessageID, gotReplyOption string
	var gotBody Message
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMessageID = r.URL.Query().Get("messageId")
		gotReplyOption = r.URL.Query().Get("messageReplyOption")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(Message{Name: "spaces/s1/messages/m1"})
	})

	created, err := client.CreateMessage(context.Background(), "spaces/s1",
		&Message{Text: "hello", Thread: &Thread{ThreadKey: "1.0"}},
		CreateMessageOptions{MessageID: "client-abc", ReplyOption: "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"})
	if err != nil {
		t.Fatal(err)
	}
	if created.Name != "spaces/s1/messages/m1" {
		t.Errorf("created name %q", created.Name)
	}
	if gotPath != "/v1/spaces/s1/messages" {
		t.Errorf("path %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header %q", gotAuth)
	}
	if gotMessageID != "client-abc" {
		t.Errorf("messageId %q", gotMessageID)
	}
	if gotReplyOption != "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD" {
		t.Errorf("messageReplyOption %q", gotReplyOption)
	}
	if gotBody.Text != "hello" || gotBody.Thread == nil || gotBody.Thread.ThreadKey != "1.0" {
		t.Errorf("body %+v", gotBody)
	}
}

func TestErrorsCarryStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"conflict"}`, http.StatusConflict)
	})

	_, err := client.CreateMembership(context.Background(), "spaces/s1",
		&Membership{Member: &User{Name: "users/a@b.c"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsConflict(err) {
		t.Errorf("409 not classified as conflict: %v", err)
	}
	if Retryable(err) {
		t.Errorf("409 must not be retryable")
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		code      int
		retryable bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{404, false},
		{400, false},
	}
	for _, tc := range cases {
		code := tc.code
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		})
		err := client.DeleteSpace(context.Background(), "spaces/s1")
		if err == nil {
			t.Fatalf("status %d produced no error", code)
		}
		if Retryable(err) != tc.retryable {
			t.Errorf("status %d retryable=%v, want %v", code, Retryable(err), tc.retryable)
		}
	}
}

func TestCompleteImportPath(t *testing.T) {
	var gotPath, gotMethod string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
	})

	if err := client.CompleteImport(context.Background(), "spaces/s1"); err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/spaces/s1:completeImport" {
		t.Errorf("%s %s", gotMethod, gotPath)
	}
}

func TestPatchSpaceUpdateMask(t *testing.T) {
	var gotMask string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMask = r.URL.Query().Get("updateMask")
		json.NewEncoder(w).Encode(Space{Name: "spaces/s1", ExternalUserAllowed: true})
	})

	updated, err := client.PatchSpace(context.Background(), "spaces/s1",
		"externalUserAllowed", &Space{ExternalUserAllowed: true})
	if err != nil {
		t.Fatal(err)
	}
	if gotMask != "externalUserAllowed" {
		t.Errorf("updateMask %q", gotMask)
	}
	if !updated.ExternalUserAllowed {
		t.Error("response not decoded")
	}
}

func TestReactionBatchDeliversPerItemResults(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/messages/m2/") {
			w.WriteHeader(http.StatusConflict)
		}
	})

	var results []error
	batch := client.NewReactionBatch(func(requestID string, err error) {
		results = append(results, err)
	})
	batch.Add("spaces/s1/messages/m1", &Reaction{Emoji: Emoji{Unicode: "👍"}})
	batch.Add("spaces/s1/messages/m2", &Reaction{Emoji: Emoji{Unicode: "👍"}})
	if batch.Len() != 2 {
		t.Fatalf("batch len %d", batch.Len())
	}

	if err := batch.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(results))
	}
	if results[0] != nil {
		t.Errorf("first item should succeed: %v", results[0])
	}
	if !IsConflict(results[1]) {
		t.Errorf("second item should conflict: %v", results[1])
	}
}

func TestListSpacesPagination(t *testing.T) {
	page := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("pageToken")
		page++
		if token == "" {
			json.NewEncoder(w).Encode(SpacePage{
				Spaces:        []Space{{Name: "spaces/a"}},
				NextPageToken: "t1",
			})
			return
		}
		json.NewEncoder(w).Encode(SpacePage{Spaces: []Space{{Name: "spaces/b"}}})
	})

	first, err := client.ListSpaces(context.Background(), 100, "")
	if err != nil {
		t.Fatal(err)
	}
	if first.NextPageToken != "t1" {
		t.Fatalf("missing page token: %+v", first)
	}
	second, err := client.ListSpaces(context.Background(), 100, first.NextPageToken)
	if err != nil {
		t.Fatal(err)
	}
	if second.NextPageToken != "" || len(second.Spaces) != 1 {
		t.Errorf("second page wrong: %+v", second)
	}
	if page != 2 {
		t.Errorf("server saw %d requests", page)
	}
}
