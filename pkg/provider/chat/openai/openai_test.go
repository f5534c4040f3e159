package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/novalive/pkg/provider/chat"
)

type sentMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type sentBody struct {
	Model    string        `json:"model"`
	Messages []sentMessage `json:"messages"`
}

// completionServer answers chat completions with reply, or with status and
// an error body when status is not 200. It records every request body.
type completionServer struct {
	mu     sync.Mutex
	bodies []sentBody
}

func (s *completionServer) start(t *testing.T, status int, reply string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body sentBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"rejected","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   body.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

func (s *completionServer) requests() []sentBody {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentBody(nil), s.bodies...)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("New with empty key returned nil error")
	}
}

func TestReply_SendsConversation(t *testing.T) {
	t.Parallel()
	srv := &completionServer{}
	url := srv.start(t, http.StatusOK, " Sure thing. ")
	c, err := New("sk-test", WithBaseURL(url), WithModel("gpt-test"), WithInstructions("Be terse."), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Reply(context.Background(), chat.Request{
		Text:    "again please",
		History: []chat.Message{{Role: chat.RoleUser, Text: "hi"}, {Role: chat.RoleModel, Text: "hello"}},
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Text != "Sure thing." {
		t.Errorf("reply = %q", resp.Text)
	}

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(reqs))
	}
	if reqs[0].Model != "gpt-test" {
		t.Errorf("model = %q", reqs[0].Model)
	}
	want := []sentMessage{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "again please"},
	}
	got := reqs[0].Messages
	if len(got) != len(want) {
		t.Fatalf("sent %d messages, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Role != want[i].Role {
			t.Errorf("messages[%d].role = %q, want %q", i, got[i].Role, want[i].Role)
		}
		if s, ok := got[i].Content.(string); ok && s != want[i].Content {
			t.Errorf("messages[%d].content = %q, want %q", i, s, want[i].Content)
		}
	}
}

func TestReply_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		reply   string
		req     chat.Request
		wantErr error
		calls   int
	}{
		{name: "blank text", status: http.StatusOK, req: chat.Request{Text: ""}, wantErr: chat.ErrEmptyText},
		{name: "empty answer", status: http.StatusOK, reply: "  ", req: chat.Request{Text: "hi"}, wantErr: chat.ErrNoText, calls: 1},
		{name: "rejected", status: http.StatusBadRequest, req: chat.Request{Text: "hi"}, calls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := &completionServer{}
			url := srv.start(t, tt.status, tt.reply)
			c, err := New("sk-test", WithBaseURL(url), WithMaxRetries(0))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Reply(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Reply returned nil error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if got := len(srv.requests()); got != tt.calls {
				t.Errorf("server saw %d requests, want %d", got, tt.calls)
			}
		})
	}
}
