package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"parley/pkg/auth"
	"parley/pkg/cache"
	"parley/pkg/completion"
	"parley/pkg/config"
	"parley/pkg/idem"
	"parley/pkg/models"
	"parley/pkg/prompt"
	"parley/pkg/store"
	"parley/pkg/turn"
	"parley/pkg/workers"
)

const signingSecret = "signsecret"

func signHMAC(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

type fixedClient struct {
	reply string
	calls int
}

func (c *fixedClient) Complete(context.Context, []completion.Message, completion.DecodingParams, string) (string, error) {
	c.calls++
	return c.reply, nil
}

// bandReply is 3 sentences / 42 words, inside the default free-tier band.
func bandReply() string {
	s := strings.TrimSpace(strings.Repeat("word ", 14)) + "."
	return s + " " + s + " " + s
}

func setupServer(t *testing.T) (*httptest.Server, *fixedClient) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{signingSecret: {}}})
	if err := store.SaveCharacter(models.Character{ID: "c_test", Name: "Mira"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	client := &fixedClient{reply: bandReply()}
	retrier := &turn.Retrier{
		Client:      client,
		Model:       "test-model",
		Base:        completion.DecodingParams{Temperature: 0.8, TopP: 0.9},
		MaxAttempts: 3,
	}
	svc := turn.NewService(
		retrier,
		idem.NewGuard(cache.NewMemory(), 15*time.Second),
		workers.NewPool(2, 8, time.Second),
		nil,
		turn.Config{
			PacingThreshold: 8,
			History:         prompt.HistoryLimits{Messages: 10, Budget: 3500, ItemTrim: 600, UserTurnTrim: 2000},
			Format:          prompt.FormatPolicy{MinSentences: 3, MaxSentences: 4, MinWords: 40, MaxWords: 90},
		},
	)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", Readyz).Methods(http.MethodGet)
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.RequireSignedUser)
	New(svc).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, client
}

func doSigned(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, url, rd)
	req.Header.Set("X-User-ID", user)
	req.Header.Set("X-User-Signature", signHMAC(signingSecret, user))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return res
}

func decode(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = res.Body.Close()
	return out
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := setupServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %v", path, res.Status)
		}
		_ = res.Body.Close()
	}
}

func TestSignatureRequired(t *testing.T) {
	srv, _ := setupServer(t)

	res, _ := http.Get(srv.URL + "/v1/sessions")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing headers: %v", res.Status)
	}
	_ = res.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/sessions", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", "deadbeef")
	res, _ = http.DefaultClient.Do(req)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature: %v", res.Status)
	}
	_ = res.Body.Close()
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := setupServer(t)

	res := doSigned(t, http.MethodPost, srv.URL+"/v1/sessions", "alice", map[string]string{"character": "c_test"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %v", res.Status)
	}
	created := decode(t, res)
	id := created["id"].(string)
	if created["title"] != "Chat with Mira" {
		t.Fatalf("default title: %v", created["title"])
	}

	res = doSigned(t, http.MethodGet, srv.URL+"/v1/sessions", "alice", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %v", res.Status)
	}
	list := decode(t, res)
	if n := len(list["sessions"].([]any)); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}

	// the owner's sessions are invisible to others
	res = doSigned(t, http.MethodGet, srv.URL+"/v1/sessions/"+id, "mallory", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get: %v", res.Status)
	}
	_ = res.Body.Close()

	res = doSigned(t, http.MethodPost, srv.URL+"/v1/sessions", "alice", map[string]string{"character": "c_ghost"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown character: %v", res.Status)
	}
	_ = res.Body.Close()
}

func TestTurnEndpoint(t *testing.T) {
	srv, client := setupServer(t)

	res := doSigned(t, http.MethodPost, srv.URL+"/v1/sessions", "alice", map[string]string{"character": "c_test"})
	id := decode(t, res)["id"].(string)

	res = doSigned(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/turns", "alice", map[string]string{"text": "hi there"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn: %v", res.Status)
	}
	out := decode(t, res)
	if out["reply_text"] != client.reply {
		t.Fatalf("reply: %v", out["reply_text"])
	}
	if out["is_nsfw"] != false {
		t.Fatalf("is_nsfw: %v", out["is_nsfw"])
	}

	res = doSigned(t, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/messages", "alice", nil)
	msgs := decode(t, res)["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	// error mapping
	res = doSigned(t, http.MethodPost, srv.URL+"/v1/sessions/"+id+"/turns", "alice", map[string]string{"text": "  "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty text: %v", res.Status)
	}
	_ = res.Body.Close()

	res = doSigned(t, http.MethodPost, srv.URL+"/v1/sessions/s_missing/turns", "alice", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session: %v", res.Status)
	}
	_ = res.Body.Close()
}
