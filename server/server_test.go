package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/GramHealth/config"
	"github.com/room4-2/GramHealth/consult"
	"github.com/room4-2/GramHealth/gemini"
	"github.com/room4-2/GramHealth/session"
	"github.com/room4-2/GramHealth/store"
	"github.com/room4-2/GramHealth/triage"
)

type fakePhoto struct{}

func (fakePhoto) Analyze(_ context.Context, req gemini.PhotoRequest) (*gemini.PhotoAnalysis, error) {
	if req.ImageBase64 == "" {
		return nil, gemini.ErrNoImage
	}
	if req.ImageBase64 == "boom" {
		return nil, errors.New("model down")
	}
	return &gemini.PhotoAnalysis{Analysis: "Looks mild.", Urgency: gemini.UrgencyLow, Disclaimer: gemini.Disclaimer}, nil
}

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, req gemini.TranslateRequest) ([]string, error) {
	out := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		out[i] = strings.ToUpper(t)
	}
	return out, nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.AllowedOrigins = []string{"https://app.example"}
	consultCfg := consult.DefaultConfig()
	consultCfg.ConnectDelay = 0
	consultCfg.FallbackDelay = 0
	consultCfg.TeardownDelay = 0
	manager := session.NewManager(cfg, nil, nil, consultCfg)

	srv := httptest.NewServer(New(cfg, manager, opts).Handler())
	t.Cleanup(func() {
		manager.Shutdown(context.Background())
		srv.Close()
	})
	return srv, manager
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestAnalyzePhoto(t *testing.T) {
	srv, _ := newTestServer(t, Options{Photo: fakePhoto{}})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/analyze-photo", map[string]string{"imageBase64": "aGk=", "type": "livestock"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "low", body["urgency"])
	assert.Equal(t, gemini.Disclaimer, body["disclaimer"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/analyze-photo", map[string]string{"type": "human"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/analyze-photo", map[string]string{"imageBase64": "aGk=", "type": "plant"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/analyze-photo", map[string]string{"imageBase64": "boom"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAnalyzePhotoOffline(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/analyze-photo", map[string]string{"imageBase64": "aGk="})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTranslate(t *testing.T) {
	srv, _ := newTestServer(t, Options{Translator: upperTranslator{}})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/translate", map[string]any{"texts": []string{"hello", "bye"}, "targetLanguage": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"HELLO", "BYE"}, body["translations"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/translate", map[string]any{"texts": []string{"hello"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranslateWithoutModelEchoes(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/translate", map[string]any{"texts": []string{"hello"}, "targetLanguage": "sw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"hello"}, body["translations"])
}

func TestLanguagePreference(t *testing.T) {
	srv, _ := newTestServer(t, Options{Preferences: store.NewPreferenceStore(nil)})
	url := srv.URL + "/api/preferences/language?client=abc"

	resp, body := doJSON(t, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "en", body["language"])

	resp, _ = doJSON(t, http.MethodPut, url, map[string]string{"language": "ta"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = doJSON(t, http.MethodGet, url, nil)
	assert.Equal(t, "ta", body["language"])

	resp, _ = doJSON(t, http.MethodPut, url, map[string]string{"language": "klingon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/preferences/language", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConsultationArchive(t *testing.T) {
	dsn, err := store.ArchiveDSNForFile(filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	archive, err := store.NewArchive(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	now := time.Now()
	require.NoError(t, archive.Save(context.Background(), consult.Snapshot{
		ID:        "c1",
		Modality:  consult.ModalityChat,
		StartedAt: now,
		Triage:    triage.InitialState(),
		Transcript: []consult.Turn{
			{Speaker: consult.SpeakerAssistant, Text: "Hello", Timestamp: now, Source: consult.SourceGreeting},
		},
	}))

	srv, _ := newTestServer(t, Options{Archive: archive})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/consultations?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["consultations"], 1)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/consultations/c1/turns", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["turns"], 1)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/consultations/missing/turns", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/consultations?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/translate", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

type envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func TestOfflineChatOverWebsocket(t *testing.T) {
	srv, manager := newTestServer(t, Options{})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	readTurn := func() envelope {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			var msg envelope
			require.NoError(t, conn.ReadJSON(&msg))
			if msg.Type == "turn" && msg.Payload["speaker"] == "assistant" {
				return msg
			}
		}
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "open", "payload": map[string]any{"modality": "chat"}}))
	greeting := readTurn()
	assert.Equal(t, "SESSION_GREETING", greeting.Payload["responseKey"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "payload": map[string]any{"text": "I have a fever"}}))
	reply := readTurn()
	assert.Equal(t, "fallback", reply.Payload["source"])
	assert.Equal(t, "ASK_TEMP", reply.Payload["responseKey"])

	assert.Equal(t, 1, manager.GetActiveSessionCount())
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return manager.GetActiveSessionCount() == 0 }, 3*time.Second, 20*time.Millisecond)
}
