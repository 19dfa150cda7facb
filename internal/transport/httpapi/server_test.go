package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAsker struct {
	answer   *cyibot.Answer
	err      error
	resetErr error
	asked    []string
	resets   []string
}

func (a *fakeAsker) Ask(ctx context.Context, sessionID, question string) (*cyibot.Answer, error) {
	a.asked = append(a.asked, sessionID+"|"+question)
	return a.answer, a.err
}

func (a *fakeAsker) Reset(ctx context.Context, sessionID string) error {
	a.resets = append(a.resets, sessionID)
	return a.resetErr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAsk(t *testing.T, rec *httptest.ResponseRecorder) AskResponse {
	t.Helper()
	var body struct {
		Data AskResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestAsk_Success(t *testing.T) {
	asker := &fakeAsker{answer: &cyibot.Answer{
		TurnID:    "t1",
		SessionID: "s1",
		Text:      "Ada and Grace coordinated in 2023.",
		State:     cyibot.StateDone,
		Filter:    cyibot.MetadataFilter{"year": 2023},
		Tools:     []string{cyibot.ToolDirectoryLookup},
		Routing:   cyibot.RoutingModel,
	}}
	h := NewServer(asker).Routes()

	rec := do(t, h, http.MethodPost, "/v1/ask", `{"session_id":" s1 ","question":"Who are the coordinators for CYI in 2023?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeAsk(t, rec)
	assert.Equal(t, "Ada and Grace coordinated in 2023.", resp.Answer)
	assert.Equal(t, cyibot.StateDone, resp.State)
	assert.Equal(t, []string{cyibot.ToolDirectoryLookup}, resp.Tools)
	assert.Empty(t, resp.ErrorCode)
	assert.Equal(t, []string{"s1|Who are the coordinators for CYI in 2023?"}, asker.asked)
}

func TestAsk_FailedTurnKeepsUserText(t *testing.T) {
	err := cyibot.NewRetrievalError(errors.New("chroma: connection refused"))
	asker := &fakeAsker{
		answer: &cyibot.Answer{TurnID: "t1", SessionID: "s1", Text: cyibot.UserMessage(err), State: cyibot.StateFailed},
		err:    err,
	}
	h := NewServer(asker).Routes()

	rec := do(t, h, http.MethodPost, "/v1/ask", `{"session_id":"s1","question":"feedback from SLI 2024?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeAsk(t, rec)
	assert.Equal(t, "retrieval_error", resp.ErrorCode)
	assert.Equal(t, cyibot.UserMessage(err), resp.Answer)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestAsk_Rejected(t *testing.T) {
	tests := map[string]string{
		"not json":          `question?`,
		"unknown field":     `{"session_id":"s","question":"q","admin":true}`,
		"missing session":   `{"question":"q"}`,
		"blank question":    `{"session_id":"s","question":"   "}`,
		"question too long": `{"session_id":"s","question":"` + strings.Repeat("a", 4001) + `"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			asker := &fakeAsker{}
			rec := do(t, NewServer(asker).Routes(), http.MethodPost, "/v1/ask", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, asker.asked)
		})
	}
}

func TestAsk_NoAnswer(t *testing.T) {
	asker := &fakeAsker{err: errors.New("boom")}
	rec := do(t, NewServer(asker).Routes(), http.MethodPost, "/v1/ask", `{"session_id":"s","question":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestReset(t *testing.T) {
	asker := &fakeAsker{}
	h := NewServer(asker).Routes()

	rec := do(t, h, http.MethodPost, "/v1/sessions/C123/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"C123"}, asker.resets)

	asker.resetErr = cyibot.NewSessionStateError("C123", errors.New("locked"))
	rec = do(t, h, http.MethodPost, "/v1/sessions/C123/reset", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "session_state_error", resp.Error)
}

func TestHealthAndReadiness(t *testing.T) {
	healthy := func(ctx context.Context) error { return nil }
	broken := func(ctx context.Context) error { return errors.New("down") }

	h := NewServer(&fakeAsker{}, WithReadinessCheck("directory", healthy)).Routes()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	rec := do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"directory":"healthy"`)

	h = NewServer(&fakeAsker{},
		WithReadinessCheck("directory", healthy),
		WithReadinessCheck("vectors", broken),
	).Routes()
	rec = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vectors":"unhealthy"`)
}

func TestCORS(t *testing.T) {
	h := NewServer(&fakeAsker{}, WithCORSOrigins([]string{"https://intranet.example"})).Routes()

	req := httptest.NewRequest(http.MethodOptions, "/v1/ask", nil)
	req.Header.Set("Origin", "https://intranet.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://intranet.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
