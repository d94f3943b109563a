package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/sealed_scores/internal/app"
	"github.com/R3E-Network/sealed_scores/internal/app/cluster/fake"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/notify"
	"github.com/R3E-Network/sealed_scores/internal/app/services/scores"
	"github.com/R3E-Network/sealed_scores/internal/crypto/sealing"
	internalhttputil "github.com/R3E-Network/sealed_scores/internal/httputil"
	"github.com/R3E-Network/sealed_scores/internal/middleware"
	"github.com/R3E-Network/sealed_scores/pkg/logger"
	"github.com/R3E-Network/sealed_scores/pkg/testutil"
)

var testSecret = []byte("integration-secret")

func quietLogger() *logger.Logger {
	return testutil.QuietLogger("httpapi-test")
}

type testEnv struct {
	app     *app.Application
	cluster *fake.Cluster
	handler http.Handler
}

func newTestEnv(t *testing.T, mode fake.Mode, opts Options) *testEnv {
	t.Helper()
	log := quietLogger()
	c, err := fake.New(fake.Options{ClusterID: "http-cluster", Mode: mode, Log: log})
	require.NoError(t, err)

	application, err := app.New(app.Stores{}, app.Options{Cluster: c, WebSocket: true}, log)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	opts.Log = log
	return &testEnv{app: application, cluster: c, handler: NewHandler(application, opts)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			reader = bytes.NewReader(marshal(t, body))
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	buf, err := json.Marshal(v)
	require.NoError(t, err)
	return buf
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp internalhttputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Code
}

func owner(b byte) score.Owner {
	var o score.Owner
	for i := range o {
		o[i] = b
	}
	return o
}

// sealFor fetches the cluster key over the API and seals scores to it.
func (e *testEnv) sealFor(t *testing.T, offset uint64, who score.Owner, values ...uint8) (scores.SubmitRequest, *sealing.Session) {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/v1/cluster", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info scores.ClusterInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))

	kp, err := sealing.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	session, err := sealing.NewSession(kp.Private, info.EncryptionKey)
	require.NoError(t, err)
	plain, err := sealing.PackScores(values)
	require.NoError(t, err)
	nonce := score.NonceFromUint64(offset + 1)
	ct, err := session.Seal(nonce, plain)
	require.NoError(t, err)

	return scores.SubmitRequest{
		Offset: offset,
		EncryptedRequest: score.EncryptedRequest{
			Ciphertext:      ct,
			EphemeralPubKey: kp.Public,
			Nonce:           nonce,
			Count:           uint8(len(values)),
			Owner:           who,
		},
	}, session
}

func TestHandlerLifecycle(t *testing.T) {
	env := newTestEnv(t, fake.ModeValid, Options{})
	who := owner(0xAB)
	req, session := env.sealFor(t, 7, who, 10, 20, 30)

	rec := env.do(t, http.MethodPost, "/v1/jobs", req, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job score.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, uint64(7), job.Offset)
	assert.Equal(t, who, job.Owner)

	require.Eventually(t, func() bool {
		return env.do(t, http.MethodGet, "/v1/results/"+who.String(), nil, "").Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/v1/results/"+who.String(), nil, "")
	var res score.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	plain, err := session.Open(res.Nonce, res.EncryptedResult)
	require.NoError(t, err)
	assert.Equal(t, []uint8{60, 3}, plain[:2])

	rec = env.do(t, http.MethodGet, "/v1/results/"+who.String()+"/raw", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	require.Len(t, rec.Body.Bytes(), score.ResultSize)
	var decoded score.Result
	require.NoError(t, decoded.UnmarshalBinary(rec.Body.Bytes()))
	assert.Equal(t, res.EncryptedResult, decoded.EncryptedResult)

	rec = env.do(t, http.MethodGet, "/v1/jobs/7", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, score.StatusCompleted, job.Status)

	rec = env.do(t, http.MethodGet, "/v1/owners/"+who.String()+"/jobs", nil, "")
	var jobs []score.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)

	rec = env.do(t, http.MethodGet, "/v1/events/recent?owner="+who.String(), nil, "")
	var events []score.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, res.Nonce, events[0].Nonce)

	rec = env.do(t, http.MethodGet, "/v1/audit", nil, "")
	var entries []auditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "/v1/jobs", entries[0].Path)
	assert.Equal(t, http.StatusAccepted, entries[0].Status)

	rec = env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.TraceHeader))
}

func TestHandlerRemoteCallbacks(t *testing.T) {
	env := newTestEnv(t, fake.ModeSilent, Options{})
	who := owner(0x01)
	req, _ := env.sealFor(t, 42, who, 5, 5)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/jobs", req, "").Code)

	comp := env.cluster.Submitted()[0]
	cb, err := env.cluster.Compute(comp, fake.ModeValid)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/v1/callbacks/42", cb.Output, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var evt score.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evt))
	assert.Equal(t, who, evt.Owner)
	assert.Equal(t, uint64(42), evt.Offset)

	rec = env.do(t, http.MethodPost, "/v1/callbacks/42", cb.Output, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(score.CodeJobTerminal), errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/v1/callbacks/43", cb.Output, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(score.CodeJobNotFound), errorCode(t, rec))
}

func TestHandlerRejectsForgedCallback(t *testing.T) {
	env := newTestEnv(t, fake.ModeSilent, Options{})
	req, _ := env.sealFor(t, 5, owner(0x02), 1)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/jobs", req, "").Code)

	cb, err := env.cluster.Compute(env.cluster.Submitted()[0], fake.ModeInvalidProof)
	require.NoError(t, err)
	rec := env.do(t, http.MethodPost, "/v1/callbacks/5", cb.Output, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(score.CodeAbortedComputation), errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/v1/results/"+owner(0x02).String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(score.CodeResultNotFound), errorCode(t, rec))
}

func TestHandlerValidation(t *testing.T) {
	env := newTestEnv(t, fake.ModeSilent, Options{})
	req, _ := env.sealFor(t, 9, owner(0x03), 1)

	bad := req
	bad.Count = 9
	rec := env.do(t, http.MethodPost, "/v1/jobs", bad, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(score.CodeInvalidScoreCount), errorCode(t, rec))

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/jobs", req, "").Code)
	rec = env.do(t, http.MethodPost, "/v1/jobs", req, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(score.CodeDuplicateOffset), errorCode(t, rec))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown field", http.MethodPost, "/v1/jobs", `{"offset":1,"bogus":true}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/v1/jobs", `{"offset":`, http.StatusBadRequest},
		{"trailing data", http.MethodPost, "/v1/callbacks/9", `{} {}`, http.StatusBadRequest},
		{"bad offset", http.MethodGet, "/v1/jobs/-1", nil, http.StatusBadRequest},
		{"bad owner", http.MethodGet, "/v1/results/zz", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/owners/" + owner(3).String() + "/jobs?limit=x", nil, http.StatusBadRequest},
		{"bad since", http.MethodGet, "/v1/events/recent?since=x", nil, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/v1/jobs/12345", nil, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/v1/jobs/9", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerAuthRequired(t *testing.T) {
	auth := middleware.NewAuthMiddleware(testSecret, quietLogger(), nil)
	env := newTestEnv(t, fake.ModeSilent, Options{Auth: auth})
	who := owner(0x04)
	req, _ := env.sealFor(t, 11, who, 1)

	rec := env.do(t, http.MethodPost, "/v1/jobs", req, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := middleware.IssueToken(testSecret, owner(0x05).String(), time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/v1/jobs", req, other)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(score.CodeOwnerMismatch), errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/v1/owners/"+who.String()+"/jobs", nil, other)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	mine, err := middleware.IssueToken(testSecret, who.String(), time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/v1/jobs", req, mine)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/owners/"+who.String()+"/jobs", nil, mine)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Callbacks carry their own proof and do not need a token.
	cb, err := env.cluster.Compute(env.cluster.Submitted()[0], fake.ModeValid)
	require.NoError(t, err)
	rec = env.do(t, http.MethodPost, "/v1/callbacks/11", cb.Output, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerEventStream(t *testing.T) {
	env := newTestEnv(t, fake.ModeValid, Options{})
	server := httptest.NewServer(env.handler)
	defer server.Close()

	who := owner(0x06)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events?owner=" + who.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.app.Hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	req, session := env.sealFor(t, 77, who, 3, 4)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/jobs", req, "").Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var envelope notify.Envelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, score.EventName, envelope.Type)
	assert.Equal(t, uint64(77), envelope.Event.Offset)

	plain, err := session.Open(envelope.Event.Nonce, envelope.Event.EncryptedResult)
	require.NoError(t, err)
	assert.Equal(t, []uint8{7, 2}, plain[:2])
}

func TestHandlerRecentEvents(t *testing.T) {
	env := newTestEnv(t, fake.ModeValid, Options{})
	alice, bob := owner(0x0A), owner(0x0B)
	for i, who := range []score.Owner{alice, bob, alice} {
		req, _ := env.sealFor(t, uint64(100+i), who, 1)
		require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/v1/jobs", req, "").Code)
	}
	require.Eventually(t, func() bool { return env.app.Events.Count() == 3 }, 2*time.Second, 10*time.Millisecond)

	events := func(t *testing.T, query string) []score.Event {
		t.Helper()
		rec := env.do(t, http.MethodGet, "/v1/events/recent"+query, nil, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []score.Event
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	newest := events(t, "?limit=2")
	require.Len(t, newest, 2)
	assert.Equal(t, uint64(3), newest[0].Sequence)
	assert.Equal(t, uint64(2), newest[1].Sequence)

	mine := events(t, "?owner="+alice.String()+"&limit=1")
	require.Len(t, mine, 1)
	assert.Equal(t, uint64(3), mine[0].Sequence)
	assert.Equal(t, alice, mine[0].Owner)

	resumed := events(t, "?owner="+alice.String()+"&since=1")
	require.Len(t, resumed, 1)
	assert.Equal(t, uint64(3), resumed[0].Sequence)

	assert.Empty(t, events(t, "?owner="+owner(0x0C).String()))
}

func TestAuditLogLimit(t *testing.T) {
	audit := newAuditLog(2, nil)
	for i := 0; i < 5; i++ {
		audit.add(auditEntry{Path: "/v1/jobs", Status: 200 + i})
	}
	entries := audit.listLimit(0)
	require.Len(t, entries, 2)
	assert.Equal(t, 204, entries[1].Status)
	assert.Len(t, audit.listLimit(1), 1)
}
