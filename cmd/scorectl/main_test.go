package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/sealed_scores/internal/app"
	"github.com/R3E-Network/sealed_scores/internal/app/cluster/fake"
	"github.com/R3E-Network/sealed_scores/internal/app/domain/score"
	"github.com/R3E-Network/sealed_scores/internal/app/httpapi"
	"github.com/R3E-Network/sealed_scores/pkg/testutil"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := testutil.QuietLogger("scorectl-test")

	c, err := fake.New(fake.Options{ClusterID: "cli-cluster", Log: log})
	require.NoError(t, err)
	application, err := app.New(app.Stores{}, app.Options{Cluster: c, WebSocket: true}, log)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	server := httptest.NewServer(httpapi.NewHandler(application, httpapi.Options{Log: log}))
	t.Cleanup(func() {
		server.Close()
		_ = application.Stop(context.Background())
	})
	return server
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestSubmitResultWatch(t *testing.T) {
	server := newServer(t)
	keyPath := filepath.Join(t.TempDir(), "key.json")
	common := []string{"--server", server.URL, "--key", keyPath}

	_, err := run(t, append([]string{"keygen"}, common...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"keygen"}, common...)...)
	require.Error(t, err, "keygen must not overwrite silently")

	out, err := run(t, append([]string{"submit", "--offset", "7", "10", "20", "30"}, common...)...)
	require.NoError(t, err)
	var job score.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, uint64(7), job.Offset)

	var res decrypted
	require.Eventually(t, func() bool {
		out, err := run(t, append([]string{"result"}, common...)...)
		if err != nil {
			return false
		}
		return json.Unmarshal([]byte(out), &res) == nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint8(60), res.Sum)
	assert.Equal(t, uint8(3), res.Count)

	out, err = run(t, append([]string{"job", "7"}, common...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, score.StatusCompleted, job.Status)

	out, err = run(t, append([]string{"watch", "--since", "0", "--count", "1"}, common...)...)
	require.NoError(t, err)
	var evt decrypted
	require.NoError(t, json.Unmarshal([]byte(out), &evt))
	assert.Equal(t, uint64(7), evt.Offset)
	assert.Equal(t, uint8(60), evt.Sum)
}

func TestSubmitValidatesArgs(t *testing.T) {
	_, err := run(t, "submit", "--offset", "1", "256")
	require.Error(t, err)
	_, err = run(t, "submit", "--offset", "1", "1", "2", "3", "4", "5", "6", "7", "8", "9")
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	owner := score.Owner{1}
	out, err := run(t, "token", "--secret", "s3cret", owner.String())
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = run(t, "token", "--secret", "", owner.String())
	require.Error(t, err)
}

func TestEventsURL(t *testing.T) {
	owner := score.Owner{0xAA}
	got, err := eventsURL("https://scores.example/api/", owner, 4, true)
	require.NoError(t, err)
	assert.Equal(t, "wss://scores.example/api/v1/events?owner="+owner.String()+"&since=4", got)

	got, err = eventsURL("http://localhost:8080", owner, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/events?owner="+owner.String(), got)
}
