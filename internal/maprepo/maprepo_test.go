package maprepo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/maps"
)

const duel = `name: Duel
max_players: 2
game_modes: [Battle]
`

func newTestServer(t *testing.T) (*httptest.Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	srv, err := NewServer(store, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, store
}

func TestUploadDownload(t *testing.T) {
	ts, store := newTestServer(t)
	c, err := NewClient(ts.URL+"/", ts.Client())
	require.NoError(t, err)

	hash := maps.Hash([]byte(duel))
	ctx := context.Background()

	_, err = c.Download(ctx, hash)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Upload(ctx, hash, []byte(duel)))
	rec, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "Duel", rec.Name)
	assert.Equal(t, len(duel), rec.Size)

	data, err := c.Download(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, duel, string(data))

	// uploading the same map twice is fine
	require.NoError(t, c.Upload(ctx, hash, []byte(duel)))
}

func TestUploadRejectsWrongHash(t *testing.T) {
	ts, _ := newTestServer(t)
	c, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)

	err = c.Upload(context.Background(), "ABC123", []byte(duel))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestUploadRejectsInvalidMap(t *testing.T) {
	ts, _ := newTestServer(t)
	c, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)

	junk := []byte("not: [a map")
	err = c.Upload(context.Background(), maps.Hash(junk), junk)
	require.Error(t, err)
}

func TestPlainDownloadAndRequestID(t *testing.T) {
	ts, _ := newTestServer(t)
	c, err := NewClient(ts.URL, ts.Client())
	require.NoError(t, err)
	hash := maps.Hash([]byte(duel))
	require.NoError(t, c.Upload(context.Background(), hash, []byte(duel)))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/maps/"+hash, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, duel, string(body))
}

func TestPutRequiresZstd(t *testing.T) {
	ts, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/maps/ABC", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}
