package httpserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOverlay(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})

	rec := doRequest(srv, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "new EventSource('/events')")
	assert.Regexp(t, `const displayDuration =\s*10000\s*;`, body)
	assert.NotContains(t, body, `id="countdown"`)
}

func TestHandleOverlay_ShowTimer(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})

	rec := doRequest(srv, http.MethodGet, "/?show_timer=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `id="countdown"`)
	assert.Contains(t, body, "startCountdown(30")
}

func TestHandleOverlay_InvalidShowTimerMeansNoTimer(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})

	rec := doRequest(srv, http.MethodGet, "/?show_timer=maybe", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `id="countdown"`)
}

func TestOverlayStreamsAreRouted(t *testing.T) {
	srv := newTestServer(t, nil, Deps{})

	rec := doRequest(srv, http.MethodGet, "/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, ": connected\n\n", rec.Body.String())

	rec = doRequest(srv, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}
