package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBridge(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api":
			_, _ = io.WriteString(w, `[{"success":{"username":"fresh-key","clientkey":"CAFE"}}]`)
		case r.Method == http.MethodGet && r.URL.Path == "/clip/v2/resource/light":
			if r.Header.Get("hue-application-key") != "k" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = io.WriteString(w, `{"errors":[{"description":"unauthorized user"}],"data":[]}`)
				return
			}
			_, _ = io.WriteString(w, `{"errors":[],"data":[{"id":"abc","metadata":{"name":"Studio"}}]}`)
		default:
			_, _ = io.WriteString(w, `{"errors":[],"data":[]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(clockwork.NewFakeClock())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func bridgeArg(srv *httptest.Server) string {
	return "--bridge=" + strings.TrimPrefix(srv.URL, "https://")
}

func TestPair(t *testing.T) {
	srv := fakeBridge(t)

	out, err := run(t, "pair", bridgeArg(srv), "--insecure=true")
	require.NoError(t, err)
	assert.Contains(t, out, "HUE_APPKEY=fresh-key")
	assert.Contains(t, out, "HUE_CLIENTKEY=CAFE")
}

func TestPair_RequiresBridge(t *testing.T) {
	t.Setenv("HUE_BRIDGE_IP", "")

	_, err := run(t, "pair")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HUE_BRIDGE_IP")
}

func TestLights(t *testing.T) {
	srv := fakeBridge(t)

	out, err := run(t, "lights", bridgeArg(srv), "--app-key=k")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "Studio")
}

func TestLights_BadKey(t *testing.T) {
	srv := fakeBridge(t)

	_, err := run(t, "lights", bridgeArg(srv), "--app-key=wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized user")
}

func TestLights_RequiresAppKey(t *testing.T) {
	t.Setenv("HUE_APPKEY", "")
	srv := fakeBridge(t)

	_, err := run(t, "lights", bridgeArg(srv), "--app-key=")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "huectl pair")
}

func TestEffect_None(t *testing.T) {
	srv := fakeBridge(t)

	out, err := run(t, "effect", "none", bridgeArg(srv), "--app-key=k")
	require.NoError(t, err)
	assert.Contains(t, out, "Playing none on 1 lights")
}

func TestEffect_Unknown(t *testing.T) {
	srv := fakeBridge(t)

	_, err := run(t, "effect", "disco", bridgeArg(srv), "--app-key=k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown effect")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}
