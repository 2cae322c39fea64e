// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/pkg/errutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

func TestServer_StartServeStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", okHandler(), nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	require.NotEmpty(t, server.Addr())

	resp, err := http.Get("http://" + server.Addr() + "/") //nolint:noctx // test
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case serveErr, ok := <-errCh:
		if ok {
			assert.NoError(t, serveErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed after stop")
	}
}

func TestServer_DoubleStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", okHandler(), nil)
	_, err := server.Start()
	require.NoError(t, err)
	defer func() { _ = server.Stop(context.Background()) }()

	_, err = server.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "HTTP_ALREADY_RUNNING")
}

func TestServer_ListenFailure(t *testing.T) {
	first := NewServer("127.0.0.1:0", okHandler(), nil)
	_, err := first.Start()
	require.NoError(t, err)
	defer func() { _ = first.Stop(context.Background()) }()

	second := NewServer(first.Addr(), okHandler(), nil)
	_, err = second.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "HTTP_LISTEN_FAILED")
}

func TestServer_StopBeforeStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", okHandler(), nil).Stop(context.Background()))
}
