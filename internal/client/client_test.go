package client

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dgellow/mcp-local/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainStderr_ReadsEverything(t *testing.T) {
	r, w := io.Pipe()
	written := make(chan error, 1)
	go func() {
		// a line longer than the scanner allows, then ordinary lines
		_, err := io.WriteString(w, strings.Repeat("x", 2*maxStderrLine)+"\n")
		if err == nil {
			_, err = io.WriteString(w, strings.Repeat("log line\n", 10000))
		}
		written <- err
		w.Close()
	}()

	done := make(chan struct{})
	go func() {
		drainStderr("noisy", r)
		close(done)
	}()

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("writer blocked on a full stderr pipe")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drainStderr did not return after the pipe closed")
	}
}

func TestClient_CloseKillsUnresponsiveServer(t *testing.T) {
	c, err := NewMCPClient(&config.ServerSpec{Name: "mute", Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(closeGrace + 5*time.Second):
		t.Fatal("Close waited for a server that ignores stdin")
	}
}

func TestNewMCPClient_RequiresCommand(t *testing.T) {
	_, err := NewMCPClient(&config.ServerSpec{Name: "empty"})
	assert.Error(t, err)
}
