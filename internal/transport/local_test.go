package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/transport"
)

func TestStartLocal_RunsShell(t *testing.T) {
	req := model.ConnectRequest{Kind: model.TransportLocal, Shell: "/bin/sh", Rows: 24, Cols: 80}

	tr, err := transport.StartLocal(req, transport.LocalOptions{})
	require.NoError(t, err)

	writeAll(t, tr, "echo bridged-$((40+2))\n")
	readUntil(t, tr, "bridged-42")

	assert.NoError(t, tr.Resize(40, 120))

	writeAll(t, tr, "exit\n")
	require.Eventually(t, func() bool {
		_, _ = tr.Read(make([]byte, 4096))
		return tr.EOF()
	}, 3*time.Second, 10*time.Millisecond)

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.WaitClosed())
}

func TestStartLocal_CloseWithPartialLine(t *testing.T) {
	req := model.ConnectRequest{Kind: model.TransportLocal, Shell: "/bin/sh", Rows: 24, Cols: 80}

	tr, err := transport.StartLocal(req, transport.LocalOptions{CloseTimeout: 10 * time.Second})
	require.NoError(t, err)

	proc, ok := tr.(transport.Process)
	require.True(t, ok)
	assert.Positive(t, proc.PID())

	// Ctrl-D does not end a shell with a half-typed line.
	writeAll(t, tr, "echo unfinished")
	_ = tr.CloseWrite()

	start := time.Now()
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.WaitClosed())
	assert.Less(t, time.Since(start), 5*time.Second, "close hangs up instead of waiting out the timeout")
}

func TestStartLocal_MissingShell(t *testing.T) {
	req := model.ConnectRequest{Kind: model.TransportLocal, Shell: "/nonexistent/shell"}

	_, err := transport.StartLocal(req, transport.LocalOptions{})
	se, ok := model.IsSetupError(err)
	require.True(t, ok, "expected SetupError, got %v", err)
	assert.Equal(t, model.StepSpawn, se.Step)
}
