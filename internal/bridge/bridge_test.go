package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoScript is a tiny shell helper that echoes a canned sendMessage
// response for any request it reads, used to exercise the JSON-RPC
// framing without depending on a real bridge binary.
const echoScript = `
while IFS= read -r line; do
  id=$(echo "$line" | grep -o '"id":"[^"]*"' | cut -d'"' -f4)
  printf '{"jsonrpc":"2.0","id":"%s","result":{"message_id":"abc123"}}\n' "$id"
done
`

func TestSendMessageRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}

	b, err := Start(context.Background(), "bash", []string{"-c", echoScript}, nil)
	require.NoError(t, err)
	defer b.stdin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := b.SendMessage(ctx, "+15551234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestReadLoopDispatchesNotifications(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	var got string
	done := make(chan struct{})
	b := &Bridge{
		stdout:  r,
		pending: make(map[string]chan response),
		onNotify: func(method string, params json.RawMessage) {
			got = method
			close(done)
		},
	}
	go b.readLoop()

	writer := bufio.NewWriter(w)
	writer.WriteString(`{"jsonrpc":"2.0","method":"connection","params":{"type":"connected"}}` + "\n")
	writer.Flush()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not dispatched")
	}
	assert.Equal(t, "connection", got)
}
