// Package bridge implements the MessagingBridge capability (spec §6):
// a JSON-RPC 2.0 client speaking newline-delimited JSON over a spawned
// helper process's stdin/stdout. No example in the retrieval pack
// implements JSON-RPC over stdio; this is built from stdlib
// encoding/json + os/exec, following the teacher's general pattern of
// isolating an external dependency behind a narrow interface
// (internal/providers.LLMProvider in the teacher repo is the closest
// analog).
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
)

// request is one outgoing JSON-RPC 2.0 call.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// response is one incoming JSON-RPC 2.0 reply or notification. Requests
// carry a non-empty ID; notifications from the bridge (message,
// connection, qr) carry method+params instead.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("bridge rpc error %d: %s", e.Code, e.Message)
}

// NotificationHandler is invoked for each bridge-initiated notification
// (message/connection/qr), on the reader goroutine. Handlers must not
// block.
type NotificationHandler func(method string, params json.RawMessage)

// Bridge manages one spawned helper process and its JSON-RPC session.
type Bridge struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu      sync.Mutex
	pending map[string]chan response

	onNotify NotificationHandler

	writeMu sync.Mutex
}

// Start spawns the helper binary and begins reading its stdout on a
// dedicated goroutine. Notifications are passed straight to onNotify on
// that goroutine; there is no queue between the reader and the handler.
func Start(ctx context.Context, binary string, args []string, onNotify NotificationHandler) (*Bridge, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: starting helper: %w", err)
	}

	b := &Bridge{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		pending:  make(map[string]chan response),
		onNotify: onNotify,
	}
	go b.readLoop()
	return b, nil
}

func (b *Bridge) readLoop() {
	scanner := bufio.NewScanner(b.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Method != "" {
			if b.onNotify != nil {
				b.onNotify(resp.Method, resp.Params)
			}
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call sends a request and blocks for the matching response, or until
// ctx is done.
func (b *Bridge) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan response, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: encoding request: %w", err)
	}
	encoded = append(encoded, '\n')

	b.writeMu.Lock()
	_, writeErr := b.stdin.Write(encoded)
	b.writeMu.Unlock()
	if writeErr != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("bridge: writing request: %w", writeErr)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Init sends the init handshake (spec §6).
func (b *Bridge) Init(ctx context.Context, authDir string, printQR bool) error {
	_, err := b.call(ctx, "init", map[string]interface{}{"auth_dir": authDir, "print_qr": printQR})
	return err
}

// SendMessage implements channel.Transport.
func (b *Bridge) SendMessage(ctx context.Context, to, text string) (string, error) {
	raw, err := b.call(ctx, "sendMessage", map[string]interface{}{"to": to, "text": text})
	if err != nil {
		return "", err
	}
	var out struct {
		MessageID string `json:"message_id"`
	}
	_ = json.Unmarshal(raw, &out)
	return out.MessageID, nil
}

// SendMedia implements channel.Transport.
func (b *Bridge) SendMedia(ctx context.Context, to, mediaPath, caption string) (string, error) {
	raw, err := b.call(ctx, "sendMedia", map[string]interface{}{"to": to, "mediaPath": mediaPath, "caption": caption})
	if err != nil {
		return "", err
	}
	var out struct {
		MessageID string `json:"message_id"`
	}
	_ = json.Unmarshal(raw, &out)
	return out.MessageID, nil
}

func (b *Bridge) SendReaction(ctx context.Context, chatJID, messageID, emoji string) error {
	_, err := b.call(ctx, "sendReaction", map[string]interface{}{"chatJid": chatJID, "messageId": messageID, "emoji": emoji})
	return err
}

func (b *Bridge) SendPoll(ctx context.Context, to string, poll interface{}) error {
	_, err := b.call(ctx, "sendPoll", map[string]interface{}{"to": to, "poll": poll})
	return err
}

func (b *Bridge) MarkRead(ctx context.Context, messages []string) error {
	_, err := b.call(ctx, "markRead", map[string]interface{}{"messages": messages})
	return err
}

func (b *Bridge) SendPresence(ctx context.Context, presence, toJID string) error {
	_, err := b.call(ctx, "sendPresence", map[string]interface{}{"presence": presence, "toJid": toJID})
	return err
}

func (b *Bridge) GetContactInfo(ctx context.Context, jid string) (json.RawMessage, error) {
	return b.call(ctx, "getContactInfo", map[string]interface{}{"jid": jid})
}

func (b *Bridge) GetGroupMetadata(ctx context.Context, jid string) (json.RawMessage, error) {
	return b.call(ctx, "getGroupMetadata", map[string]interface{}{"jid": jid})
}

// Disconnect tells the bridge to close the underlying network connection
// and waits for the helper process to exit.
func (b *Bridge) Disconnect(ctx context.Context) error {
	_, err := b.call(ctx, "disconnect", nil)
	_ = b.stdin.Close()
	_ = b.cmd.Wait()
	return err
}
