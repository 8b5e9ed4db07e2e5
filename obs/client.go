package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// https://github.com/obsproject/obs-websocket/blob/master/docs/generated/protocol.md
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7

	subprotocol = "obswebsocket.json"
	rpcVersion  = 1

	maxMessageSize = 1024 * 1024 // 1MB
)

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type (
	hello struct {
		OBSWebSocketVersion string         `json:"obsWebSocketVersion"`
		RPCVersion          int            `json:"rpcVersion"`
		Authentication      *authChallenge `json:"authentication,omitempty"`
	}

	authChallenge struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	}

	identify struct {
		RPCVersion         int    `json:"rpcVersion"`
		Authentication     string `json:"authentication,omitempty"`
		EventSubscriptions int    `json:"eventSubscriptions"`
	}

	identified struct {
		NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
	}
)

type (
	request struct {
		RequestType string `json:"requestType"`
		RequestID   string `json:"requestId"`
		RequestData any    `json:"requestData,omitempty"`
	}

	requestResponse struct {
		RequestType   string          `json:"requestType"`
		RequestID     string          `json:"requestId"`
		RequestStatus requestStatus   `json:"requestStatus"`
		ResponseData  json.RawMessage `json:"responseData,omitempty"`
	}

	requestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	}
)

// Client is an identified obs-websocket v5 connection.
// Events are not subscribed, the connection only carries requests.
type Client struct {
	logger zerolog.Logger
	ws     *websocket.Conn

	m       *sync.Mutex
	pending map[string]chan requestResponse

	done     chan struct{}
	doneOnce *sync.Once
	err      error
}

// Dial connects to address and completes the Hello/Identify handshake.
// password may be empty when OBS has authentication disabled.
func Dial(ctx context.Context, logger zerolog.Logger, httpClient *http.Client, address, password string) (*Client, error) {
	ws, _, err := websocket.Dial(ctx, address, &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}

	ws.SetReadLimit(maxMessageSize)

	if err := handshake(ctx, ws, password); err != nil {
		ws.CloseNow()
		return nil, err
	}

	c := &Client{
		logger:   logger,
		ws:       ws,
		m:        &sync.Mutex{},
		pending:  map[string]chan requestResponse{},
		done:     make(chan struct{}),
		doneOnce: &sync.Once{},
	}

	go c.readLoop()

	return c, nil
}

func handshake(ctx context.Context, ws *websocket.Conn, password string) error {
	var h hello
	if err := readOp(ctx, ws, opHello, &h); err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}

	ident := identify{
		RPCVersion: rpcVersion,
	}

	if h.Authentication != nil {
		ident.Authentication = authResponse(password, h.Authentication.Salt, h.Authentication.Challenge)
	}

	if err := writeOp(ctx, ws, opIdentify, ident); err != nil {
		return fmt.Errorf("failed to send identify: %w", err)
	}

	var ack identified
	if err := readOp(ctx, ws, opIdentified, &ack); err != nil {
		return fmt.Errorf("failed to identify: %w", err)
	}

	return nil
}

// authResponse computes base64(sha256(base64(sha256(password + salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])

	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func readOp(ctx context.Context, ws *websocket.Conn, op int, into any) error {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return err
	}

	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}

	if msg.Op != op {
		return fmt.Errorf("expected op %d, got %d", op, msg.Op)
	}

	return json.Unmarshal(msg.D, into)
}

func writeOp(ctx context.Context, ws *websocket.Conn, op int, d any) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}

	data, err := json.Marshal(message{Op: op, D: payload})
	if err != nil {
		return err
	}

	return ws.Write(ctx, websocket.MessageText, data)
}

// Call sends a request and waits for the matching response.
// A response with a failed request status is returned as *RequestError.
func (c *Client) Call(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	id := uuid.NewString()
	respCh := make(chan requestResponse, 1)

	c.m.Lock()
	c.pending[id] = respCh
	c.m.Unlock()

	defer func() {
		c.m.Lock()
		delete(c.pending, id)
		c.m.Unlock()
	}()

	err := writeOp(ctx, c.ws, opRequest, request{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", requestType, err)
	}

	select {
	case resp := <-respCh:
		if !resp.RequestStatus.Result {
			return nil, &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		return resp.ResponseData, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed while waiting for %s: %w", requestType, c.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "closing")
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.doneOnce.Do(func() {
				c.err = err
				close(c.done)
			})
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed obs message")
			continue
		}

		if msg.Op != opRequestResponse {
			continue
		}

		var resp requestResponse
		if err := json.Unmarshal(msg.D, &resp); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed obs request response")
			continue
		}

		c.m.Lock()
		respCh, ok := c.pending[resp.RequestID]
		c.m.Unlock()

		if ok {
			respCh <- resp
		}
	}
}
