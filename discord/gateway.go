package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Gateway intents the bot subscribes to.
const (
	IntentGuilds          = 1 << 0
	IntentGuildMessages   = 1 << 9
	IntentDirectMessages  = 1 << 12
	IntentMessageContent  = 1 << 15
	DefaultIntents        = IntentGuilds | IntentGuildMessages | IntentDirectMessages | IntentMessageContent
	defaultGatewayURL     = "wss://gateway.discord.gg/?v=10&encoding=json"
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = time.Minute
)

// EventHandlers receives dispatched gateway events. Nil handlers are skipped.
type EventHandlers struct {
	Ready             func(botUser User)
	InteractionCreate func(i Interaction)
	MessageCreate     func(m Message)
	MessageDelete     func(channelID, messageID, guildID string)
}

// Gateway holds one identify session against the Discord gateway and
// redials with backoff until the context is cancelled.
type Gateway struct {
	Token    string
	Intents  int
	URL      string
	Handlers EventHandlers

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	resumeURL string
	sequence  int64
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Run connects and processes events until ctx is cancelled. Connection
// failures and server-initiated reconnects redial with capped backoff.
func (g *Gateway) Run(ctx context.Context) error {
	delay := reconnectInitialDelay
	for {
		err := g.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("gateway session ended, reconnecting",
			slog.Any("err", err),
			slog.Duration("delay", delay),
			slog.String("component", "gateway"))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (g *Gateway) dialURL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumeURL != "" && g.sessionID != "" {
		return g.resumeURL
	}
	if g.URL != "" {
		return g.URL
	}
	return defaultGatewayURL
}

// session runs one websocket connection to completion.
func (g *Gateway) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer conn.Close()

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var heartbeatStop chan struct{}
	defer func() {
		if heartbeatStop != nil {
			close(heartbeatStop)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read gateway frame: %w", err)
		}
		var p gatewayPayload
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Warn("malformed gateway payload", slog.Any("err", err), slog.String("component", "gateway"))
			continue
		}
		if p.S != 0 {
			g.mu.Lock()
			g.sequence = p.S
			g.mu.Unlock()
		}

		switch p.Op {
		case opHello:
			var hello struct {
				HeartbeatInterval int `json:"heartbeat_interval"`
			}
			if err := json.Unmarshal(p.D, &hello); err != nil {
				return fmt.Errorf("decode hello: %w", err)
			}
			heartbeatStop = make(chan struct{})
			go g.heartbeatLoop(conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond, heartbeatStop)
			if err := g.identifyOrResume(conn); err != nil {
				return err
			}
		case opHeartbeat:
			g.sendHeartbeat(conn)
		case opHeartbeatACK:
			// nothing to do
		case opReconnect:
			return fmt.Errorf("server requested reconnect")
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(p.D, &resumable)
			if !resumable {
				g.mu.Lock()
				g.sessionID = ""
				g.resumeURL = ""
				g.mu.Unlock()
			}
			return fmt.Errorf("invalid session (resumable=%v)", resumable)
		case opDispatch:
			g.dispatch(p.T, p.D)
		}
	}
}

func (g *Gateway) identifyOrResume(conn *websocket.Conn) error {
	g.mu.Lock()
	sessionID, sequence := g.sessionID, g.sequence
	g.mu.Unlock()

	if sessionID != "" {
		return conn.WriteJSON(map[string]any{
			"op": opResume,
			"d": map[string]any{
				"token":      g.Token,
				"session_id": sessionID,
				"seq":        sequence,
			},
		})
	}

	intents := g.Intents
	if intents == 0 {
		intents = DefaultIntents
	}
	return conn.WriteJSON(map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   g.Token,
			"intents": intents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "yapper",
				"device":  "yapper",
			},
		},
	})
}

func (g *Gateway) heartbeatLoop(conn *websocket.Conn, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.sendHeartbeat(conn)
		}
	}
}

func (g *Gateway) sendHeartbeat(conn *websocket.Conn) {
	g.mu.Lock()
	seq := g.sequence
	g.mu.Unlock()
	var d any
	if seq != 0 {
		d = seq
	}
	if err := conn.WriteJSON(map[string]any{"op": opHeartbeat, "d": d}); err != nil {
		slog.Warn("failed to send heartbeat", slog.Any("err", err), slog.String("component", "gateway"))
	}
}

func (g *Gateway) dispatch(event string, data json.RawMessage) {
	switch event {
	case "READY":
		var ready struct {
			SessionID        string `json:"session_id"`
			ResumeGatewayURL string `json:"resume_gateway_url"`
			User             User   `json:"user"`
		}
		if err := json.Unmarshal(data, &ready); err != nil {
			slog.Warn("malformed READY", slog.Any("err", err), slog.String("component", "gateway"))
			return
		}
		g.mu.Lock()
		g.sessionID = ready.SessionID
		if ready.ResumeGatewayURL != "" {
			g.resumeURL = ready.ResumeGatewayURL + "?v=10&encoding=json"
		}
		g.mu.Unlock()
		slog.Info("gateway ready",
			slog.String("user", ready.User.Username),
			slog.String("component", "gateway"))
		if g.Handlers.Ready != nil {
			g.Handlers.Ready(ready.User)
		}
	case "RESUMED":
		slog.Info("gateway session resumed", slog.String("component", "gateway"))
	case "INTERACTION_CREATE":
		var i Interaction
		if err := json.Unmarshal(data, &i); err != nil {
			slog.Warn("malformed INTERACTION_CREATE", slog.Any("err", err), slog.String("component", "gateway"))
			return
		}
		if g.Handlers.InteractionCreate != nil {
			go g.Handlers.InteractionCreate(i)
		}
	case "MESSAGE_CREATE":
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("malformed MESSAGE_CREATE", slog.Any("err", err), slog.String("component", "gateway"))
			return
		}
		if g.Handlers.MessageCreate != nil {
			go g.Handlers.MessageCreate(m)
		}
	case "MESSAGE_DELETE":
		var del struct {
			ID        string `json:"id"`
			ChannelID string `json:"channel_id"`
			GuildID   string `json:"guild_id"`
		}
		if err := json.Unmarshal(data, &del); err != nil {
			slog.Warn("malformed MESSAGE_DELETE", slog.Any("err", err), slog.String("component", "gateway"))
			return
		}
		if g.Handlers.MessageDelete != nil {
			go g.Handlers.MessageDelete(del.ChannelID, del.ID, del.GuildID)
		}
	}
}
