package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DefaultBaseURL is the production REST endpoint.
const DefaultBaseURL = "https://discord.com/api/v10"

// Client issues REST calls with a bot token. BaseURL and HTTPClient are
// overridable so tests can point at an httptest server.
type Client struct {
	Token         string
	ApplicationID string
	BaseURL       string
	HTTPClient    *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultBaseURL
}

// do issues one request and decodes the response into out when non-nil.
// Non-2xx responses become *APIError carrying Discord's JSON error code.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, reader)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bot "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateInteractionResponse posts the initial callback for an interaction.
func (c *Client) CreateInteractionResponse(ctx context.Context, interactionID, token string, resp InteractionResponse) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token), resp, nil)
}

// GetOriginalResponse fetches the message created by the initial callback.
func (c *Client) GetOriginalResponse(ctx context.Context, token string) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/webhooks/%s/%s/messages/@original", c.ApplicationID, token), nil, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditOriginalResponse edits the message created by the initial callback.
func (c *Client) EditOriginalResponse(ctx context.Context, token string, body MessageCreate) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/webhooks/%s/%s/messages/@original", c.ApplicationID, token), body, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateFollowUp posts a follow-up message on an interaction token.
func (c *Client) CreateFollowUp(ctx context.Context, token string, body MessageCreate) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/webhooks/%s/%s", c.ApplicationID, token), body, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, body MessageCreate) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages", channelID), body, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage edits a channel message in place.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, body MessageCreate) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), body, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessage fetches one message.
func (c *Client) GetMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	var msg Message
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), nil, nil)
}

// StartThreadFromMessage starts a thread anchored on a message.
func (c *Client) StartThreadFromMessage(ctx context.Context, channelID, messageID string, body ThreadCreate) (*Channel, error) {
	var ch Channel
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages/%s/threads", channelID, messageID), body, &ch)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// EditChannel patches mutable channel fields; used to archive and lock threads.
func (c *Client) EditChannel(ctx context.Context, channelID string, body ChannelEdit) (*Channel, error) {
	var ch Channel
	err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%s", channelID), body, &ch)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// DeleteChannel deletes a channel or thread.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s", channelID), nil, nil)
}

// GetGuild fetches guild metadata; used for owner checks.
func (c *Client) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s", guildID), nil, &g)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGuildMember fetches a guild member.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	var m Member
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), nil, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// BulkOverwriteGlobalCommands replaces all global application commands.
func (c *Client) BulkOverwriteGlobalCommands(ctx context.Context, cmds []ApplicationCommand) ([]ApplicationCommand, error) {
	var out []ApplicationCommand
	err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/applications/%s/commands", c.ApplicationID), cmds, &out)
	return out, err
}

// BulkOverwriteGuildCommands replaces all commands in one guild; used for
// fast iteration against a development guild.
func (c *Client) BulkOverwriteGuildCommands(ctx context.Context, guildID string, cmds []ApplicationCommand) ([]ApplicationCommand, error) {
	var out []ApplicationCommand
	err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/applications/%s/guilds/%s/commands", c.ApplicationID, guildID), cmds, &out)
	return out, err
}

// DeleteGlobalCommand removes one registered global command. Called when a
// registered command arrives that the bot no longer knows.
func (c *Client) DeleteGlobalCommand(ctx context.Context, commandID string) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/applications/%s/commands/%s", c.ApplicationID, commandID), nil, nil)
}

// ListGlobalCommands returns the currently registered global commands.
func (c *Client) ListGlobalCommands(ctx context.Context) ([]ApplicationCommand, error) {
	var out []ApplicationCommand
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/applications/%s/commands", c.ApplicationID), nil, &out)
	return out, err
}
