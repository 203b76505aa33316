package transcription

import (
	"context"
	"fmt"

	"github.com/polarhq/yapper-backend/db"
	"github.com/polarhq/yapper-backend/discord"
	"github.com/polarhq/yapper-backend/lang"
)

// speakerPrefix opens every delivered chunk.
const speakerPrefix = "🗣️ "

const threadNameLimit = 100

// MessageAPI is the slice of the Discord client that delivery needs.
// *discord.Client satisfies it; tests substitute a fake.
type MessageAPI interface {
	EditOriginalResponse(ctx context.Context, token string, body discord.MessageCreate) (*discord.Message, error)
	CreateMessage(ctx context.Context, channelID string, body discord.MessageCreate) (*discord.Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, body discord.MessageCreate) (*discord.Message, error)
	GetMessage(ctx context.Context, channelID, messageID string) (*discord.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	StartThreadFromMessage(ctx context.Context, channelID, messageID string, body discord.ThreadCreate) (*discord.Channel, error)
	EditChannel(ctx context.Context, channelID string, body discord.ChannelEdit) (*discord.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// deliverOptions tunes a single delivery.
type deliverOptions struct {
	// escalating annotates the result as degraded with a better one on the way.
	escalating bool
	// existingThreadID reuses (and unarchives) a previous delivery's thread.
	existingThreadID string
}

// deliverer writes a transcript back to Discord: first chunk edits the
// placeholder, overflow chunks go into a thread on the response message,
// the final chunk carries the source deep link button.
type deliverer struct {
	api        MessageAPI
	translator *lang.Translator
	charLimit  int
}

func newDeliverer(api MessageAPI, translator *lang.Translator, charLimit int) *deliverer {
	return &deliverer{api: api, translator: translator, charLimit: charLimit}
}

func (d *deliverer) linkButton(job *db.Job) discord.Component {
	return discord.ActionRow(discord.Component{
		Type:  discord.ComponentTypeButton,
		Style: discord.ButtonStyleLink,
		URL:   discord.MessageLink(job.GuildID, job.ChannelID, job.InitialMessageID),
		Label: d.translator.Get("TRANSCRIBED_MESSAGE_BUTTON_LABEL"),
	})
}

// editPlaceholder rewrites the message that showed the transcribing notice.
func (d *deliverer) editPlaceholder(ctx context.Context, job *db.Job, body discord.MessageCreate) error {
	if job.InteractionToken != "" {
		_, err := d.api.EditOriginalResponse(ctx, job.InteractionToken, body)
		return err
	}
	_, err := d.api.EditMessage(ctx, job.ChannelID, job.ResponseMessageID, body)
	return err
}

// threadName derives the thread title from the transcript.
func threadName(transcript string) string {
	runes := []rune(transcript)
	if len(runes) <= threadNameLimit {
		return transcript
	}
	return string(runes[:threadNameLimit-3]) + "..."
}

// ensureThread starts a thread on the response message, reusing the existing
// one when Discord reports a thread already there.
func (d *deliverer) ensureThread(ctx context.Context, job *db.Job, transcript string) (string, error) {
	thread, err := d.api.StartThreadFromMessage(ctx, job.ChannelID, job.ResponseMessageID,
		discord.ThreadCreate{Name: threadName(transcript)})
	if err == nil {
		return thread.ID, nil
	}
	if discord.IsAPIErrorCode(err, discord.ErrCodeThreadExists) {
		msg, getErr := d.api.GetMessage(ctx, job.ChannelID, job.ResponseMessageID)
		if getErr != nil {
			return "", fmt.Errorf("fetch response message for existing thread: %w", getErr)
		}
		if msg.Thread == nil {
			return "", fmt.Errorf("thread reported existing but absent on message %s", job.ResponseMessageID)
		}
		return msg.Thread.ID, nil
	}
	return "", fmt.Errorf("start thread: %w", err)
}

// deliver writes the transcript and returns the thread id used, or "" when
// everything fit in the placeholder.
func (d *deliverer) deliver(ctx context.Context, job *db.Job, transcript string, opts deliverOptions) (string, error) {
	note := ""
	if opts.escalating {
		note = "\n\n" + d.translator.Get("HIGHER_QUALITY_NOTE")
	}

	// The note rides on the chunk that closes the delivery, so every chunk
	// budget must leave room for it or a near-full final chunk overflows.
	chunks, err := Split(transcript, d.charLimit-len([]rune(note)))
	if err != nil {
		return "", err
	}

	first := speakerPrefix + chunks[0]
	if len(chunks) == 1 {
		if err := d.editPlaceholder(ctx, job, discord.MessageCreate{
			Content:    first + note,
			Components: []discord.Component{d.linkButton(job)},
		}); err != nil {
			return "", fmt.Errorf("edit placeholder: %w", err)
		}
		return "", nil
	}

	threadID := opts.existingThreadID
	if threadID != "" {
		// Reopen the archived thread from the previous delivery.
		no := false
		if _, err := d.api.EditChannel(ctx, threadID, discord.ChannelEdit{Archived: &no, Locked: &no}); err != nil {
			return "", fmt.Errorf("unarchive thread: %w", err)
		}
	} else {
		if threadID, err = d.ensureThread(ctx, job, transcript); err != nil {
			return "", err
		}
	}

	if err := d.editPlaceholder(ctx, job, discord.MessageCreate{Content: first}); err != nil {
		return "", fmt.Errorf("edit placeholder: %w", err)
	}

	for i, chunk := range chunks[1:] {
		last := i == len(chunks)-2
		body := discord.MessageCreate{Content: speakerPrefix + chunk}
		if last {
			body.Content += note
			body.Components = []discord.Component{d.linkButton(job)}
		}
		if _, err := d.api.CreateMessage(ctx, threadID, body); err != nil {
			return "", fmt.Errorf("post thread chunk %d: %w", i+1, err)
		}
	}
	return threadID, nil
}

// deliverFailure rewrites the placeholder with the failure notice and a
// retry button keyed to the source message.
func (d *deliverer) deliverFailure(ctx context.Context, job *db.Job) error {
	return d.editPlaceholder(ctx, job, discord.MessageCreate{
		Content: d.translator.Get("TRANSCRIPTION_FAILED"),
		Components: []discord.Component{discord.ActionRow(discord.Component{
			Type:     discord.ComponentTypeButton,
			Style:    discord.ButtonStyleSecondary,
			CustomID: "retry." + job.InitialMessageID,
			Label:    d.translator.Get("RETRY_BUTTON_LABEL"),
		})},
	})
}

// archiveThread archives and locks a delivery thread, ignoring thread-locked
// replays.
func (d *deliverer) archiveThread(ctx context.Context, threadID string) error {
	yes := true
	_, err := d.api.EditChannel(ctx, threadID, discord.ChannelEdit{Archived: &yes, Locked: &yes})
	if err != nil && discord.IsAPIErrorCode(err, discord.ErrCodeThreadLocked) {
		return nil
	}
	return err
}
