package telegram

import (
	"context"

	"remindline/internal/domain"
	"remindline/internal/files"
)

// Channel delivers reminders through the Bot API. Attachment bytes are read
// from the file store.
type Channel struct {
	*Client
	Files files.Store
}

func NewChannel(client *Client, store files.Store) Channel {
	return Channel{Client: client, Files: store}
}

func (c Channel) Send(ctx context.Context, chatID int64, text string) error {
	return c.SendMessage(ctx, chatID, text)
}

func (c Channel) SendAttachment(ctx context.Context, chatID int64, fd domain.FileDescriptor) error {
	content, err := c.Files.Retrieve(ctx, fd.Path)
	if err != nil {
		return err
	}
	return c.SendDocument(ctx, chatID, fd.Name, content)
}
