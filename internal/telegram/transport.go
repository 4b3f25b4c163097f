package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"luxon_pay_bot/internal/flow"
)

const (
	downloadTimeout = 30 * time.Second
	// Bot API refuses files larger than 20 MB.
	maxDownloadSize = 20 << 20
)

// SendText delivers a text message and returns its id.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, kb *flow.Keyboard) (int, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}

	msg, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: replyMarkup(kb),
	})
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

// SendPhoto uploads a PNG with a caption and returns the message id.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, kb *flow.Keyboard) (int, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}

	msg, err := c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:      chatID,
		Photo:       &models.InputFileUpload{Filename: "qr.png", Data: bytes.NewReader(png)},
		Caption:     caption,
		ReplyMarkup: replyMarkup(kb),
	})
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", err)
	}
	return msg.ID, nil
}

// SendDocument uploads a file as a document.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	_, err := c.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
		Caption:  caption,
	})
	if err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// EditText replaces the text of a message. Only inline keyboards survive an
// edit.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, kb *flow.Keyboard) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	_, err := c.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: inlineMarkup(kb),
	})
	if err != nil {
		return fmt.Errorf("edit message text: %w", err)
	}
	return nil
}

// EditCaption replaces the caption of a media message.
func (c *Client) EditCaption(ctx context.Context, chatID int64, messageID int, caption string, kb *flow.Keyboard) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	_, err := c.bot.EditMessageCaption(ctx, &bot.EditMessageCaptionParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Caption:     caption,
		ReplyMarkup: inlineMarkup(kb),
	})
	if err != nil {
		return fmt.Errorf("edit message caption: %w", err)
	}
	return nil
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	if _, err := c.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Download fetches the content of a file sent by a user.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if fileID == "" {
		return nil, errors.New("file id is required")
	}

	file, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDownloadSize)
	}
	return data, nil
}

// AnswerCallback acknowledges a callback query, optionally with a notice.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	_, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

// IsChatAdmin reports whether the user owns or administers the chat.
func (c *Client) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := c.ready(ctx); err != nil {
		return false, err
	}

	member, err := c.bot.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return false, fmt.Errorf("get chat member: %w", err)
	}
	return IsAdminMember(*member), nil
}

// IsAdminMember reports whether the member status grants admin rights.
func IsAdminMember(member models.ChatMember) bool {
	switch member.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator:
		return true
	default:
		return false
	}
}

func (c *Client) ready(ctx context.Context) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}

func replyMarkup(kb *flow.Keyboard) models.ReplyMarkup {
	switch {
	case kb == nil:
		return nil
	case kb.Remove:
		return &models.ReplyKeyboardRemove{RemoveKeyboard: true}
	case len(kb.Inline) > 0:
		return inlineMarkup(kb)
	case len(kb.Reply) > 0:
		rows := make([][]models.KeyboardButton, 0, len(kb.Reply))
		for _, row := range kb.Reply {
			buttons := make([]models.KeyboardButton, 0, len(row))
			for _, text := range row {
				buttons = append(buttons, models.KeyboardButton{Text: text})
			}
			rows = append(rows, buttons)
		}
		return &models.ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true}
	default:
		return nil
	}
}

func inlineMarkup(kb *flow.Keyboard) models.ReplyMarkup {
	if kb == nil || len(kb.Inline) == 0 {
		return nil
	}

	rows := make([][]models.InlineKeyboardButton, 0, len(kb.Inline))
	for _, row := range kb.Inline {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := models.InlineKeyboardButton{Text: b.Text}
			switch {
			case b.WebApp != "":
				btn.WebApp = &models.WebAppInfo{URL: b.WebApp}
			case b.URL != "":
				btn.URL = b.URL
			default:
				btn.CallbackData = b.Data
			}
			buttons = append(buttons, btn)
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

var _ flow.Transport = (*Client)(nil)
