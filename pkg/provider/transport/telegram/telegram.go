// Package telegram provides a transport.Provider backed by the Telegram Bot
// API via github.com/go-telegram/bot. Oráculo's transport is single-chat:
// the configured AllowedChatID is the only chat events are dispatched for;
// everything else is silently ignored at the Provider boundary.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/oraculovoz/oraculo/pkg/provider/transport"
)

// Ensure Provider implements transport.Provider at compile time.
var _ transport.Provider = (*Provider)(nil)

// Provider implements transport.Provider using the Telegram Bot API.
type Provider struct {
	token         string
	allowedChatID int64
	client        *tgbot.Bot
	httpClient    *http.Client

	mu      sync.RWMutex
	handler transport.Handler
}

// New constructs a Provider for the given bot token, restricted to
// allowedChatID. token and allowedChatID must be non-zero.
func New(token string, allowedChatID int64) (*Provider, error) {
	if token == "" {
		return nil, errors.New("telegram: token must not be empty")
	}
	if allowedChatID == 0 {
		return nil, errors.New("telegram: allowedChatID must not be zero")
	}
	p := &Provider{
		token:         token,
		allowedChatID: allowedChatID,
		httpClient:    &http.Client{},
	}
	client, err := tgbot.New(token, tgbot.WithDefaultHandler(p.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("telegram: create client: %w", err)
	}
	p.client = client
	return p, nil
}

// handleUpdate translates a raw Telegram update into a transport.Event and
// dispatches it to the Handler registered via Listen, dropping updates from
// any chat other than allowedChatID.
func (p *Provider) handleUpdate(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	if handler == nil {
		return
	}

	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		chatID := int64(0)
		msgID := 0
		if cq.Message.Message != nil {
			chatID = cq.Message.Message.Chat.ID
			msgID = cq.Message.Message.ID
		}
		if chatID != p.allowedChatID {
			return
		}
		handler(ctx, transport.Event{
			Type:      transport.EventCallback,
			ChatID:    transport.ChatID(strconv.FormatInt(chatID, 10)),
			MessageID: transport.MessageID(strconv.Itoa(msgID)),
			Callback: transport.CallbackRef{
				ChatID:     transport.ChatID(strconv.FormatInt(chatID, 10)),
				MessageID:  transport.MessageID(strconv.Itoa(msgID)),
				CallbackID: transport.CallbackID(cq.ID),
				Data:       cq.Data,
			},
		})
		return
	case update.Message == nil:
		return
	}

	msg := update.Message
	if msg.Chat.ID != p.allowedChatID {
		return
	}
	chatID := transport.ChatID(strconv.FormatInt(msg.Chat.ID, 10))
	msgID := transport.MessageID(strconv.Itoa(msg.ID))

	switch {
	case msg.Voice != nil:
		handler(ctx, transport.Event{
			Type:      transport.EventVoice,
			ChatID:    chatID,
			MessageID: msgID,
			VoiceFile: transport.FileRef(msg.Voice.FileID),
		})
	case strings.HasPrefix(msg.Text, "/"):
		fields := strings.Fields(msg.Text)
		cmd := strings.TrimPrefix(fields[0], "/")
		handler(ctx, transport.Event{
			Type:        transport.EventCommand,
			ChatID:      chatID,
			MessageID:   msgID,
			Text:        cmd,
			CommandArgs: fields[1:],
		})
	case msg.Text != "":
		handler(ctx, transport.Event{
			Type:      transport.EventText,
			ChatID:    chatID,
			MessageID: msgID,
			Text:      msg.Text,
		})
	}
}

// Listen implements transport.Provider. It blocks until ctx is cancelled.
func (p *Provider) Listen(ctx context.Context, handler transport.Handler) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	p.client.Start(ctx)
	return ctx.Err()
}

func toInlineKeyboard(kb *transport.Keyboard) *models.InlineKeyboardMarkup {
	if kb == nil || len(kb.Rows) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, len(kb.Rows))
	for i, row := range kb.Rows {
		buttons := make([]models.InlineKeyboardButton, len(row))
		for j, btn := range row {
			buttons[j] = models.InlineKeyboardButton{
				Text:         btn.Text,
				CallbackData: btn.CallbackData,
			}
		}
		rows[i] = buttons
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func parseChatID(chat transport.ChatID) (int64, error) {
	return strconv.ParseInt(string(chat), 10, 64)
}

func parseMessageID(msg transport.MessageID) (int, error) {
	return strconv.Atoi(string(msg))
}

// SendText implements transport.Provider.
func (p *Provider) SendText(ctx context.Context, chat transport.ChatID, text string, keyboard *transport.Keyboard) (transport.MessageRef, error) {
	chatID, err := parseChatID(chat)
	if err != nil {
		return transport.MessageRef{}, fmt.Errorf("telegram: parse chat id: %w", err)
	}
	msg, err := p.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: toInlineKeyboard(keyboard),
	})
	if err != nil {
		return transport.MessageRef{}, fmt.Errorf("telegram: send text: %w", err)
	}
	return transport.MessageRef{
		ChatID:    chat,
		MessageID: transport.MessageID(strconv.Itoa(msg.ID)),
	}, nil
}

// EditText implements transport.Provider.
func (p *Provider) EditText(ctx context.Context, ref transport.MessageRef, text string, keyboard *transport.Keyboard) error {
	chatID, err := parseChatID(ref.ChatID)
	if err != nil {
		return fmt.Errorf("telegram: parse chat id: %w", err)
	}
	msgID, err := parseMessageID(ref.MessageID)
	if err != nil {
		return fmt.Errorf("telegram: parse message id: %w", err)
	}
	_, err = p.client.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   msgID,
		Text:        text,
		ReplyMarkup: toInlineKeyboard(keyboard),
	})
	if err != nil {
		return fmt.Errorf("telegram: edit text: %w", err)
	}
	return nil
}

// SendVoice implements transport.Provider.
func (p *Provider) SendVoice(ctx context.Context, chat transport.ChatID, path string) error {
	chatID, err := parseChatID(chat)
	if err != nil {
		return fmt.Errorf("telegram: parse chat id: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("telegram: read voice file: %w", err)
	}
	_, err = p.client.SendVoice(ctx, &tgbot.SendVoiceParams{
		ChatID: chatID,
		Voice:  &models.InputFileUpload{Filename: filenameOf(path), Data: bytes.NewReader(data)},
	})
	if err != nil {
		return fmt.Errorf("telegram: send voice: %w", err)
	}
	return nil
}

// SendFile implements transport.Provider.
func (p *Provider) SendFile(ctx context.Context, chat transport.ChatID, path string) error {
	chatID, err := parseChatID(chat)
	if err != nil {
		return fmt.Errorf("telegram: parse chat id: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("telegram: read file: %w", err)
	}
	_, err = p.client.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: filenameOf(path), Data: bytes.NewReader(data)},
	})
	if err != nil {
		return fmt.Errorf("telegram: send file: %w", err)
	}
	return nil
}

// DownloadVoice implements transport.Provider by resolving the Telegram
// file path for file, then fetching it over HTTPS.
func (p *Provider) DownloadVoice(ctx context.Context, file transport.FileRef) ([]byte, error) {
	tgFile, err := p.client.GetFile(ctx, &tgbot.GetFileParams{FileID: string(file)})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	url := p.client.FileDownloadLink(tgFile)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download voice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download voice: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// AnswerCallback implements transport.Provider.
func (p *Provider) AnswerCallback(ctx context.Context, cb transport.CallbackRef, text string) error {
	_, err := p.client.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: string(cb.CallbackID),
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

func filenameOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}
