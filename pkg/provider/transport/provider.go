// Package transport defines the ChatTransport capability interface (spec
// §6): the narrow surface the UI/Callback Router (internal/router) uses to
// receive chat events and send messages, independent of which chat
// platform backs it.
//
// Implementations must be safe for concurrent use.
package transport

import "context"

// ChatID identifies a chat/conversation on the underlying platform.
type ChatID string

// MessageID identifies a single sent message within a chat.
type MessageID string

// CallbackID identifies one inline-keyboard callback query.
type CallbackID string

// FileRef identifies a remote file (e.g. a voice message) that has not yet
// been downloaded.
type FileRef string

// KeyboardButton is one inline-keyboard button. CallbackData carries an
// opaque token with the shape "<namespace>:<verb>[:<arg>]" (spec §4.8).
type KeyboardButton struct {
	Text         string
	CallbackData string
}

// Keyboard is an inline keyboard laid out as rows of buttons.
type Keyboard struct {
	Rows [][]KeyboardButton
}

// MessageRef identifies a previously sent message, for editing in place.
type MessageRef struct {
	ChatID    ChatID
	MessageID MessageID
}

// CallbackRef identifies one inline-keyboard callback query, carrying the
// token the button was created with.
type CallbackRef struct {
	ChatID     ChatID
	MessageID  MessageID
	CallbackID CallbackID
	Data       string
}

// EventType distinguishes the kinds of events a Provider delivers to its
// registered Handler (spec §4.8: Text, Voice, Command, Callback).
type EventType string

const (
	EventText     EventType = "text"
	EventVoice    EventType = "voice"
	EventCommand  EventType = "command"
	EventCallback EventType = "callback"
)

// Event is a single typed occurrence from the chat transport.
type Event struct {
	Type      EventType
	ChatID    ChatID
	MessageID MessageID

	// Text holds the message body for EventText, or the command text
	// (without arguments) for EventCommand.
	Text string

	// CommandArgs holds the whitespace-split arguments following an
	// EventCommand's command text.
	CommandArgs []string

	// VoiceFile identifies the voice attachment for EventVoice.
	VoiceFile FileRef

	// Callback carries the inline-keyboard callback for EventCallback.
	Callback CallbackRef
}

// Handler processes a single Event. Implementations must return promptly;
// long-running work should be dispatched to a worker rather than block the
// transport's event loop.
type Handler func(ctx context.Context, ev Event)

// Provider is the abstraction over any chat transport.
type Provider interface {
	// Listen registers handler and blocks, delivering events until ctx is
	// cancelled or the underlying connection fails irrecoverably.
	Listen(ctx context.Context, handler Handler) error

	// SendText sends a text message to chat, optionally with an inline
	// keyboard, and returns a reference to the sent message.
	SendText(ctx context.Context, chat ChatID, text string, keyboard *Keyboard) (MessageRef, error)

	// EditText replaces the text (and optionally the keyboard) of a
	// previously sent message.
	EditText(ctx context.Context, ref MessageRef, text string, keyboard *Keyboard) error

	// SendVoice sends the audio file at path to chat as a voice message.
	SendVoice(ctx context.Context, chat ChatID, path string) error

	// SendFile sends the file at path to chat as a generic document.
	SendFile(ctx context.Context, chat ChatID, path string) error

	// DownloadVoice fetches the raw bytes of a voice attachment previously
	// referenced by an EventVoice.
	DownloadVoice(ctx context.Context, file FileRef) ([]byte, error)

	// AnswerCallback acknowledges an inline-keyboard callback query. Every
	// callback must be acknowledged — success, no-op, or warning — per
	// spec §4.8.
	AnswerCallback(ctx context.Context, cb CallbackRef, text string) error
}
