// Package mock provides a test double for the transport.Provider interface.
package mock

import (
	"context"
	"strconv"
	"sync"

	"github.com/oraculovoz/oraculo/pkg/provider/transport"
)

// SendTextCall records a single invocation of SendText.
type SendTextCall struct {
	Chat     transport.ChatID
	Text     string
	Keyboard *transport.Keyboard
}

// EditTextCall records a single invocation of EditText.
type EditTextCall struct {
	Ref      transport.MessageRef
	Text     string
	Keyboard *transport.Keyboard
}

// Provider is a mock implementation of transport.Provider.
type Provider struct {
	mu sync.Mutex

	// NextMessageID is returned (then incremented) by SendText.
	NextMessageID int

	// SendTextErr, if non-nil, is returned by SendText.
	SendTextErr error
	// EditTextErr, if non-nil, is returned by EditText.
	EditTextErr error
	// SendVoiceErr, if non-nil, is returned by SendVoice.
	SendVoiceErr error
	// SendFileErr, if non-nil, is returned by SendFile.
	SendFileErr error
	// DownloadVoiceResult is returned by DownloadVoice.
	DownloadVoiceResult []byte
	// DownloadVoiceErr, if non-nil, is returned by DownloadVoice.
	DownloadVoiceErr error
	// AnswerCallbackErr, if non-nil, is returned by AnswerCallback.
	AnswerCallbackErr error

	SendTextCalls      []SendTextCall
	EditTextCalls      []EditTextCall
	SendVoicePaths     []string
	SendFilePaths      []string
	DownloadVoiceCalls []transport.FileRef
	AnswerCallbackCalls []transport.CallbackRef

	handler transport.Handler
}

// Listen records handler and blocks until ctx is cancelled. Tests drive
// events by calling Emit directly.
func (p *Provider) Listen(ctx context.Context, handler transport.Handler) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

// Emit delivers ev to the handler registered via Listen, if any.
func (p *Provider) Emit(ctx context.Context, ev transport.Event) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		handler(ctx, ev)
	}
}

// SendText records the call and returns a synthetic MessageRef.
func (p *Provider) SendText(ctx context.Context, chat transport.ChatID, text string, keyboard *transport.Keyboard) (transport.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendTextCalls = append(p.SendTextCalls, SendTextCall{Chat: chat, Text: text, Keyboard: keyboard})
	if p.SendTextErr != nil {
		return transport.MessageRef{}, p.SendTextErr
	}
	p.NextMessageID++
	return transport.MessageRef{ChatID: chat, MessageID: transport.MessageID(strconv.Itoa(p.NextMessageID))}, nil
}

// EditText records the call and returns EditTextErr.
func (p *Provider) EditText(ctx context.Context, ref transport.MessageRef, text string, keyboard *transport.Keyboard) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EditTextCalls = append(p.EditTextCalls, EditTextCall{Ref: ref, Text: text, Keyboard: keyboard})
	return p.EditTextErr
}

// SendVoice records the call and returns SendVoiceErr.
func (p *Provider) SendVoice(ctx context.Context, chat transport.ChatID, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendVoicePaths = append(p.SendVoicePaths, path)
	return p.SendVoiceErr
}

// SendFile records the call and returns SendFileErr.
func (p *Provider) SendFile(ctx context.Context, chat transport.ChatID, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendFilePaths = append(p.SendFilePaths, path)
	return p.SendFileErr
}

// DownloadVoice records the call and returns DownloadVoiceResult, DownloadVoiceErr.
func (p *Provider) DownloadVoice(ctx context.Context, file transport.FileRef) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DownloadVoiceCalls = append(p.DownloadVoiceCalls, file)
	return p.DownloadVoiceResult, p.DownloadVoiceErr
}

// AnswerCallback records the call and returns AnswerCallbackErr.
func (p *Provider) AnswerCallback(ctx context.Context, cb transport.CallbackRef, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnswerCallbackCalls = append(p.AnswerCallbackCalls, cb)
	return p.AnswerCallbackErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendTextCalls = nil
	p.EditTextCalls = nil
	p.SendVoicePaths = nil
	p.SendFilePaths = nil
	p.DownloadVoiceCalls = nil
	p.AnswerCallbackCalls = nil
	p.NextMessageID = 0
}

// Ensure Provider implements transport.Provider at compile time.
var _ transport.Provider = (*Provider)(nil)
