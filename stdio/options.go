package stdio

import (
	"io"
	"log/slog"
)

// ChangeSubscriber hands out channels that signal when the backing data
// changed and resource-updated notifications should be pushed.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithChangeNotifications attaches a change subscriber. Whenever it signals,
// the handler emits notifications/resources/updated for each of the given
// URIs, once the session is ready.
func WithChangeNotifications(sub ChangeSubscriber, uris ...string) Option {
	return func(h *Handler) {
		if sub != nil && len(uris) > 0 {
			h.changes = sub
			h.changedURIs = uris
		}
	}
}
