package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/storage"
	"github.com/pulse/internal/ws"
)

// Ledger answers unread counts from the message store and keeps every device
// of a reader in sync when a conversation is read.
type Ledger struct {
	messages storage.MessageStore
	fanout   Fanout
}

func NewLedger(messages storage.MessageStore, fanout Fanout) *Ledger {
	if fanout == nil {
		fanout = nopFanout{}
	}
	return &Ledger{messages: messages, fanout: fanout}
}

// UnreadCount counts unread messages sent by from to to.
func (l *Ledger) UnreadCount(ctx context.Context, from, to string) (int, error) {
	n, err := l.messages.CountUnread(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("ledger.UnreadCount: %w", err)
	}
	return n, nil
}

// MarkRead marks every from -> to message read and tells to's devices the
// count is now zero. Calling it with nothing unread is not an error.
func (l *Ledger) MarkRead(ctx context.Context, from, to string) (int64, error) {
	changed, err := l.messages.MarkRead(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("ledger.MarkRead: %w", err)
	}
	l.fanout.SendToUser(to, ws.NewUnreadCount(from, 0))
	if changed > 0 {
		logger.Debugf("ledger mark read from=%s to=%s changed=%d", from, to, changed)
	}
	return changed, nil
}

// OpenConversation is what happens when readerID opens the chat with otherID:
// the conversation is marked read first, then returned oldest first.
func (l *Ledger) OpenConversation(ctx context.Context, readerID, otherID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("ledger.OpenConversation", time.Now())()
	if _, err := l.MarkRead(ctx, otherID, readerID); err != nil {
		return nil, err
	}
	msgs, err := l.messages.Conversation(ctx, readerID, otherID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger.OpenConversation: %w", err)
	}
	return msgs, nil
}
