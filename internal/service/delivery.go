package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/media"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/storage"
	"github.com/pulse/internal/ws"
)

// SendInput is the content of a new message. Image is an inline payload
// (data URL or base64) that still has to go through the media store.
type SendInput struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Pipeline stores a message and then pushes it to the receiver's devices.
type Pipeline struct {
	messages storage.MessageStore
	users    storage.Directory
	media    media.Store
	fanout   Fanout
	ledger   *Ledger
	now      func() time.Time
}

// NewPipeline wires the delivery steps. users may be nil, in which case the
// receiver is not checked against the directory. mediaStore may be nil when
// image messages are not supported.
func NewPipeline(messages storage.MessageStore, users storage.Directory, mediaStore media.Store, fanout Fanout, ledger *Ledger) *Pipeline {
	if fanout == nil {
		fanout = nopFanout{}
	}
	if ledger == nil {
		ledger = NewLedger(messages, fanout)
	}
	return &Pipeline{
		messages: messages,
		users:    users,
		media:    mediaStore,
		fanout:   fanout,
		ledger:   ledger,
		now:      time.Now,
	}
}

// Send validates the input, resolves the image, persists the message and only
// then emits newMessage and unreadCountUpdate to the receiver. A store failure
// returns ErrPersist and emits nothing. Delivery to connections is best effort.
func (p *Pipeline) Send(ctx context.Context, senderID, receiverID string, in SendInput) (*model.Message, error) {
	defer logger.DeferLogDuration("delivery.Send", time.Now())()

	in.Text = strings.TrimSpace(in.Text)
	in.Image = strings.TrimSpace(in.Image)
	if err := p.validate(ctx, senderID, receiverID, in); err != nil {
		return nil, err
	}

	// The caller going away must not abort a send that is already under way.
	ctx = context.WithoutCancel(ctx)

	var imageURL string
	if in.Image != "" {
		url, err := p.media.Upload(ctx, in.Image)
		if err != nil {
			if errors.Is(err, media.ErrInvalidPayload) {
				return nil, ErrInvalidImage
			}
			logger.Errorf("delivery media sender=%s receiver=%s: %v", senderID, receiverID, err)
			return nil, fmt.Errorf("%w: %v", ErrMedia, err)
		}
		imageURL = url
	}

	msg := &model.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       in.Text,
		ImageURL:   imageURL,
		CreatedAt:  p.now().UTC().Truncate(time.Microsecond),
		IsRead:     false,
	}
	if !msg.HasContent() {
		logger.Errorf("delivery media sender=%s receiver=%s: store returned no url", senderID, receiverID)
		return nil, fmt.Errorf("%w: empty image url", ErrMedia)
	}
	if err := p.messages.Create(ctx, msg); err != nil {
		logger.Errorf("delivery persist sender=%s receiver=%s: %v", senderID, receiverID, err)
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	// Registry is read fresh here: the receiver may have come or gone while storing.
	delivered := p.fanout.SendToUser(receiverID, ws.OutgoingMessage{Type: ws.EventNewMessage, Payload: msg})
	if delivered == 0 {
		return msg, nil
	}

	count, err := p.ledger.UnreadCount(ctx, senderID, receiverID)
	if err != nil {
		logger.Errorf("delivery unread count sender=%s receiver=%s: %v", senderID, receiverID, err)
		return msg, nil
	}
	p.fanout.SendToUser(receiverID, ws.NewUnreadCount(senderID, count))
	return msg, nil
}

func (p *Pipeline) validate(ctx context.Context, senderID, receiverID string, in SendInput) error {
	if in.Text == "" && in.Image == "" {
		return ErrEmptyContent
	}
	if receiverID == "" || receiverID == senderID {
		return ErrInvalidReceiver
	}
	if in.Image != "" && p.media == nil {
		return ErrMedia
	}
	if p.users == nil {
		return nil
	}
	if _, err := p.users.GetByID(ctx, receiverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvalidReceiver
		}
		return fmt.Errorf("delivery.validate: %w", err)
	}
	return nil
}
