package mtproto

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"tg-relay-bot/internal/domain"
)

func (c *Client) onNewMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	c.emit(ctx, e, update.Message)
	return nil
}

func (c *Client) onNewChannelMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
	c.emit(ctx, e, update.Message)
	return nil
}

func (c *Client) emit(ctx context.Context, e tg.Entities, message tg.MessageClass) {
	msg, ok := message.(*tg.Message)
	if !ok {
		return
	}
	if c.handler == nil {
		return
	}
	c.handler(ctx, c.convert(e, msg))
}

// convert собирает domain.RawEvent из апдейта и сущностей. Любой недостающий
// атрибут оставляет соответствующее поле пустым, конвертация не падает.
func (c *Client) convert(e tg.Entities, msg *tg.Message) domain.RawEvent {
	raw := domain.RawEvent{
		Out:   msg.Out,
		MsgID: int64(msg.ID),
		Date:  time.Unix(int64(msg.Date), 0).UTC(),
		Text:  msg.Message,
	}

	var from tg.InputPeerClass
	switch peer := msg.PeerID.(type) {
	case *tg.PeerUser:
		raw.ChatID = peer.UserID
		raw.Chat = &domain.RawChat{Type: domain.ChatTypePrivate}
		if user, ok := e.Users[peer.UserID]; ok {
			from = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
		}
	case *tg.PeerChat:
		raw.ChatID = peer.ChatID
		chat := &domain.RawChat{Type: domain.ChatTypeGroup}
		if known, ok := e.Chats[peer.ChatID]; ok {
			chat.Title = known.Title
		}
		raw.Chat = chat
		from = &tg.InputPeerChat{ChatID: peer.ChatID}
	case *tg.PeerChannel:
		raw.ChatID = peer.ChannelID
		chat := &domain.RawChat{Type: domain.ChatTypeSupergroup}
		if channel, ok := e.Channels[peer.ChannelID]; ok {
			chat.Title = channel.Title
			if channel.Broadcast {
				chat.Type = domain.ChatTypeChannel
			}
			from = &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}
		}
		raw.Chat = chat
	}

	raw.Sender = c.sender(e, msg)

	if media, ok := msg.GetMedia(); ok {
		raw.Media = rawMedia(media)
	}

	if from != nil {
		raw.Ref = forwardRef{
			From:    from,
			MsgID:   msg.ID,
			Media:   msg.Media,
			Caption: msg.Message,
		}
	}

	return raw
}

func (c *Client) sender(e tg.Entities, msg *tg.Message) *domain.RawSender {
	var userID int64
	if fromID, ok := msg.GetFromID(); ok {
		if peer, ok := fromID.(*tg.PeerUser); ok {
			userID = peer.UserID
		}
	} else if peer, ok := msg.PeerID.(*tg.PeerUser); ok {
		// В личных чатах FromID не заполняется.
		userID = peer.UserID
	}
	if userID == 0 {
		return nil
	}

	sender := &domain.RawSender{ID: userID, Self: userID == c.selfID.Load()}
	if user, ok := e.Users[userID]; ok {
		sender.Username = user.Username
		sender.FirstName = user.FirstName
		sender.LastName = user.LastName
		sender.Bot = user.Bot
		if user.Self {
			sender.Self = true
		}
	}
	return sender
}

func rawMedia(media tg.MessageMediaClass) *domain.RawMedia {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return &domain.RawMedia{Kind: "photo"}
	case *tg.MessageMediaDocument:
		raw := &domain.RawMedia{Kind: "document"}
		if document, ok := m.GetDocument(); ok {
			if d, ok := document.(*tg.Document); ok {
				raw.MIME = d.MimeType
			}
		}
		return raw
	case *tg.MessageMediaDice:
		return &domain.RawMedia{Kind: "dice"}
	default:
		return &domain.RawMedia{Kind: mediaKindName(media)}
	}
}

// mediaKindName даёт короткое имя вида вложения для общего плейсхолдера:
// *tg.MessageMediaGeo -> geo.
func mediaKindName(media tg.MessageMediaClass) string {
	name := fmt.Sprintf("%T", media)
	name = strings.TrimPrefix(name, "*tg.MessageMedia")
	if name == "" {
		return "unknown"
	}
	return strings.ToLower(name)
}
