package relay

import (
	"fmt"
	"strings"

	"tg-relay-bot/internal/domain"
)

// Плейсхолдеры для немедийных тел сообщений. Токены сохранены в исходном
// операторском виде, они попадают в хранилище и в копии сообщений как есть.
const (
	PlaceholderPhoto = "[图片消息]"
	PlaceholderVideo = "[视频消息]"
	PlaceholderFile  = "[文件消息]"
	PlaceholderEmoji = "[表情消息]"
	PlaceholderEmpty = "[空消息]"
)

// Classify строит нормализованное событие из сырого. Возвращает false для
// собственных сообщений процесса — их обработка привела бы к петле пересылки.
// Отсутствующие необязательные атрибуты деградируют до заглушек и никогда
// не прерывают классификацию.
func Classify(raw domain.RawEvent) (domain.NormalizedEvent, bool) {
	if raw.Out || (raw.Sender != nil && raw.Sender.Self) {
		return domain.NormalizedEvent{}, false
	}

	ev := domain.NormalizedEvent{
		SenderUsername:  domain.UnknownValue,
		SenderFirstName: domain.UnknownValue,
		SenderLastName:  domain.UnknownValue,
		ChatType:        domain.ChatTypeUnknown,
		ChatTitle:       domain.UnknownValue,
		ChatID:          raw.ChatID,
		MsgID:           raw.MsgID,
		OccurredAt:      raw.Date,
		Ref:             raw.Ref,
	}

	if sender := raw.Sender; sender != nil {
		ev.SenderID = sender.ID
		ev.IsBot = sender.Bot
		if sender.Username != "" {
			ev.SenderUsername = sender.Username
		}
		if sender.FirstName != "" {
			ev.SenderFirstName = sender.FirstName
		}
		if sender.LastName != "" {
			ev.SenderLastName = sender.LastName
		}
	}

	if chat := raw.Chat; chat != nil {
		if chat.Type != "" {
			ev.ChatType = chat.Type
		}
		if chat.Title != "" {
			ev.ChatTitle = chat.Title
		}
	}

	ev.Body = bodyText(raw)
	ev.HasMedia = raw.Media != nil

	return ev, true
}

// bodyText выбирает тело события: медиа имеет приоритет над текстом,
// пустое сообщение получает явный плейсхолдер и не теряется.
func bodyText(raw domain.RawEvent) string {
	if raw.Media != nil {
		return mediaPlaceholder(raw.Media)
	}
	if raw.Text != "" {
		return raw.Text
	}
	return PlaceholderEmpty
}

func mediaPlaceholder(media *domain.RawMedia) string {
	switch media.Kind {
	case "photo":
		return PlaceholderPhoto
	case "document":
		if strings.HasPrefix(media.MIME, "video") {
			return PlaceholderVideo
		}
		return PlaceholderFile
	case "dice":
		return PlaceholderEmoji
	default:
		return fmt.Sprintf("[%s 消息]", media.Kind)
	}
}
