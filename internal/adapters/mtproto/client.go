package mtproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	msgsplit "tg-relay-bot/internal/adapters/telegram"
	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
)

// Client реализует domain.Transport поверх gotd: пользовательский MTProto
// клиент с файловой сессией, подпиской на новые сообщения и кэшем
// разрешённых пиров.
type Client struct {
	client    *telegram.Client
	log       zerolog.Logger
	phone     string
	api       *tg.Client
	selfID    atomic.Int64
	connected atomic.Bool
	handler   func(ctx context.Context, raw domain.RawEvent)

	peerMu sync.Mutex
	peers  map[string]tg.InputPeerClass
}

var _ domain.Transport = (*Client)(nil)

// forwardRef — непрозрачная ссылка на исходное сообщение для пересылки
// и восстановления медиа при отправке копии.
type forwardRef struct {
	From    tg.InputPeerClass
	MsgID   int
	Media   tg.MessageMediaClass
	Caption string
}

// NewClient создаёт MTProto клиент с файловым хранилищем сессии.
func NewClient(apiID int, apiHash, phone, sessionFile string, log zerolog.Logger) *Client {
	dispatcher := tg.NewUpdateDispatcher()
	c := &Client{
		log:   log,
		phone: phone,
		peers: make(map[string]tg.InputPeerClass),
	}
	c.client = telegram.NewClient(apiID, apiHash, telegram.Options{
		UpdateHandler:  dispatcher,
		SessionStorage: &session.FileStorage{Path: sessionFile},
	})
	dispatcher.OnNewMessage(c.onNewMessage)
	dispatcher.OnNewChannelMessage(c.onNewChannelMessage)
	return c
}

// OnEvent регистрирует колбэк для входящих событий. Вызывается до Run.
func (c *Client) OnEvent(fn func(ctx context.Context, raw domain.RawEvent)) {
	c.handler = fn
}

// Connected сообщает о живости соединения с Telegram.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run подключается к Telegram, при необходимости проходит интерактивную
// авторизацию и блокируется до отмены контекста.
func (c *Client) Run(ctx context.Context) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			if c.phone == "" {
				return errors.New("сессия не авторизована, задайте TG_PHONE для входа")
			}
			c.log.Info().Msg("mtproto: сессия не авторизована, начинаем вход")
			flow := auth.NewFlow(
				auth.Constant(c.phone, "", auth.CodeAuthenticatorFunc(askCode)),
				auth.SendCodeOptions{},
			)
			if err := flow.Run(ctx, c.client.Auth()); err != nil {
				return fmt.Errorf("авторизация: %w", err)
			}
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("получение профиля: %w", err)
		}
		c.selfID.Store(self.ID)
		c.api = c.client.API()

		c.connected.Store(true)
		defer c.connected.Store(false)

		c.log.Info().Int64("self_id", self.ID).Msg("mtproto: клиент запущен, слушаем сообщения")
		<-ctx.Done()
		return ctx.Err()
	})
}

// askCode запрашивает код подтверждения в терминале при первом входе.
func askCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Print("Введите код подтверждения: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

// Forward пересылает исходное сообщение в направление. Запрет пересылки
// со стороны чата-источника транслируется в domain.ErrForwardRestricted.
func (c *Client) Forward(ctx context.Context, ref any, destination string) error {
	r, ok := ref.(forwardRef)
	if !ok {
		// Ссылки нет, когда сущность пира не пришла в апдейте.
		return fmt.Errorf("%w (%T)", domain.ErrForwardUnavailable, ref)
	}

	peer, err := c.resolve(ctx, destination)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: r.From,
		ToPeer:   peer,
		ID:       []int{r.MsgID},
		RandomID: []int64{rand.Int63()},
	})
	metrics.ObserveNetworkRequest("telegram", "forward_messages", destination, start, err)
	if err != nil {
		if tgerr.Is(err, "CHAT_FORWARDS_RESTRICTED") {
			return fmt.Errorf("%s: %w", destination, domain.ErrForwardRestricted)
		}
		return fmt.Errorf("пересылка в %s: %w", destination, err)
	}
	return nil
}

// SendCopy отправляет содержимое новым сообщением. Фото и документы
// переотправляются как вложения с исходной подписью, превью ссылок отключено.
func (c *Client) SendCopy(ctx context.Context, destination, body string, ref any) error {
	peer, err := c.resolve(ctx, destination)
	if err != nil {
		return err
	}

	if r, ok := ref.(forwardRef); ok && r.Media != nil {
		if media, ok := inputMedia(r.Media); ok {
			start := time.Now()
			_, err = c.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
				Peer:     peer,
				Media:    media,
				Message:  r.Caption,
				RandomID: rand.Int63(),
			})
			metrics.ObserveNetworkRequest("telegram", "send_media", destination, start, err)
			if err != nil {
				return fmt.Errorf("отправка копии медиа в %s: %w", destination, err)
			}
			return nil
		}
	}

	// Длинное тело не влезает в одно сообщение, режем по лимиту Bot API.
	for _, part := range msgsplit.SplitMessage(body) {
		start := time.Now()
		_, err = c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:      peer,
			Message:   part,
			RandomID:  rand.Int63(),
			NoWebpage: true,
		})
		metrics.ObserveNetworkRequest("telegram", "send_message", destination, start, err)
		if err != nil {
			return fmt.Errorf("отправка копии в %s: %w", destination, err)
		}
	}
	return nil
}

// resolve превращает @username направления в InputPeer c кэшированием.
// Пир не протухает за время жизни процесса, access hash стабилен для сессии.
func (c *Client) resolve(ctx context.Context, destination string) (tg.InputPeerClass, error) {
	username := strings.TrimPrefix(strings.TrimSpace(destination), "@")
	if username == "" {
		return nil, fmt.Errorf("пустое направление доставки")
	}

	c.peerMu.Lock()
	if peer, ok := c.peers[username]; ok {
		c.peerMu.Unlock()
		return peer, nil
	}
	c.peerMu.Unlock()

	start := time.Now()
	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	metrics.ObserveNetworkRequest("telegram", "resolve_username", destination, start, err)
	if err != nil {
		return nil, fmt.Errorf("разрешение направления %s: %w", destination, err)
	}

	peer, err := peerFromResolved(resolved)
	if err != nil {
		return nil, fmt.Errorf("разрешение направления %s: %w", destination, err)
	}

	c.peerMu.Lock()
	c.peers[username] = peer
	c.peerMu.Unlock()
	return peer, nil
}

func peerFromResolved(resolved *tg.ContactsResolvedPeer) (tg.InputPeerClass, error) {
	switch peer := resolved.Peer.(type) {
	case *tg.PeerUser:
		for _, u := range resolved.Users {
			if user, ok := u.(*tg.User); ok && user.ID == peer.UserID {
				return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}, nil
			}
		}
	case *tg.PeerChannel:
		for _, ch := range resolved.Chats {
			if channel, ok := ch.(*tg.Channel); ok && channel.ID == peer.ChannelID {
				return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}, nil
			}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: peer.ChatID}, nil
	}
	return nil, errors.New("пир не найден в ответе")
}

// inputMedia восстанавливает вложение для переотправки. Поддержаны фото и
// документы, остальные виды уходят текстовым плейсхолдером.
func inputMedia(media tg.MessageMediaClass) (tg.InputMediaClass, bool) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.GetPhoto()
		if !ok {
			return nil, false
		}
		p, ok := photo.(*tg.Photo)
		if !ok {
			return nil, false
		}
		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            p.ID,
			AccessHash:    p.AccessHash,
			FileReference: p.FileReference,
		}}, true
	case *tg.MessageMediaDocument:
		document, ok := m.GetDocument()
		if !ok {
			return nil, false
		}
		d, ok := document.(*tg.Document)
		if !ok {
			return nil, false
		}
		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            d.ID,
			AccessHash:    d.AccessHash,
			FileReference: d.FileReference,
		}}, true
	default:
		return nil, false
	}
}
