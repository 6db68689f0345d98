package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"tg-relay-bot/internal/domain"
	"tg-relay-bot/internal/infra/metrics"
	"tg-relay-bot/internal/usecase/rules"
)

type stubRepo struct {
	events []domain.NormalizedEvent
	errs   []error
	calls  int
}

func (s *stubRepo) EnsureSchema(context.Context) error { return nil }

func (s *stubRepo) Append(_ context.Context, ev domain.NormalizedEvent) (int64, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	s.events = append(s.events, ev)
	return int64(len(s.events)), nil
}

type stubCache struct {
	seen map[string]bool
	err  error
}

// Once повторяет контракт RedisCache: при ошибке fn ключ снимается.
func (s *stubCache) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	if s.err != nil {
		return s.err
	}
	if s.seen[key] {
		return nil
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.seen[key] = true
	if err := fn(); err != nil {
		delete(s.seen, key)
		return err
	}
	return nil
}

type stubAlerter struct {
	alerts []string
}

func (s *stubAlerter) Alert(_ context.Context, text string) {
	s.alerts = append(s.alerts, text)
}

type deliveryRecord struct {
	destination string
	body        string
}

// recordingTransport фиксирует успешные пересылки и помечает часть
// направлений как запрещённые для пересылки.
type recordingTransport struct {
	restricted map[string]bool
	forwards   []deliveryRecord
	copies     []deliveryRecord
	failAll    bool
}

func (r *recordingTransport) Forward(_ context.Context, _ any, dest string) error {
	if r.failAll {
		return errors.New("flood")
	}
	if r.restricted[dest] {
		return domain.ErrForwardRestricted
	}
	r.forwards = append(r.forwards, deliveryRecord{destination: dest})
	return nil
}

func (r *recordingTransport) SendCopy(_ context.Context, dest, body string, _ any) error {
	if r.failAll {
		return errors.New("flood")
	}
	r.copies = append(r.copies, deliveryRecord{destination: dest, body: body})
	return nil
}

func (r *recordingTransport) Connected() bool { return true }

func newTestService(t *testing.T, transport domain.Transport, repo domain.MessageRepo, cache domain.Cache, alerter domain.Alerter, rulesJSON, target string) *Service {
	t.Helper()
	registry, err := rules.Parse([]byte(rulesJSON), []int64{-100666})
	if err != nil {
		t.Fatalf("не ожидали ошибку правил: %v", err)
	}
	deliverer := NewDeliverer(transport, zerolog.Nop(), DeliveryConfig{MaxAttempts: 2})
	deliverer.sleep = func(context.Context, time.Duration) error { return nil }
	return NewService(zerolog.Nop(), registry, deliverer, repo, cache, alerter, ServiceConfig{TargetChannel: target, Workers: 1})
}

func rawText(chatID, msgID int64, text string) domain.RawEvent {
	return domain.RawEvent{
		Sender: &domain.RawSender{ID: 10, Username: "seller"},
		Chat:   &domain.RawChat{Type: domain.ChatTypeGroup, Title: "market"},
		ChatID: chatID,
		MsgID:  msgID,
		Date:   time.Now(),
		Text:   text,
	}
}

func TestHandleSkipsOwnAndBlocked(t *testing.T) {
	repo := &stubRepo{}
	transport := &recordingTransport{}
	svc := newTestService(t, transport, repo, nil, nil, `[]`, "@Archive")

	svc.Handle(context.Background(), domain.RawEvent{Out: true, ChatID: 1, MsgID: 1})
	svc.Handle(context.Background(), rawText(-100666, 2, "из заблокированного чата"))

	if len(repo.events) != 0 {
		t.Fatalf("пропущенные события не должны записываться: %+v", repo.events)
	}
	if len(transport.forwards) != 0 {
		t.Fatalf("пропущенные события не должны доставляться: %+v", transport.forwards)
	}
}

func TestHandlePersistsEligibleEvent(t *testing.T) {
	repo := &stubRepo{}
	transport := &recordingTransport{}
	svc := newTestService(t, transport, repo, nil, nil, `[]`, "@Archive")

	svc.Handle(context.Background(), rawText(-200, 5, "обычное сообщение"))

	if len(repo.events) != 1 {
		t.Fatalf("ожидали 1 запись, получили %d", len(repo.events))
	}
	ev := repo.events[0]
	if ev.ChatID != -200 || ev.MsgID != 5 || ev.OccurredAt.IsZero() {
		t.Fatalf("неполное событие в хранилище: %+v", ev)
	}
	if len(transport.forwards) != 1 || transport.forwards[0].destination != "@Archive" {
		t.Fatalf("ожидали пересылку в основное направление: %+v", transport.forwards)
	}
}

func TestHandleFanOutKeepsOrderAndPayload(t *testing.T) {
	repo := &stubRepo{}
	transport := &recordingTransport{restricted: map[string]bool{"@ShowFilesBot": true}}
	rulesJSON := `[
		{"pattern": "showfilesbot.{24}", "bot": "@ShowFilesBot"},
		{"pattern": "contact", "bot": "@Second"}
	]`
	svc := newTestService(t, transport, repo, nil, nil, rulesJSON, "")

	svc.Handle(context.Background(), rawText(-200, 8, "please contact showfilesbot_ABCDEFGHIJKLMNOPQRSTUVW"))

	// Первое направление запрещает пересылку: уходит копия с совпавшей
	// подстрокой. Второе получает обычную пересылку.
	if len(transport.copies) != 1 || transport.copies[0].destination != "@ShowFilesBot" {
		t.Fatalf("ожидали копию в @ShowFilesBot: %+v", transport.copies)
	}
	if transport.copies[0].body != "showfilesbot_ABCDEFGHIJKLMNOPQRSTUVW" {
		t.Fatalf("копия должна нести совпавшую подстроку, получили %q", transport.copies[0].body)
	}
	if len(transport.forwards) != 1 || transport.forwards[0].destination != "@Second" {
		t.Fatalf("ожидали пересылку в @Second: %+v", transport.forwards)
	}
	// Запись хранит исходное тело, а не подстроку.
	if len(repo.events) != 1 || repo.events[0].Body != "please contact showfilesbot_ABCDEFGHIJKLMNOPQRSTUVW" {
		t.Fatalf("хранилище должно получить исходное тело: %+v", repo.events)
	}
}

func TestHandleDeliveryFailureStillPersists(t *testing.T) {
	repo := &stubRepo{}
	transport := &recordingTransport{failAll: true}
	svc := newTestService(t, transport, repo, nil, nil, `[{"pattern": "x", "bot": "@Bot"}]`, "@Archive")

	svc.Handle(context.Background(), rawText(-200, 9, "x"))

	if len(repo.events) != 1 {
		t.Fatalf("сбой доставки не должен блокировать запись, записей %d", len(repo.events))
	}
}

func TestHandleStorageFailureAlerts(t *testing.T) {
	repo := &stubRepo{errs: []error{errors.New("connection refused")}}
	alerter := &stubAlerter{}
	svc := newTestService(t, &recordingTransport{}, repo, nil, alerter, `[]`, "")

	before := testutil.ToFloat64(metrics.EventsTotal.WithLabelValues(metrics.ResultStorageFailed))
	svc.Handle(context.Background(), rawText(-200, 10, "важное"))

	if len(alerter.alerts) != 1 {
		t.Fatalf("ожидали 1 оповещение оператора, получили %d", len(alerter.alerts))
	}
	after := testutil.ToFloat64(metrics.EventsTotal.WithLabelValues(metrics.ResultStorageFailed))
	if after-before != 1 {
		t.Fatalf("сбой хранилища должен попадать в счётчик событий, дельта %v", after-before)
	}
}

func TestHandleStorageFailureReleasesDedupKey(t *testing.T) {
	repo := &stubRepo{errs: []error{errors.New("connection refused")}}
	cache := &stubCache{}
	svc := newTestService(t, &recordingTransport{}, repo, cache, nil, `[]`, "")

	raw := rawText(-200, 15, "обязательное к записи")
	svc.Handle(context.Background(), raw)
	svc.Handle(context.Background(), raw)

	// Первая запись упала, ключ дедупликации снят: повтор от транспорта
	// должен дойти до хранилища и записаться.
	if repo.calls != 2 {
		t.Fatalf("ожидали 2 обращения к хранилищу, получили %d", repo.calls)
	}
	if len(repo.events) != 1 {
		t.Fatalf("повтор события должен быть записан, записей %d", len(repo.events))
	}
}

func TestHandleSuppressesDuplicates(t *testing.T) {
	repo := &stubRepo{}
	cache := &stubCache{}
	svc := newTestService(t, &recordingTransport{}, repo, cache, nil, `[]`, "")

	raw := rawText(-200, 11, "дубликат")
	svc.Handle(context.Background(), raw)
	svc.Handle(context.Background(), raw)

	if len(repo.events) != 1 {
		t.Fatalf("дубликат должен подавляться, записей %d", len(repo.events))
	}
}

func TestHandleCacheFailureDoesNotDropEvent(t *testing.T) {
	repo := &stubRepo{}
	cache := &stubCache{err: errors.New("redis down")}
	svc := newTestService(t, &recordingTransport{}, repo, cache, nil, `[]`, "")

	svc.Handle(context.Background(), rawText(-200, 12, "кэш лежит"))

	if len(repo.events) != 1 {
		t.Fatalf("недоступный кэш не должен терять событие, записей %d", len(repo.events))
	}
}

func TestHandleWithoutTargetChannel(t *testing.T) {
	repo := &stubRepo{}
	transport := &recordingTransport{}
	svc := newTestService(t, transport, repo, nil, nil, `[]`, "")

	svc.Handle(context.Background(), rawText(-200, 13, "без основного канала"))

	if len(transport.forwards) != 0 {
		t.Fatalf("без основного канала пересылок быть не должно: %+v", transport.forwards)
	}
	if len(repo.events) != 1 {
		t.Fatal("запись обязательна и без основного канала")
	}
}

func TestDispatchProcessesAsync(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(t, &recordingTransport{}, repo, nil, nil, `[]`, "")

	svc.Dispatch(context.Background(), rawText(-200, 14, "асинхронно"))
	svc.Wait()

	if len(repo.events) != 1 {
		t.Fatalf("ожидали обработку события, записей %d", len(repo.events))
	}
}
