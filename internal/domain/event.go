package domain

import "time"

// UnknownValue — значение-заглушка для отсутствующих необязательных полей.
// Потребители всегда видят явное значение, а не отсутствие поля.
const UnknownValue = "none"

// Типы чатов Telegram.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
	ChatTypeUnknown    = "unknown"
)

// RawSender описывает отправителя сырого события транспорта.
type RawSender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Bot       bool
	Self      bool
}

// RawChat описывает чат сырого события.
type RawChat struct {
	Type  string
	Title string
}

// RawMedia описывает вложение сырого события.
type RawMedia struct {
	Kind string
	MIME string
}

// RawEvent — событие транспорта до классификации. Поля-указатели могут
// отсутствовать, классификатор обязан это переживать.
type RawEvent struct {
	Out    bool
	Sender *RawSender
	Chat   *RawChat
	ChatID int64
	MsgID  int64
	Date   time.Time
	Text   string
	Media  *RawMedia

	// Ref — непрозрачная ссылка транспорта на исходное сообщение,
	// используется только для пересылки и никогда не сохраняется.
	Ref any
}

// NormalizedEvent — каноническая единица конвейера. Создаётся классификатором
// один раз и дальше не изменяется.
type NormalizedEvent struct {
	SenderUsername  string
	SenderFirstName string
	SenderLastName  string
	SenderID        int64
	IsBot           bool
	ChatType        string
	ChatTitle       string
	ChatID          int64
	MsgID           int64
	Body            string
	HasMedia        bool
	OccurredAt      time.Time
	Ref             any
}

// DeliveryOutcome — итог доставки события в одно направление.
type DeliveryOutcome struct {
	Destination string
	Attempts    int
	Copied      bool
	Err         error
}

// Failed сообщает, исчерпаны ли попытки доставки.
func (o DeliveryOutcome) Failed() bool { return o.Err != nil }
