package domain

import "errors"

// ErrForwardRestricted сигнализирует, что чат-источник запрещает пересылку.
// Доставка переключается на отправку копии, это не сбой.
var ErrForwardRestricted = errors.New("чат запрещает пересылку сообщений")

// ErrForwardUnavailable сигнализирует, что у события нет пригодной ссылки
// на исходное сообщение. Повторы бессмысленны, доставка сразу переключается
// на отправку копии.
var ErrForwardUnavailable = errors.New("нет ссылки для пересылки сообщения")

// ErrEventIncomplete возвращается хранилищем, когда у события нет
// обязательных полей (chat_id, occurred_at).
var ErrEventIncomplete = errors.New("событие не содержит обязательных полей")

// ErrNotConnected возвращается, когда транспорт не подключён к Telegram.
var ErrNotConnected = errors.New("транспорт не подключён")
