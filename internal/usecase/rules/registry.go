package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Rule связывает скомпилированный шаблон с направлением доставки.
type Rule struct {
	Pattern     *regexp.Regexp
	Destination string
}

// RuleMatch — результат совпадения: направление и найденная подстрока.
type RuleMatch struct {
	Destination string
	Matched     string
}

// Registry хранит упорядоченный набор правил маршрутизации и денилист чатов.
// После создания не изменяется, перезагрузка — это новый Load и атомарная
// замена указателя у оркестратора.
type Registry struct {
	rules   []Rule
	blocked map[int64]struct{}
}

type ruleConfig struct {
	Pattern string `json:"pattern"`
	Bot     string `json:"bot"`
}

// Load читает файл правил и строит реестр. Любая ошибка формата фатальна
// на старте: битый шаблон не должен дожить до матчинга.
func Load(path string, blocked []int64) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла правил %s: %w", path, err)
	}
	return Parse(data, blocked)
}

// Parse строит реестр из JSON-списка правил.
func Parse(data []byte, blocked []int64) (*Registry, error) {
	var entries []ruleConfig
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("разбор правил: %w", err)
	}

	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		if entry.Pattern == "" || entry.Bot == "" {
			return nil, fmt.Errorf("правило %d: поля pattern и bot обязательны", i)
		}
		re, err := regexp.Compile(entry.Pattern)
		if err != nil {
			return nil, fmt.Errorf("правило %d: некорректный шаблон %q: %w", i, entry.Pattern, err)
		}
		rules = append(rules, Rule{Pattern: re, Destination: entry.Bot})
	}

	blockedSet := make(map[int64]struct{}, len(blocked))
	for _, id := range blocked {
		blockedSet[id] = struct{}{}
	}

	return &Registry{rules: rules, blocked: blockedSet}, nil
}

// Match возвращает все правила, шаблон которых встречается в теле сообщения,
// в порядке объявления. Дубликаты направлений сохраняются: событие уходит
// в каждое совпавшее направление.
func (r *Registry) Match(body string) []RuleMatch {
	var matches []RuleMatch
	for _, rule := range r.rules {
		if loc := rule.Pattern.FindStringIndex(body); loc != nil {
			matches = append(matches, RuleMatch{Destination: rule.Destination, Matched: body[loc[0]:loc[1]]})
		}
	}
	return matches
}

// IsBlocked проверяет чат по денилисту.
func (r *Registry) IsBlocked(chatID int64) bool {
	_, ok := r.blocked[chatID]
	return ok
}

// Len возвращает количество правил.
func (r *Registry) Len() int { return len(r.rules) }
