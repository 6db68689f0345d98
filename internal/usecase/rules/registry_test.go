package rules

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAndMatchOrder(t *testing.T) {
	data := []byte(`[
		{"pattern": "alpha", "bot": "@AlphaBot"},
		{"pattern": "beta", "bot": "@BetaBot"},
		{"pattern": "alp.a", "bot": "@RegexBot"}
	]`)
	reg, err := Parse(data, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("ожидали 3 правила, получили %d", reg.Len())
	}

	matches := reg.Match("prefix alpha and beta suffix")
	if len(matches) != 3 {
		t.Fatalf("ожидали 3 совпадения, получили %d", len(matches))
	}
	// Порядок совпадений повторяет порядок правил в файле.
	if matches[0].Destination != "@AlphaBot" || matches[1].Destination != "@BetaBot" || matches[2].Destination != "@RegexBot" {
		t.Fatalf("нарушен порядок назначений: %+v", matches)
	}
	if matches[0].Matched != "alpha" {
		t.Fatalf("ожидали подстроку alpha, получили %q", matches[0].Matched)
	}
}

func TestMatchCapturesToken(t *testing.T) {
	data := []byte(`[{"pattern": "showfilesbot.{24}", "bot": "@ShowFilesBot"}]`)
	reg, err := Parse(data, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	body := "please contact showfilesbot_ABCDEFGHIJKLMNOPQRSTUVW"
	matches := reg.Match(body)
	if len(matches) != 1 {
		t.Fatalf("ожидали 1 совпадение, получили %d", len(matches))
	}
	if matches[0].Matched != "showfilesbot_ABCDEFGHIJKLMNOPQRSTUVW" {
		t.Fatalf("неверная подстрока: %q", matches[0].Matched)
	}
}

func TestMatchNoHit(t *testing.T) {
	reg, err := Parse([]byte(`[{"pattern": "alpha", "bot": "@AlphaBot"}]`), nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := reg.Match("ничего подходящего"); len(got) != 0 {
		t.Fatalf("ожидали пустой список, получили %+v", got)
	}
}

func TestParseRejectsInvalidRules(t *testing.T) {
	cases := map[string]string{
		"пустой паттерн": `[{"pattern": "", "bot": "@Bot"}]`,
		"пустой бот":     `[{"pattern": "x", "bot": ""}]`,
		"битый regex":    `[{"pattern": "([", "bot": "@Bot"}]`,
		"битый json":     `{`,
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw), nil); err == nil {
			t.Fatalf("%s: ожидали ошибку", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json"), nil); err == nil {
		t.Fatal("ожидали ошибку для отсутствующего файла")
	}
}

func TestIsBlocked(t *testing.T) {
	reg, err := Parse([]byte(`[]`), []int64{-100123, 777})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !reg.IsBlocked(-100123) || !reg.IsBlocked(777) {
		t.Fatal("ожидали, что чаты из списка заблокированы")
	}
	if reg.IsBlocked(42) {
		t.Fatal("чат вне списка не должен блокироваться")
	}
}

func TestDuplicatePatternsKept(t *testing.T) {
	data := []byte(`[
		{"pattern": "token", "bot": "@First"},
		{"pattern": "token", "bot": "@Second"}
	]`)
	reg, err := Parse(data, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	matches := reg.Match("token here")
	if len(matches) != 2 {
		t.Fatalf("ожидали доставку в оба назначения, получили %d", len(matches))
	}
	dests := matches[0].Destination + "," + matches[1].Destination
	if !strings.Contains(dests, "@First") || !strings.Contains(dests, "@Second") {
		t.Fatalf("неверные назначения: %s", dests)
	}
}
