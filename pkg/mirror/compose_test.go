// Copyright 2024-2026 Aiku AI

package mirror

import (
	"strings"
	"testing"
)

func TestFormatTitleAndBodySplitsParagraphs(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	item := &SourceItem{ID: 42, Text: "Заголовок\n\nПервый абзац.\nВторой абзац."}
	title, body := c.FormatTitleAndBody(item, "https://example.org/chan/42")
	if title != "Заголовок" {
		t.Errorf("title: got %q", title)
	}
	want := "Первый абзац.\n\nВторой абзац.\n\n🔗 https://example.org/chan/42"
	if body != want {
		t.Errorf("body: got %q, want %q", body, want)
	}
}

func TestFormatTitleAndBodyEmptyTextKeepsBareLink(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	title, body := c.FormatTitleAndBody(&SourceItem{ID: 7}, "https://example.org/chan/7")
	if title != "" {
		t.Errorf("title: got %q, want empty", title)
	}
	if body != "🔗 https://example.org/chan/7" {
		t.Errorf("body: got %q", body)
	}
}

func TestFormatTitleAndBodyUsesDefaultLinkFallback(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	_, body := c.FormatTitleAndBody(&SourceItem{ID: 99, Text: "Новость"}, "")
	if !strings.HasSuffix(body, "🔗 https://example.org/chan/99") {
		t.Errorf("body does not end with the deterministic link: %q", body)
	}
}

func TestFormatTitleAndBodyRemovesJunk(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	item := &SourceItem{
		ID: 1,
		Text: "ДАННОЕ СООБЩЕНИЕ СОЗДАНО ЛИЦОМ ВЫПОЛНЯЮЩИМ ФУНКЦИИ ИНОСТРАННОГО АГЕНТА.\n" +
			"Новость дня\n\nТекст сообщения.",
	}
	title, body := c.FormatTitleAndBody(item, "https://example.org/chan/1")
	if title != "Новость дня" {
		t.Errorf("title: got %q, want %q", title, "Новость дня")
	}
	if strings.Contains(body, "ИНОСТРАННОГО") {
		t.Errorf("junk survived in body: %q", body)
	}
}

func TestFormatTitleAndBodyAppendsPreviewURL(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	item := &SourceItem{
		ID:      5,
		Text:    "Статья",
		Preview: &WebPreview{URL: "https://site.example/story"},
	}
	_, body := c.FormatTitleAndBody(item, "https://example.org/chan/5")
	if !strings.Contains(body, "https://site.example/story") {
		t.Errorf("preview URL missing from body: %q", body)
	}
}

func TestFormatTitleAndBodyDropsDuplicatedPreviewURL(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	item := &SourceItem{
		ID:      6,
		Text:    "Таймс пишет\n\nhttps://site.example/story?utm=1",
		Preview: &WebPreview{URL: "https://site.example/story"},
	}
	title, body := c.FormatTitleAndBody(item, "https://example.org/chan/6")
	if title != "Таймс пишет" {
		t.Errorf("title: got %q", title)
	}
	if strings.Contains(body, "utm=1") {
		t.Errorf("longer in-text URL should have been dropped: %q", body)
	}
	if !strings.Contains(body, "https://site.example/story") {
		t.Errorf("preview URL missing from body: %q", body)
	}
}

func TestFormatTitleAndBodyTrimsParagraphsToBudget(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	caps := testCaps()
	caps.MaxContentLength = 100
	c.SetLimits(caps, 1500)

	link := "https://example.org/chan/8"
	para := strings.Repeat("б", 30)
	item := &SourceItem{ID: 8, Text: strings.Repeat("а", 10) + "\n\n" + para + "\n\n" + para + "\n\n" + para}
	title, body := c.FormatTitleAndBody(item, link)
	if title != strings.Repeat("а", 10) {
		t.Errorf("title: got %q", title)
	}
	if !strings.HasSuffix(body, "[…] 🔗 "+link) {
		t.Errorf("body does not end with trimmed link marker: %q", body)
	}
	if got := strings.Count(body, para); got != 1 {
		t.Errorf("body keeps %d filler paragraphs, want 1: %q", got, body)
	}
}

func TestFormatTitleAndBodyTrimsAtSentenceBoundary(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	caps := testCaps()
	caps.MaxContentLength = 100
	c.SetLimits(caps, 1500)

	link := "https://example.org/chan/9"
	sentence := "Первое предложение тут."
	item := &SourceItem{ID: 9, Text: sentence + " " + strings.Repeat("а", 80)}
	title, body := c.FormatTitleAndBody(item, link)
	if title != sentence {
		t.Errorf("title: got %q, want %q", title, sentence)
	}
	if body != "[…] 🔗 "+link {
		t.Errorf("body: got %q", body)
	}
}

func TestIsImportant(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	cases := []struct {
		title string
		want  bool
	}{
		{"", false},
		{"Обычные новости за день", false},
		{"❗ Срочные новости", true},
		{"В стране объявлена мобилизация резервистов", true},
		{"Принят новый закон о налогах", true},
	}
	for _, tc := range cases {
		if got := c.IsImportant(tc.title); got != tc.want {
			t.Errorf("IsImportant(%q): got %v, want %v", tc.title, got, tc.want)
		}
	}
}

func TestTrimDescription(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	caps := testCaps()
	c.SetLimits(caps, 10)

	if got := c.TrimDescription("короткое"); got != "короткое" {
		t.Errorf("short description modified: %q", got)
	}
	got := c.TrimDescription(strings.Repeat("о", 20))
	if runes := []rune(got); len(runes) != 10 {
		t.Errorf("trimmed description is %d runes, want 10: %q", len(runes), got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("trimmed description lacks ellipsis: %q", got)
	}
}

func TestDefaultLink(t *testing.T) {
	t.Parallel()
	c := testComposer(t)
	if got := c.DefaultLink(123); got != "https://example.org/chan/123" {
		t.Errorf("DefaultLink: got %q", got)
	}
}

func TestNewComposerRejectsInvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := NewComposer(&FormattingConfig{JunkPatterns: []string{"("}})
	if err == nil {
		t.Error("expected an error for an unbalanced pattern")
	}
}
