// Copyright 2024-2026 Aiku AI

package mirror

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default classifiers, ported from the channel this mirror was built
// for. Deployments override them via formatting config.
var (
	defaultJunkPatterns = []string{
		`(?m)^(\s|«)*ДАННОЕ\s+СООБЩЕНИЕ.+ВЫПОЛНЯЮЩИМ\s+ФУНКЦИИ\s+ИНОСТРАННОГО\s+АГЕНТА?[.\s]*$`,
	}
	defaultImportantPatterns = []string{
		`^❗`,
		`(начинается|подходит\s+к\s+концу|завершается).+день`,
		`(принят|подписа[лн]|одобр(ил|ен)|внес(ен|ли)).+закон`,
		`главн[ыо][ем]\s+([ко]\s+)?(фото(графи)?|событ|новост|.*(минут|момент))`,
		`призыв|мобилизаци[ия]|повестк[ауе]|воинск[а-яё]*\s+уч[её]т`,
		`ЛГБТ\+?|трансгендер`,
	}
)

const (
	linkPrefix        = "🔗 "
	trimmedLinkPrefix = "[…] 🔗 "
)

var sentenceEnd = ".!?"

// Composer turns a source item into target post content: junk scrubbing,
// length budgeting against instance capabilities, title/body splitting
// and importance classification.
type Composer struct {
	junk      *regexp.Regexp
	important *regexp.Regexp
	linkBase  string

	maxLength            int
	linkReserved         int
	maxDescriptionLength int
}

// NewComposer compiles the configured classifiers, falling back to the
// built-in defaults when a list is empty.
func NewComposer(cfg *FormattingConfig) (*Composer, error) {
	c := &Composer{
		linkBase: strings.TrimSuffix(cfg.LinkBase, "/"),
		// Conservative fallbacks until SetLimits is called with the
		// instance's real capabilities.
		maxLength:            500,
		linkReserved:         23,
		maxDescriptionLength: 1500,
	}
	junkPatterns := cfg.JunkPatterns
	if len(junkPatterns) == 0 {
		junkPatterns = defaultJunkPatterns
	}
	importantPatterns := cfg.ImportantPatterns
	if len(importantPatterns) == 0 {
		importantPatterns = defaultImportantPatterns
	}
	var err error
	c.junk, err = compileAlternatives("(?m)", junkPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid junk pattern: %w", err)
	}
	c.important, err = compileAlternatives("(?im)", importantPatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid important pattern: %w", err)
	}
	return c, nil
}

func compileAlternatives(flags string, patterns []string) (*regexp.Regexp, error) {
	wrapped := make([]string, len(patterns))
	for i, p := range patterns {
		wrapped[i] = "(?:" + p + ")"
	}
	return regexp.Compile(flags + strings.Join(wrapped, "|"))
}

// SetLimits adopts the target instance's capability descriptor.
func (c *Composer) SetLimits(caps *Capabilities, maxDescriptionLength int) {
	c.maxLength = caps.MaxContentLength
	c.linkReserved = caps.URLReservedChars
	c.maxDescriptionLength = min(caps.MaxContentLength, maxDescriptionLength)
	if caps.MaxDescriptionLength > 0 {
		c.maxDescriptionLength = min(c.maxDescriptionLength, caps.MaxDescriptionLength)
	}
}

// DefaultLink builds the deterministic fallback link for an item.
func (c *Composer) DefaultLink(itemID int64) string {
	return fmt.Sprintf("%s/%d", c.linkBase, itemID)
}

// IsImportant reports whether the title matches the importance
// classifier.
func (c *Composer) IsImportant(title string) bool {
	return title != "" && c.important.MatchString(title)
}

// TrimDescription bounds an attachment description, ellipsizing on
// overflow.
func (c *Composer) TrimDescription(desc string) string {
	runes := []rune(desc)
	if len(runes) <= c.maxDescriptionLength {
		return desc
	}
	return strings.TrimSpace(string(runes[:c.maxDescriptionLength-1])) + "…"
}

// FormatTitleAndBody composes the spoiler title and body for an item.
// The body always ends with a back-reference link; content that exceeds
// the instance budget is trimmed paragraph by paragraph, then sentence by
// sentence.
func (c *Composer) FormatTitleAndBody(item *SourceItem, link string) (title, body string) {
	if link == "" {
		link = c.DefaultLink(item.ID)
	}
	text := item.Text
	if text != "" {
		if loc := c.junk.FindStringIndex(text); loc != nil {
			text = text[:loc[0]] + text[loc[1]:]
		}
	}
	if item.Preview != nil && item.Preview.URL != "" {
		text += "\n\n" + item.Preview.URL
	}

	var paragraphs []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	paragraphs = c.reduce(paragraphs, link)

	if len(paragraphs) > 1 {
		return paragraphs[0], strings.Join(paragraphs[1:], "\n\n")
	}
	// Single paragraph: promote the first sentence to the title, unless
	// all that is left is the bare backlink.
	p := paragraphs[0]
	if strings.HasPrefix(p, linkPrefix) || strings.HasPrefix(p, trimmedLinkPrefix) {
		return "", p
	}
	if head, tail, found := strings.Cut(p, "."); found {
		return head, strings.TrimSpace(tail)
	}
	return "", p
}

// reduce trims the paragraph list into the instance length budget and
// appends the back-reference link.
func (c *Composer) reduce(paragraphs []string, link string) []string {
	// Drop a bare URL paragraph duplicated by the preview expansion of
	// the paragraph after it.
	if len(paragraphs) > 1 {
		for i := len(paragraphs) - 1; i > 1; i-- {
			if strings.HasPrefix(paragraphs[i-1], "http") &&
				strings.HasPrefix(paragraphs[i-1], paragraphs[i]) &&
				utf8.RuneCountInString(paragraphs[i]) > 10 {
				paragraphs = append(paragraphs[:i-1], paragraphs[i:]...)
				break
			}
		}
	}

	budget := c.maxLength - c.linkReserved - utf8.RuneCountInString(link) - utf8.RuneCountInString(linkPrefix) - 2
	if sumLength(paragraphs) < budget {
		return append(paragraphs, linkPrefix+link)
	}

	budget -= utf8.RuneCountInString(trimmedLinkPrefix) - utf8.RuneCountInString(linkPrefix)
	for sumLength(paragraphs) > budget && len(paragraphs) > 1 {
		paragraphs = paragraphs[:len(paragraphs)-1]
	}
	if len(paragraphs) > 0 && sumLength(paragraphs) > budget {
		runes := []rune(paragraphs[0])
		for len(runes) > budget {
			idx := lastIndexAnyRunes(runes[:max(len(runes)-2, 0)], sentenceEnd)
			if idx <= 0 {
				break
			}
			runes = runes[:idx+1]
		}
		if budget > 0 && len(runes) > budget {
			runes = runes[:budget]
		}
		paragraphs[0] = string(runes)
	}
	return append(paragraphs, trimmedLinkPrefix+link)
}

// sumLength counts runes across paragraphs plus the blank-line joins.
func sumLength(paragraphs []string) int {
	total := 0
	for _, p := range paragraphs {
		total += utf8.RuneCountInString(p)
	}
	return total + (len(paragraphs)-1)*2
}

func lastIndexAnyRunes(runes []rune, chars string) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if strings.ContainsRune(chars, runes[i]) {
			return i
		}
	}
	return -1
}
