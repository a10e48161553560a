// Package extract turns a rendered wiki article into a crawler.PageRecord
// using goquery selectors for the site's skin.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/wiki-crawler/internal/crawler"
)

// Default selectors for MediaWiki's Citizen skin.
const (
	DefaultTitleSelector   = ".mw-page-title-main"
	DefaultSectionSelector = "section.citizen-section"
	DefaultHeadingSelector = "h2.citizen-section-heading"
)

// Config selects the title, section and heading elements.
type Config struct {
	TitleSelector   string
	SectionSelector string
	HeadingSelector string
	IntroTitle      string
	UnknownTitle    string
}

func (c Config) withDefaults() Config {
	if c.TitleSelector == "" {
		c.TitleSelector = DefaultTitleSelector
	}
	if c.SectionSelector == "" {
		c.SectionSelector = DefaultSectionSelector
	}
	if c.HeadingSelector == "" {
		c.HeadingSelector = DefaultHeadingSelector
	}
	if c.IntroTitle == "" {
		c.IntroTitle = crawler.DefaultIntroTitle
	}
	if c.UnknownTitle == "" {
		c.UnknownTitle = crawler.DefaultUnknownTitle
	}
	return c
}

// SectionExtractor implements crawler.Extractor.
type SectionExtractor struct {
	cfg Config
}

// New returns a SectionExtractor; zero-valued fields fall back to defaults.
func New(cfg Config) *SectionExtractor {
	return &SectionExtractor{cfg: cfg.withDefaults()}
}

// Extract parses html and builds the record. Unparseable input yields the
// sentinel title and no sections.
func (e *SectionExtractor) Extract(html string) crawler.PageRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.PageRecord{Title: e.cfg.UnknownTitle, Content: []crawler.Section{}}
	}
	return e.ExtractDocument(doc)
}

// ExtractDocument builds the record from an already parsed document.
//
// The first section is the preamble and is emitted as the intro. Heading i is
// then paired with section i+1 by position; headings past the last section
// are dropped.
func (e *SectionExtractor) ExtractDocument(doc *goquery.Document) crawler.PageRecord {
	record := crawler.PageRecord{
		Title:   e.cfg.UnknownTitle,
		Content: []crawler.Section{},
	}

	if title := doc.Find(e.cfg.TitleSelector).First(); title.Length() > 0 {
		record.Title = visibleText(title)
	}

	sections := doc.Find(e.cfg.SectionSelector)
	headings := doc.Find(e.cfg.HeadingSelector)
	if sections.Length() == 0 {
		return record
	}

	record.Content = append(record.Content, crawler.Section{
		Title:   e.cfg.IntroTitle,
		Content: visibleText(sections.Eq(0)),
	})
	headings.Each(func(i int, heading *goquery.Selection) {
		if i+1 >= sections.Length() {
			return
		}
		record.Content = append(record.Content, crawler.Section{
			Title:   visibleText(heading),
			Content: visibleText(sections.Eq(i + 1)),
		})
	})
	return record
}

// visibleText returns the trimmed text of sel without script and style bodies.
func visibleText(sel *goquery.Selection) string {
	clone := sel.Clone()
	clone.Find("script, style, noscript, template").Remove()
	return strings.TrimSpace(clone.Text())
}
