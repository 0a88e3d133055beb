// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package l10n formats localizable extension text for the active locale.
package l10n

import (
	"os"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"

	"github.com/blockhost/blockhost/pkg/blockext"
)

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "en"

// Formatter resolves blockext.Message values against a translation catalog.
// Messages without a translation fall back to their default text, then to
// their id.
type Formatter struct {
	mu      sync.RWMutex
	cat     *catalog.Builder
	locale  language.Tag
	printer *message.Printer
}

// New creates a Formatter for locale.
func New(locale string) (*Formatter, error) {
	f := &Formatter{cat: catalog.NewBuilder(catalog.Fallback(language.English))}
	if locale == "" {
		locale = DefaultLocale
	}
	if err := f.SetLocale(locale); err != nil {
		return nil, err
	}
	return f, nil
}

// SetLocale switches the active locale. Unknown but well-formed tags are
// accepted and matched against the loaded translations.
func (f *Formatter) SetLocale(locale string) error {
	tag, err := language.Parse(locale)
	if err != nil {
		return oops.In("l10n").Code("LOCALE_INVALID").With("locale", locale).Wrap(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locale = tag
	f.printer = message.NewPrinter(tag, message.Catalog(f.cat))
	return nil
}

// Locale returns the active locale tag.
func (f *Formatter) Locale() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.locale.String()
}

// AddMessages registers translations for locale, keyed by message id.
func (f *Formatter) AddMessages(locale string, msgs map[string]string) error {
	tag, err := language.Parse(locale)
	if err != nil {
		return oops.In("l10n").Code("LOCALE_INVALID").With("locale", locale).Wrap(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, text := range msgs {
		if err := f.cat.SetString(tag, id, text); err != nil {
			return oops.In("l10n").With("locale", locale).With("message", id).Wrap(err)
		}
	}
	// Rebuild so the printer matches against the new language set.
	f.printer = message.NewPrinter(f.locale, message.Catalog(f.cat))
	return nil
}

// LoadFile reads a YAML document of the form {locale: {id: text}}.
func (f *Formatter) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return oops.In("l10n").With("path", path).Wrap(err)
	}
	var doc map[string]map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.In("l10n").Code("TRANSLATIONS_INVALID").With("path", path).Wrap(err)
	}
	for locale, msgs := range doc {
		if err := f.AddMessages(locale, msgs); err != nil {
			return err
		}
	}
	return nil
}

// Format returns the localized text of msg.
func (f *Formatter) Format(msg blockext.Message) string {
	fallback := msg.Default
	if fallback == "" {
		fallback = msg.ID
	}
	if msg.ID == "" {
		return fallback
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.printer.Sprintf(message.Key(msg.ID, fallback))
}
