// Package i18n provides the localized user-facing messages.
package i18n

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ourisland/litemacro/internal/logging"
	"gopkg.in/yaml.v3"
)

// DefaultLang is used when the requested language has no bundle.
const DefaultLang = "en_US"

// PrefixKey is prepended to every prefixed message.
const PrefixKey = "litemacro.prefix"

//go:embed lang/*.yml
var builtinFS embed.FS

// Bundle is an immutable set of messages for one language.
type Bundle struct {
	lang     string
	messages map[string]string
	fallback map[string]string
}

// Load returns the bundle for lang, falling back to DefaultLang with a
// warning when lang is unknown.
func Load(lang string) *Bundle {
	return LoadWithOverrides(lang, "")
}

// LoadWithOverrides is Load plus per-key overrides read from
// <dir>/lang/<lang>.yml when that file exists.
func LoadWithOverrides(lang, dir string) *Bundle {
	logger := logging.Component("i18n")

	fallback, err := readBuiltin(DefaultLang)
	if err != nil {
		// The default bundle is embedded; failing here is a build defect.
		panic(fmt.Sprintf("i18n: default bundle: %v", err))
	}

	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = DefaultLang
	}

	messages, err := readBuiltin(lang)
	if err != nil {
		logger.Warn().Str("lang", lang).Msgf("failed to load language %q, falling back to %s", lang, DefaultLang)
		lang = DefaultLang
		messages = fallback
	}

	if dir != "" {
		path := filepath.Join(dir, "lang", lang+".yml")
		overrides, err := readFile(path)
		switch {
		case err == nil:
			merged := make(map[string]string, len(messages)+len(overrides))
			for k, v := range messages {
				merged[k] = v
			}
			for k, v := range overrides {
				merged[k] = v
			}
			messages = merged
		case !os.IsNotExist(err):
			logger.Warn().Err(err).Str("path", path).Msg("ignoring message overrides")
		}
	}

	return &Bundle{lang: lang, messages: messages, fallback: fallback}
}

// Languages lists the embedded bundles.
func Languages() []string {
	entries, err := builtinFS.ReadDir("lang")
	if err != nil {
		return []string{DefaultLang}
	}
	langs := make([]string, 0, len(entries))
	for _, entry := range entries {
		langs = append(langs, strings.TrimSuffix(entry.Name(), ".yml"))
	}
	sort.Strings(langs)
	return langs
}

func readBuiltin(lang string) (map[string]string, error) {
	data, err := builtinFS.ReadFile("lang/" + lang + ".yml")
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (map[string]string, error) {
	messages := map[string]string{}
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	return messages, nil
}

// Lang is the language actually loaded.
func (b *Bundle) Lang() string { return b.lang }

// Get returns the raw message for key. Unknown keys render as the key.
func (b *Bundle) Get(key string) string {
	if msg, ok := b.messages[key]; ok {
		return msg
	}
	if msg, ok := b.fallback[key]; ok {
		return msg
	}
	return key
}

// T formats key with args and adds the prefix.
func (b *Bundle) T(key string, args ...any) string {
	return b.Get(PrefixKey) + b.Plain(key, args...)
}

// Plain formats key with args without the prefix.
func (b *Bundle) Plain(key string, args ...any) string {
	return format(b.Get(key), args)
}

// Prefix prepends the prefix to already rendered text.
func (b *Bundle) Prefix(text string) string {
	return b.Get(PrefixKey) + text
}

// format replaces positional {0}, {1}, ... markers in one pass.
func format(pattern string, args []any) string {
	if len(args) == 0 {
		return pattern
	}
	pairs := make([]string, 0, 2*len(args))
	for i, arg := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(arg))
	}
	return strings.NewReplacer(pairs...).Replace(pattern)
}
