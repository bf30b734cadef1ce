package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed all:locales
var localeFS embed.FS

// Manager 管理 i18n Bundle 以及每种语言的 Localizer
type Manager struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
	logger          *zap.Logger
	localizers      map[string]*i18n.Localizer
	matcher         language.Matcher
	// index-aligned with the matcher's tags
	codes []string
}

// NewManager loads the embedded locale files. defaultLang is used when nothing better matches.
func NewManager(defaultLang string, logger *zap.Logger) (*Manager, error) {
	defaultTag, err := language.Parse(defaultLang)
	if err != nil {
		logger.Error("Failed to parse default language tag", zap.String("tag", defaultLang), zap.Error(err))
		return nil, fmt.Errorf("invalid default language tag '%s': %w", defaultLang, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	m := &Manager{
		bundle:          bundle,
		defaultLanguage: defaultTag,
		logger:          logger.Named("i18n"),
		localizers:      make(map[string]*i18n.Localizer),
	}
	codes, err := m.loadTranslations()
	if err != nil {
		return nil, err
	}

	defaultCode := defaultTag.String()
	// the matcher falls back to its first tag
	sort.Slice(codes, func(i, j int) bool {
		if codes[i] == defaultCode || codes[j] == defaultCode {
			return codes[i] == defaultCode
		}
		return codes[i] < codes[j]
	})
	if len(codes) == 0 || codes[0] != defaultCode {
		m.logger.Warn("Default language was not found in locale files", zap.String("lang", defaultCode))
		codes = append([]string{defaultCode}, codes...)
	}

	tags := make([]language.Tag, 0, len(codes))
	for _, code := range codes {
		tags = append(tags, language.MustParse(code))
		m.localizers[code] = i18n.NewLocalizer(bundle, code)
	}
	m.codes = codes
	m.matcher = language.NewMatcher(tags)

	m.logger.Info("i18n Manager initialized",
		zap.String("default_language", defaultCode),
		zap.Strings("languages", codes),
	)
	return m, nil
}

// loadTranslations reads files named like active.en.toml and returns their language codes.
func (m *Manager) loadTranslations() ([]string, error) {
	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded locales directory: %w", err)
	}

	var codes []string
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".toml" {
			continue
		}
		if _, err := m.bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			m.logger.Warn("Failed to load translation file", zap.String("file", name), zap.Error(err))
			continue
		}

		parts := strings.Split(strings.TrimSuffix(name, ".toml"), ".")
		code := parts[len(parts)-1]
		tag, err := language.Parse(code)
		if err != nil {
			m.logger.Warn("Failed to parse language code from filename", zap.String("file", name), zap.Error(err))
			continue
		}
		codes = append(codes, tag.String())
		m.logger.Debug("Loaded translation file", zap.String("file", name), zap.String("lang", tag.String()))
	}

	if len(codes) == 0 {
		return nil, errors.New("no valid translation files loaded")
	}
	return codes, nil
}

// Match picks the best supported language for the given preferences, in order.
// Each preference may be a single tag or a full Accept-Language header value.
func (m *Manager) Match(preferences ...string) string {
	for _, pref := range preferences {
		if strings.TrimSpace(pref) == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(pref)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, idx, confidence := m.matcher.Match(tags...)
		if confidence != language.No {
			return m.codes[idx]
		}
	}
	return m.defaultLanguage.String()
}

// Supported reports whether lang has a loaded translation.
func (m *Manager) Supported(lang string) bool {
	_, ok := m.localizers[lang]
	return ok
}

// Languages returns the supported language codes, default first.
func (m *Manager) Languages() []string {
	return append([]string(nil), m.codes...)
}

// T translates key into lang. args are key/value pairs used as template data.
// Unknown keys fall back to the key itself.
func (m *Manager) T(lang, key string, args ...any) string {
	localizer, ok := m.localizers[lang]
	if !ok {
		localizer = m.localizers[m.defaultLanguage.String()]
	}

	cfg := &i18n.LocalizeConfig{MessageID: key}
	if len(args) > 0 {
		data := make(map[string]any, len(args)/2)
		for i := 0; i+1 < len(args); i += 2 {
			k, ok := args[i].(string)
			if !ok {
				m.logger.Warn("Template data key is not a string", zap.String("key", key), zap.Any("arg", args[i]))
				continue
			}
			data[k] = args[i+1]
		}
		cfg.TemplateData = data
	}

	localized, err := localizer.Localize(cfg)
	if err != nil {
		var notFound *i18n.MessageNotFoundErr
		if !errors.As(err, &notFound) {
			m.logger.Error("Failed to localize message", zap.String("key", key), zap.String("lang", lang), zap.Error(err))
		}
		return key
	}
	return localized
}
