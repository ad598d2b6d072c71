package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// DefaultLocale is used when a requested locale has no file.
const DefaultLocale = "pt-BR"

type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator loads locales/<lang>.yaml from fsys, falling back to the
// default locale when the requested one is missing.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	if langCode == "" {
		langCode = DefaultLocale
	}
	data, err := fs.ReadFile(fsys, path.Join("locales", langCode+".yaml"))
	if err != nil && langCode != DefaultLocale {
		langCode = DefaultLocale
		data, err = fs.ReadFile(fsys, path.Join("locales", langCode+".yaml"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file for %s: %w", langCode, err)
	}

	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = langCode
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T returns the message for key, formatted with args. Unknown keys are
// returned as-is.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Lang reports the locale actually loaded.
func (t *Translator) Lang() string { return t.lang }
