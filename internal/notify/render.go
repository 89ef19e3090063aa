package notify

import (
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
)

//go:embed locales/active.*.toml
var localeFS embed.FS

const dateLayout = "Monday, January 2, 2006 at 15:04 MST"

// Renderer turns a Message into localized email text using go-i18n bundles
// embedded in the binary.
type Renderer struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
	window          time.Duration
	log             *slog.Logger
}

// NewRenderer builds a Renderer falling back to defaultLocale (e.g. "en").
// window is the cancellation window quoted in confirmations.
func NewRenderer(defaultLocale string, window time.Duration, log *slog.Logger) *Renderer {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range []string{"locales/active.en.toml", "locales/active.fr.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			log.Error("i18n: failed to load message file", "file", file, "error", err)
		}
	}

	return &Renderer{bundle: bundle, defaultLanguage: tag, window: window, log: log}
}

// Render returns the subject and plain-text body for msg.
func (r *Renderer) Render(msg Message) (subject, body string, err error) {
	var prefix string
	switch msg.Type {
	case TypeRegistrationConfirmed:
		prefix = "registration_confirmed"
	case TypeRegistrationCancelled:
		prefix = "registration_cancelled"
	default:
		return "", "", fmt.Errorf("no template for notification type %q", msg.Type)
	}

	loc := r.localizer(msg.Locale)
	name := msg.Name
	if name == "" {
		name = r.t(loc, "greeting_fallback", nil)
	}
	data := map[string]any{
		"Name":        name,
		"Title":       msg.Title,
		"Kind":        r.t(loc, "kind_"+string(msg.EntityKind), nil),
		"KindShort":   r.t(loc, "kind_short_"+string(msg.EntityKind), nil),
		"Date":        msg.ScheduledStart.UTC().Format(dateLayout),
		"Format":      r.t(loc, "format_"+string(msg.Format), nil),
		"WindowHours": int(r.window.Hours()),
	}
	if msg.Format == model.FormatOnline {
		data["Link"] = msg.OnlineLink
	} else {
		data["Address"] = msg.Address
	}

	subject, err = loc.Localize(&i18n.LocalizeConfig{MessageID: prefix + "_subject", TemplateData: data})
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	body, err = loc.Localize(&i18n.LocalizeConfig{MessageID: prefix + "_body", TemplateData: data})
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return subject, body, nil
}

func (r *Renderer) localizer(locale string) *i18n.Localizer {
	languages := []string{}
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, r.defaultLanguage.String())
	return i18n.NewLocalizer(r.bundle, languages...)
}

// t renders key, falling back to the key itself.
func (r *Renderer) t(loc *i18n.Localizer, key string, data map[string]any) string {
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: key, TemplateData: data})
	if err != nil {
		r.log.Warn("i18n: localize failed", "key", key, "error", err)
		return key
	}
	return msg
}
