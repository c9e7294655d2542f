// Package selector turns a DOM element into the most identifying selector
// string it can find, and snapshots elements into descriptors.
package selector

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"actionrecorder/backend/internal/dom"

	"go.uber.org/zap"
)

// Resolver walks a fixed strategy chain; the first strategy producing a
// non-empty selector wins.
type Resolver struct {
	logger *zap.Logger
	now    func() time.Time
	intn   func(n int) int
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithRand(intn func(n int) int) Option {
	return func(r *Resolver) { r.intn = intn }
}

func NewResolver(logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		logger: logger,
		now:    time.Now,
		intn:   rand.Intn,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type strategy func(doc dom.Document, e dom.Element) string

// Resolve never panics and never returns "". A panic inside any strategy is
// recovered and replaced with a timestamped fallback.
func (r *Resolver) Resolve(doc dom.Document, e dom.Element) (sel string) {
	if e == nil {
		return fmt.Sprintf("unknown-element-%d", r.now().UnixMilli())
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("selector resolution failed", zap.Any("panic", rec))
			sel = fmt.Sprintf("fallback-selector-%d", r.now().UnixMilli())
		}
	}()

	for _, s := range []strategy{
		byVisibleText,
		byID,
		byTestID,
		byRoleAndText,
		byAriaLabel,
		byPlaceholder,
		byName,
		byRole,
		byUniqueClass,
		StructuralPath,
		r.byTagAndRandom,
	} {
		if sel = s(doc, e); sel != "" {
			return sel
		}
	}
	return sel
}

func byVisibleText(_ dom.Document, e dom.Element) string {
	if e.Tag() != "button" && e.Tag() != "a" {
		return ""
	}
	if text := dom.TrimmedText(e); text != "" {
		return fmt.Sprintf(`text="%s"`, text)
	}
	return ""
}

func byID(_ dom.Document, e dom.Element) string {
	if id := dom.AttrOr(e, "id"); id != "" {
		return "#" + id
	}
	return ""
}

func byTestID(_ dom.Document, e dom.Element) string {
	if v := dom.AttrOr(e, "data-testid"); v != "" {
		return fmt.Sprintf(`[data-testid="%s"]`, v)
	}
	return ""
}

func byRoleAndText(_ dom.Document, e dom.Element) string {
	role := Role(e)
	if role == "" || !IsAllowedRole(role) {
		return ""
	}
	if text := dom.TrimmedText(e); text != "" {
		return fmt.Sprintf(`role=%s[name="%s"]`, role, text)
	}
	return ""
}

func byAriaLabel(_ dom.Document, e dom.Element) string {
	if v := dom.AttrOr(e, "aria-label"); v != "" {
		return fmt.Sprintf(`[aria-label="%s"]`, v)
	}
	return ""
}

func byPlaceholder(_ dom.Document, e dom.Element) string {
	if v := dom.AttrOr(e, "placeholder"); v != "" {
		return fmt.Sprintf(`[placeholder="%s"]`, v)
	}
	return ""
}

func byName(_ dom.Document, e dom.Element) string {
	if v := dom.AttrOr(e, "name"); v != "" {
		return fmt.Sprintf(`[name="%s"]`, v)
	}
	return ""
}

func byRole(_ dom.Document, e dom.Element) string {
	if role := Role(e); role != "" && IsAllowedRole(role) {
		return "role=" + role
	}
	return ""
}

// byUniqueClass only accepts a class attribute holding exactly one token that
// matches a single element in the current document.
func byUniqueClass(doc dom.Document, e dom.Element) string {
	class := dom.AttrOr(e, "class")
	if class == "" || doc == nil || strings.ContainsAny(class, " \t\n\r\f") {
		return ""
	}
	if len(doc.ElementsByClassName(class)) == 1 {
		return "." + class
	}
	return ""
}

func (r *Resolver) byTagAndRandom(_ dom.Document, e dom.Element) string {
	return fmt.Sprintf("%s[%d]", e.Tag(), r.intn(10000))
}
