package service

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/pitabwire/regelwerk/model"
)

// strict removes every HTML element. It is safe for concurrent use.
var strict = bluemonday.StrictPolicy()

// sanitizeText strips markup from s. Entities produced by the policy are
// decoded again so that "Größe & Gewicht" survives unchanged.
func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

func sanitizeLocalized(t model.LocalizedText) model.LocalizedText {
	return model.LocalizedText{
		DE: sanitizeText(t.DE),
		FR: sanitizeText(t.FR),
		IT: sanitizeText(t.IT),
	}
}

func sanitizeField(f *model.Field) {
	f.Name = sanitizeLocalized(f.Name)
	for i := range f.Options {
		f.Options[i].Label = sanitizeLocalized(f.Options[i].Label)
	}
}

func sanitizeTemplate(t *model.Template) {
	t.Name = sanitizeLocalized(t.Name)
	if t.Description != nil {
		d := sanitizeLocalized(*t.Description)
		t.Description = &d
	}
}
