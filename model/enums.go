package model

import (
	"fmt"
	"strings"
	"unicode"
)

// FieldType is the kind of input a field renders as.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeSelect   FieldType = "select"
	FieldTypeDocument FieldType = "document"
)

// Visibility controls whether a rendered field is read-only or editable.
type Visibility string

const (
	VisibilityVisible  Visibility = "visible"
	VisibilityEditable Visibility = "editable"
)

// Requirement controls whether a value must be supplied.
type Requirement string

const (
	RequirementOptional Requirement = "optional"
	RequirementRequired Requirement = "required"
)

// SelectType distinguishes single from multiple choice select fields.
type SelectType string

const (
	SelectTypeRadio    SelectType = "radio"
	SelectTypeMultiple SelectType = "multiple"
)

// DocumentMode describes what a user may do with a document field.
type DocumentMode string

const (
	DocumentModeDownload               DocumentMode = "download"
	DocumentModeDownloadUpload         DocumentMode = "download_upload"
	DocumentModeDownloadMetadataUpload DocumentMode = "download_metadata_upload"
	DocumentModeUpload                 DocumentMode = "upload"
)

// Role is one of the user categories a template is rendered for.
type Role string

const (
	RoleAnmelder Role = "anmelder"
	RoleKlient   Role = "klient"
	RoleAdmin    Role = "admin"
)

// Language is one of the supported content languages.
type Language string

const (
	LanguageDE Language = "de"
	LanguageFR Language = "fr"
	LanguageIT Language = "it"
)

var (
	fieldTypes    = []FieldType{FieldTypeText, FieldTypeSelect, FieldTypeDocument}
	visibilities  = []Visibility{VisibilityVisible, VisibilityEditable}
	requirements  = []Requirement{RequirementOptional, RequirementRequired}
	selectTypes   = []SelectType{SelectTypeRadio, SelectTypeMultiple}
	documentModes = []DocumentMode{
		DocumentModeDownload, DocumentModeDownloadUpload,
		DocumentModeDownloadMetadataUpload, DocumentModeUpload,
	}
	roles     = []Role{RoleAnmelder, RoleKlient, RoleAdmin}
	languages = []Language{LanguageDE, LanguageFR, LanguageIT}
)

// Roles returns all known roles in declaration order.
func Roles() []Role { return append([]Role(nil), roles...) }

// Languages returns all supported languages in declaration order.
func Languages() []Language { return append([]Language(nil), languages...) }

// canonicalToken folds the accepted spellings of an enum value onto its wire
// form: "DownloadUpload", "download-upload" and " DOWNLOAD_UPLOAD " all become
// "download_upload".
func canonicalToken(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && unicode.IsLower(runes[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseEnum[T ~string](kind, s string, known []T) (T, error) {
	token := canonicalToken(s)
	for _, k := range known {
		if string(k) == token {
			return k, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("unknown %s %q", kind, s)
}

func isKnown[T ~string](v T, known []T) bool {
	for _, k := range known {
		if k == v {
			return true
		}
	}
	return false
}

// ParseFieldType parses a field type in any accepted spelling.
func ParseFieldType(s string) (FieldType, error) { return parseEnum("field type", s, fieldTypes) }

// ParseVisibility parses a visibility in any accepted spelling.
func ParseVisibility(s string) (Visibility, error) { return parseEnum("visibility", s, visibilities) }

// ParseRequirement parses a requirement in any accepted spelling.
func ParseRequirement(s string) (Requirement, error) {
	return parseEnum("requirement", s, requirements)
}

// ParseSelectType parses a select type in any accepted spelling.
func ParseSelectType(s string) (SelectType, error) { return parseEnum("select type", s, selectTypes) }

// ParseDocumentMode parses a document mode in any accepted spelling.
func ParseDocumentMode(s string) (DocumentMode, error) {
	return parseEnum("document mode", s, documentModes)
}

// ParseRole parses a role in any accepted spelling.
func ParseRole(s string) (Role, error) { return parseEnum("role", s, roles) }

// ParseLanguage parses a language code in any accepted spelling.
func ParseLanguage(s string) (Language, error) { return parseEnum("language", s, languages) }

func (t FieldType) String() string    { return string(t) }
func (v Visibility) String() string   { return string(v) }
func (r Requirement) String() string  { return string(r) }
func (s SelectType) String() string   { return string(s) }
func (m DocumentMode) String() string { return string(m) }
func (r Role) String() string         { return string(r) }
func (l Language) String() string     { return string(l) }

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool { return isKnown(t, fieldTypes) }

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool { return isKnown(v, visibilities) }

// Valid reports whether r is a known requirement.
func (r Requirement) Valid() bool { return isKnown(r, requirements) }

// Valid reports whether s is a known select type.
func (s SelectType) Valid() bool { return isKnown(s, selectTypes) }

// Valid reports whether m is a known document mode.
func (m DocumentMode) Valid() bool { return isKnown(m, documentModes) }

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return isKnown(r, roles) }

// Valid reports whether l is a known language.
func (l Language) Valid() bool { return isKnown(l, languages) }

// The text marshallers are the single place enum values are converted to and
// from their wire form. JSON, YAML map keys and query parameters all go
// through them.

func (t FieldType) MarshalText() ([]byte, error) { return []byte(t), nil }
func (t *FieldType) UnmarshalText(b []byte) (err error) {
	*t, err = ParseFieldType(string(b))
	return err
}

func (v Visibility) MarshalText() ([]byte, error) { return []byte(v), nil }
func (v *Visibility) UnmarshalText(b []byte) (err error) {
	*v, err = ParseVisibility(string(b))
	return err
}

func (r Requirement) MarshalText() ([]byte, error) { return []byte(r), nil }
func (r *Requirement) UnmarshalText(b []byte) (err error) {
	*r, err = ParseRequirement(string(b))
	return err
}

func (s SelectType) MarshalText() ([]byte, error) { return []byte(s), nil }
func (s *SelectType) UnmarshalText(b []byte) (err error) {
	*s, err = ParseSelectType(string(b))
	return err
}

func (m DocumentMode) MarshalText() ([]byte, error) { return []byte(m), nil }
func (m *DocumentMode) UnmarshalText(b []byte) (err error) {
	*m, err = ParseDocumentMode(string(b))
	return err
}

// An empty role or language decodes to the zero value, meaning unset.

func (r Role) MarshalText() ([]byte, error) { return []byte(r), nil }
func (r *Role) UnmarshalText(b []byte) (err error) {
	if len(b) == 0 {
		*r = ""
		return nil
	}
	*r, err = ParseRole(string(b))
	return err
}

func (l Language) MarshalText() ([]byte, error) { return []byte(l), nil }
func (l *Language) UnmarshalText(b []byte) (err error) {
	if len(b) == 0 {
		*l = ""
		return nil
	}
	*l, err = ParseLanguage(string(b))
	return err
}
