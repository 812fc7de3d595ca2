package validation

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/model"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func textField(rules model.ValidationSchema) model.Field {
	return model.Field{
		ID: "f", Type: model.FieldTypeText,
		Visibility: model.VisibilityEditable, Requirement: model.RequirementOptional,
		Validation: rules,
	}
}

func fixedEngine() *Engine {
	e := NewEngine(nil, nil)
	e.now = func() time.Time { return time.Date(2026, 3, 15, 22, 30, 0, 0, time.UTC) }
	return e
}

func TestValidate_emptySchemaSkipsRequiredCheck(t *testing.T) {
	f := textField(model.ValidationSchema{})
	f.Requirement = model.RequirementRequired

	got := fixedEngine().Validate(f, model.StringValue(""))
	if !got.Valid || len(got.Errors) != 0 {
		t.Errorf("Validate() = %+v, want valid (required check skipped without rules)", got)
	}
}

func TestValidate_required(t *testing.T) {
	f := textField(model.ValidationSchema{String: &model.StringRules{MinLength: intPtr(5)}})
	f.Requirement = model.RequirementRequired

	for _, v := range []model.Value{model.Null(), model.StringValue(""), model.StringValue("  ")} {
		got := fixedEngine().Validate(f, v)
		if diff := cmp.Diff(model.ValidationResult{Valid: false, Errors: []string{MsgRequired}}, got); diff != "" {
			t.Errorf("Validate(%q) (-want +got):\n%s", v.String(), diff)
		}
	}
}

func TestValidate_optionalEmptySkipsTypeChecks(t *testing.T) {
	f := textField(model.ValidationSchema{String: &model.StringRules{MinLength: intPtr(5)}})
	got := fixedEngine().Validate(f, model.StringValue(""))
	if !got.Valid {
		t.Errorf("Validate() = %+v, want valid", got)
	}
}

func TestValidate_text(t *testing.T) {
	tests := []struct {
		name  string
		rules model.ValidationSchema
		value model.Value
		want  []string
	}{
		{"min length fails", model.ValidationSchema{String: &model.StringRules{MinLength: intPtr(5)}},
			model.StringValue("ab"), []string{"Minimum length is 5 characters"}},
		{"min length passes", model.ValidationSchema{String: &model.StringRules{MinLength: intPtr(5)}},
			model.StringValue("abcdef"), nil},
		{"max length counts characters", model.ValidationSchema{String: &model.StringRules{MaxLength: intPtr(3)}},
			model.StringValue("äöü"), nil},
		{"max length fails", model.ValidationSchema{String: &model.StringRules{MaxLength: intPtr(3)}},
			model.StringValue("abcd"), []string{"Maximum length is 3 characters"}},
		{"pattern default message", model.ValidationSchema{String: &model.StringRules{Pattern: `^\d+$`}},
			model.StringValue("12a"), []string{MsgPatternMismatch}},
		{"pattern custom message", model.ValidationSchema{String: &model.StringRules{Pattern: `^\d+$`, PatternError: "Nur Ziffern"}},
			model.StringValue("12a"), []string{"Nur Ziffern"}},
		{"invalid pattern", model.ValidationSchema{String: &model.StringRules{Pattern: `[`}},
			model.StringValue("x"), []string{MsgInvalidPattern}},
		{"email", model.ValidationSchema{String: &model.StringRules{Format: "email"}},
			model.StringValue("a@b"), []string{MsgInvalidEmail}},
		{"email ok", model.ValidationSchema{String: &model.StringRules{Format: "EMAIL"}},
			model.StringValue("anna@example.ch"), nil},
		{"phone", model.ValidationSchema{String: &model.StringRules{Format: "phone"}},
			model.StringValue("12345"), []string{MsgInvalidPhone}},
		{"phone ok", model.ValidationSchema{String: &model.StringRules{Format: "phone"}},
			model.StringValue("+41 (44) 123 45 67"), nil},
		{"url", model.ValidationSchema{String: &model.StringRules{Format: "url"}},
			model.StringValue("ftp://x"), []string{MsgInvalidURL}},
		{"unknown format ignored", model.ValidationSchema{String: &model.StringRules{Format: "iban"}},
			model.StringValue("x"), nil},
		{"accumulates string errors", model.ValidationSchema{String: &model.StringRules{MinLength: intPtr(5), Format: "email"}},
			model.StringValue("ab"), []string{"Minimum length is 5 characters", MsgInvalidEmail}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fixedEngine().Validate(textField(tt.rules), tt.value)
			assertResult(t, got, tt.want)
		})
	}
}

func TestValidate_number(t *testing.T) {
	tests := []struct {
		name  string
		rules model.NumberRules
		value model.Value
		want  []string
	}{
		{"not a number", model.NumberRules{MinValue: floatPtr(1)}, model.StringValue("abc"), []string{MsgInvalidNumber}},
		{"digit separator", model.NumberRules{MinValue: floatPtr(1)}, model.StringValue("1_0"), []string{MsgInvalidNumber}},
		{"hex literal", model.NumberRules{MaxValue: floatPtr(100)}, model.StringValue("0x10"), []string{MsgInvalidNumber}},
		{"below min", model.NumberRules{MinValue: floatPtr(1.5)}, model.NumberValue(1), []string{"Minimum value is 1.5"}},
		{"above max", model.NumberRules{MaxValue: floatPtr(10)}, model.StringValue("11"), []string{"Maximum value is 10"}},
		{"integer only", model.NumberRules{IntegerOnly: true}, model.StringValue("2.5"), []string{MsgIntegerOnly}},
		{"integer only ok", model.NumberRules{IntegerOnly: true}, model.StringValue("2"), nil},
		{"decimal places", model.NumberRules{MaxDecimalPlaces: intPtr(2)}, model.StringValue("1.234"), []string{"Maximum 2 decimal places allowed"}},
		{"decimal places ok", model.NumberRules{MaxDecimalPlaces: intPtr(2)}, model.StringValue("1.20"), nil},
		{"all violations", model.NumberRules{MaxValue: floatPtr(1), IntegerOnly: true}, model.StringValue("2.5"),
			[]string{"Maximum value is 1", MsgIntegerOnly}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := tt.rules
			got := fixedEngine().Validate(textField(model.ValidationSchema{Number: &rules}), tt.value)
			assertResult(t, got, tt.want)
		})
	}
}

func TestValidate_date(t *testing.T) {
	tests := []struct {
		name  string
		rules model.DateRules
		value string
		want  []string
	}{
		{"default format", model.DateRules{}, "2026-01-31", nil},
		{"bad default format", model.DateRules{}, "31.01.2026", []string{MsgInvalidDate}},
		{"custom format", model.DateRules{Format: "dd.MM.yyyy"}, "31.01.2026", nil},
		{"before min", model.DateRules{MinDate: "2026-02-01"}, "2026-01-31", []string{"Date must be after 2026-02-01"}},
		{"after max", model.DateRules{MaxDate: "2025-12-31"}, "2026-01-31", []string{"Date must be before 2025-12-31"}},
		{"future", model.DateRules{NoFutureDates: true}, "2026-03-16", []string{MsgNoFutureDates}},
		{"today is not future", model.DateRules{NoFutureDates: true}, "2026-03-15", nil},
		{"past", model.DateRules{NoPastDates: true}, "2026-03-14", []string{MsgNoPastDates}},
		{"unparsable bound ignored", model.DateRules{MinDate: "someday"}, "2026-01-31", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := tt.rules
			got := fixedEngine().Validate(textField(model.ValidationSchema{Date: &rules}), model.StringValue(tt.value))
			assertResult(t, got, tt.want)
		})
	}
}

func TestValidate_allGroupsRun(t *testing.T) {
	rules := model.ValidationSchema{
		String: &model.StringRules{MaxLength: intPtr(2)},
		Number: &model.NumberRules{},
		Date:   &model.DateRules{},
	}
	got := fixedEngine().Validate(textField(rules), model.StringValue("abc"))
	assertResult(t, got, []string{"Maximum length is 2 characters", MsgInvalidNumber, MsgInvalidDate})
}

func selectField(st model.SelectType) model.Field {
	return model.Field{
		ID: "s", Type: model.FieldTypeSelect, SelectType: &st,
		Requirement: model.RequirementOptional, Visibility: model.VisibilityEditable,
		Validation: model.ValidationSchema{String: &model.StringRules{}},
		Options:    []model.SelectOption{{Value: "a"}, {Value: "b"}},
	}
}

func TestValidate_select(t *testing.T) {
	tests := []struct {
		name  string
		field model.Field
		value model.Value
		want  []string
	}{
		{"multiple one bad", selectField(model.SelectTypeMultiple), model.StringList("a", "c"), []string{"Invalid selection: c"}},
		{"multiple all good", selectField(model.SelectTypeMultiple), model.StringList("a", "b"), nil},
		{"multiple not a list", selectField(model.SelectTypeMultiple), model.StringValue("a"), []string{MsgMultipleNotList}},
		{"radio ok", selectField(model.SelectTypeRadio), model.StringValue("b"), nil},
		{"radio bad", selectField(model.SelectTypeRadio), model.StringValue("z"), []string{"Invalid selection: z"}},
		{"radio exact match", selectField(model.SelectTypeRadio), model.StringValue("A"), []string{"Invalid selection: A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertResult(t, fixedEngine().Validate(tt.field, tt.value), tt.want)
		})
	}
}

func documentField() model.Field {
	return model.Field{
		ID: "d", Type: model.FieldTypeDocument,
		Requirement: model.RequirementOptional, Visibility: model.VisibilityEditable,
		Validation: model.ValidationSchema{Document: &model.DocumentRules{AllowedMimeTypes: []string{"application/pdf"}}},
		DocumentConstraints: model.DocumentConstraints{
			MaxSizeMB:      floatPtr(1),
			AllowedFormats: []string{"pdf", "png"},
		},
	}
}

func upload(attrs map[string]model.Value) model.Value { return model.ObjectValue(attrs) }

func TestValidate_document(t *testing.T) {
	tests := []struct {
		name  string
		value model.Value
		want  []string
	}{
		{"ok", upload(map[string]model.Value{
			"size": model.NumberValue(1024), "filename": model.StringValue("scan.PDF"),
			"content_type": model.StringValue("application/pdf"),
		}), nil},
		{"too large", upload(map[string]model.Value{"size": model.NumberValue(2 * 1024 * 1024)}),
			[]string{"File size exceeds 1MB"}},
		{"wrong extension", upload(map[string]model.Value{"file_name": model.StringValue("virus.exe")}),
			[]string{"File format not allowed. Allowed: pdf, png"}},
		{"wrong mime", upload(map[string]model.Value{"content_type": model.StringValue("text/html")}),
			[]string{MsgMimeTypeForbidden}},
		{"missing attributes skipped", upload(map[string]model.Value{"other": model.StringValue("x")}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertResult(t, fixedEngine().Validate(documentField(), tt.value), tt.want)
		})
	}
}

func TestValidate_documentRulesUnderFileKey(t *testing.T) {
	f := documentField()
	f.Validation = model.ValidationSchema{File: &model.DocumentRules{AllowedMimeTypes: []string{"application/pdf"}}}

	got := fixedEngine().Validate(f, upload(map[string]model.Value{"content_type": model.StringValue("text/html")}))
	assertResult(t, got, []string{MsgMimeTypeForbidden})
}

func TestValidate_recordsMetrics(t *testing.T) {
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	e := NewEngine(nil, metrics)
	f := textField(model.ValidationSchema{String: &model.StringRules{MinLength: intPtr(5)}})

	e.Validate(f, model.StringValue("ab"))
	e.Validate(f, model.StringValue("abcdef"))

	if v := testutil.ToFloat64(metrics.ValidationsTotal.WithLabelValues("text", "invalid")); v != 1 {
		t.Errorf("invalid count = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.ValidationsTotal.WithLabelValues("text", "valid")); v != 1 {
		t.Errorf("valid count = %v, want 1", v)
	}
}

func TestValidate_internalFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	metrics := observability.InitMetrics(prometheus.NewRegistry())
	e := NewEngine(zap.New(core), metrics)
	e.now = func() time.Time { panic("clock unavailable") }
	f := textField(model.ValidationSchema{Date: &model.DateRules{Format: "dd.MM.yyyy", NoFutureDates: true}})

	got := e.Validate(f, model.StringValue("01.01.2020"))
	want := model.ValidationResult{Valid: false, Errors: []string{MsgInternal}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Validate() (-want +got):\n%s", diff)
	}
	if n := logs.FilterMessage("validation failed unexpectedly").Len(); n != 1 {
		t.Errorf("logged %d failures, want 1", n)
	}
	if v := testutil.ToFloat64(metrics.ValidationsTotal.WithLabelValues("text", "invalid")); v != 1 {
		t.Errorf("invalid count = %v, want 1", v)
	}
}

func TestValidate_concurrentUse(t *testing.T) {
	e := fixedEngine()
	f := textField(model.ValidationSchema{
		String: &model.StringRules{MinLength: intPtr(3), Pattern: `^[a-z]+$`},
	})
	f.Requirement = model.RequirementRequired

	inputs := []struct {
		value model.Value
		valid bool
	}{
		{model.StringValue("abcd"), true},
		{model.StringValue("ab"), false},
		{model.StringValue("ABCD"), false},
		{model.Null(), false},
	}
	for i, in := range inputs {
		t.Run(in.value.String(), func(t *testing.T) {
			t.Parallel()
			for range 200 {
				if got := e.Validate(f, in.value); got.Valid != in.valid {
					t.Fatalf("input %d: Validate() = %+v, want valid=%v", i, got, in.valid)
				}
			}
		})
	}
}

func TestSchema(t *testing.T) {
	text := Schema("Text")
	if len(text) != 3 {
		t.Errorf("Schema(text) groups = %d, want 3", len(text))
	}
	if got := text["string"]["min_length"]; got != "Minimum character length" {
		t.Errorf("min_length description = %q", got)
	}
	if got := Schema("document")["file"]["max_size_mb"]; got != "Maximum file size in MB" {
		t.Errorf("max_size_mb description = %q", got)
	}
	if got := Schema("select"); len(got) != 0 {
		t.Errorf("Schema(select) = %v, want empty", got)
	}
}

func TestLayout(t *testing.T) {
	tests := map[string]string{
		"":                 "2006-01-02",
		"yyyy-MM-dd":       "2006-01-02",
		"dd.MM.yyyy":       "02.01.2006",
		"d/M/yy":           "2/1/06",
		"yyyy-MM-dd HH:mm": "2006-01-02 15:04",
	}
	for in, want := range tests {
		if got := Layout(in); got != want {
			t.Errorf("Layout(%q) = %q, want %q", in, got, want)
		}
	}
}

func assertResult(t *testing.T, got model.ValidationResult, wantErrors []string) {
	t.Helper()
	if wantErrors == nil {
		wantErrors = []string{}
	}
	want := model.ValidationResult{Valid: len(wantErrors) == 0, Errors: wantErrors}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Validate() (-want +got):\n%s", diff)
	}
}
