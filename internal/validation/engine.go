// Package validation checks submitted field values against a field's
// validation schema.
package validation

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/pattern"
	"github.com/pitabwire/regelwerk/model"
)

// Messages returned in ValidationResult.Errors.
const (
	MsgRequired          = "Field is required"
	MsgPatternMismatch   = "Value does not match required pattern"
	MsgInvalidPattern    = "Invalid pattern configuration"
	MsgInvalidEmail      = "Invalid email format"
	MsgInvalidPhone      = "Invalid phone number format"
	MsgInvalidURL        = "Invalid URL format"
	MsgInvalidNumber     = "Invalid number format"
	MsgIntegerOnly       = "Value must be an integer"
	MsgInvalidDate       = "Invalid date format"
	MsgNoFutureDates     = "Future dates are not allowed"
	MsgNoPastDates       = "Past dates are not allowed"
	MsgMultipleNotList   = "Multiple selection must be a list"
	MsgMimeTypeForbidden = "File type not allowed"
	MsgInternal          = "Validation error occurred"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
	urlPattern   = regexp.MustCompile(`^https?://.+`)
)

// Engine validates field values. It is safe for concurrent use.
type Engine struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewEngine creates an Engine. A nil logger discards output; nil metrics
// disable recording.
func NewEngine(logger *zap.Logger, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger, metrics: metrics, now: time.Now}
}

// Validate checks value against field. Rule violations accumulate in the
// result; they are never returned as errors. A field without any validation
// rules accepts every value, including an empty value on a required field.
func (e *Engine) Validate(field model.Field, value model.Value) (res model.ValidationResult) {
	res = model.ValidationResult{Valid: true, Errors: []string{}}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validation failed unexpectedly",
				zap.String("field_id", field.ID),
				zap.Any("panic", r),
			)
			res = model.ValidationResult{Valid: false, Errors: []string{MsgInternal}}
		}
		e.metrics.RecordValidation(string(field.Type), res.Valid)
	}()

	if field.Validation.IsEmpty() {
		return res
	}

	if value.IsBlank() {
		if field.Requirement == model.RequirementRequired {
			addError(&res, MsgRequired)
		}
		return res
	}

	c := &checker{res: &res, logger: e.logger, today: today(e.now())}
	switch field.Type {
	case model.FieldTypeText:
		c.text(field.Validation, value.String())
	case model.FieldTypeSelect:
		c.selection(field, value)
	case model.FieldTypeDocument:
		c.document(field, value)
	}
	return res
}

type checker struct {
	res    *model.ValidationResult
	logger *zap.Logger
	today  time.Time
}

func (c *checker) fail(msg string) { addError(c.res, msg) }

func (c *checker) text(rules model.ValidationSchema, s string) {
	if r := rules.String; r != nil {
		c.stringRules(r, s)
	}
	if r := rules.Number; r != nil {
		c.numberRules(r, s)
	}
	if r := rules.Date; r != nil {
		c.dateRules(r, s)
	}
}

func (c *checker) stringRules(r *model.StringRules, s string) {
	length := utf8.RuneCountInString(s)
	if r.MinLength != nil && length < *r.MinLength {
		c.fail(fmt.Sprintf("Minimum length is %d characters", *r.MinLength))
	}
	if r.MaxLength != nil && length > *r.MaxLength {
		c.fail(fmt.Sprintf("Maximum length is %d characters", *r.MaxLength))
	}

	if r.Pattern != "" {
		re, err := pattern.Compile(r.Pattern)
		switch {
		case err != nil:
			c.logger.Error("invalid validation pattern", zap.String("pattern", r.Pattern), zap.Error(err))
			c.fail(MsgInvalidPattern)
		case !re.MatchString(s):
			msg := r.PatternError
			if msg == "" {
				msg = MsgPatternMismatch
			}
			c.fail(msg)
		}
	}

	switch strings.ToLower(r.Format) {
	case "email":
		if !emailPattern.MatchString(s) {
			c.fail(MsgInvalidEmail)
		}
	case "phone":
		if !phonePattern.MatchString(s) {
			c.fail(MsgInvalidPhone)
		}
	case "url":
		if !urlPattern.MatchString(s) {
			c.fail(MsgInvalidURL)
		}
	}
}

func (c *checker) numberRules(r *model.NumberRules, s string) {
	n, ok := model.ParseNumber(s)
	if !ok {
		c.fail(MsgInvalidNumber)
		return
	}
	if r.MinValue != nil && n < *r.MinValue {
		c.fail("Minimum value is " + model.NumberValue(*r.MinValue).String())
	}
	if r.MaxValue != nil && n > *r.MaxValue {
		c.fail("Maximum value is " + model.NumberValue(*r.MaxValue).String())
	}
	if r.IntegerOnly && n != math.Floor(n) {
		c.fail(MsgIntegerOnly)
	}
	if r.MaxDecimalPlaces != nil && decimalPlaces(n) > *r.MaxDecimalPlaces {
		c.fail(fmt.Sprintf("Maximum %d decimal places allowed", *r.MaxDecimalPlaces))
	}
}

func decimalPlaces(n float64) int {
	s := strconv.FormatFloat(n, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func (c *checker) dateRules(r *model.DateRules, s string) {
	layout := Layout(r.Format)
	d, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		c.fail(MsgInvalidDate)
		return
	}
	d = truncateDay(d)

	if r.MinDate != "" {
		if min, ok := parseBound(r.MinDate); ok && d.Before(min) {
			c.fail("Date must be after " + min.Format(isoDate))
		}
	}
	if r.MaxDate != "" {
		if max, ok := parseBound(r.MaxDate); ok && d.After(max) {
			c.fail("Date must be before " + max.Format(isoDate))
		}
	}
	if r.NoFutureDates && d.After(c.today) {
		c.fail(MsgNoFutureDates)
	}
	if r.NoPastDates && d.Before(c.today) {
		c.fail(MsgNoPastDates)
	}
}

func (c *checker) selection(field model.Field, value model.Value) {
	allowed := make(map[string]struct{}, len(field.Options))
	for _, opt := range field.Options {
		allowed[opt.Value] = struct{}{}
	}

	if field.SelectType != nil && *field.SelectType == model.SelectTypeMultiple {
		items, ok := value.List()
		if !ok {
			c.fail(MsgMultipleNotList)
			return
		}
		for _, item := range items {
			if _, ok := allowed[item.String()]; !ok {
				c.fail("Invalid selection: " + item.String())
			}
		}
		return
	}

	if _, ok := allowed[value.String()]; !ok {
		c.fail("Invalid selection: " + value.String())
	}
}

// document checks an upload descriptor object. The limits come from the
// field's document constraints, with the document rule group filling in
// what the constraints leave unset.
func (c *checker) document(field model.Field, value model.Value) {
	maxSize, formats, mimeTypes := documentLimits(field)

	if maxSize != nil {
		if size, ok := value.Field("size"); ok {
			if n, ok := size.Float(); ok && n > *maxSize*1024*1024 {
				c.fail("File size exceeds " + model.NumberValue(*maxSize).String() + "MB")
			}
		}
	}

	if len(formats) > 0 {
		if name, ok := fileName(value); ok {
			ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
			if !containsFold(formats, ext) {
				c.fail("File format not allowed. Allowed: " + strings.Join(formats, ", "))
			}
		}
	}

	if len(mimeTypes) > 0 {
		if ct, ok := value.Field("content_type"); ok && !ct.IsNull() {
			if !containsFold(mimeTypes, ct.String()) {
				c.fail(MsgMimeTypeForbidden)
			}
		}
	}
}

func documentLimits(field model.Field) (*float64, []string, []string) {
	dc := field.DocumentConstraints
	maxSize, formats, mimeTypes := dc.MaxSizeMB, dc.AllowedFormats, dc.AllowedMimeTypes
	if r := field.Validation.DocumentRules(); r != nil {
		if maxSize == nil {
			maxSize = r.MaxSizeMB
		}
		if len(formats) == 0 {
			formats = r.AllowedExtensions
		}
		if len(mimeTypes) == 0 {
			mimeTypes = r.AllowedMimeTypes
		}
	}
	return maxSize, formats, mimeTypes
}

func fileName(v model.Value) (string, bool) {
	for _, key := range []string{"filename", "file_name"} {
		if n, ok := v.Field(key); ok && !n.IsNull() {
			return n.String(), true
		}
	}
	return "", false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimPrefix(item, "."), s) {
			return true
		}
	}
	return false
}

func addError(res *model.ValidationResult, msg string) {
	res.Valid = false
	res.Errors = append(res.Errors, msg)
}
