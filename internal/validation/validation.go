// Package validation 配置与 gin 绑定层共用的校验器，并把错误转换为字段级消息。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	notBlankTag  = "notblank"
	notBlankText = "{0} cannot be blank"

	mobileTag   = "in_mobile"
	mobileText  = "enter a valid 10-digit Indian number with optional +91"
	mobileRegex = regexp.MustCompile(`^(\+91)?[6-9]\d{9}$`)

	pinTag   = "pincode"
	pinText  = "PIN code must be exactly 6 digits"
	pinRegex = regexp.MustCompile(`^\d{6}$`)

	personNameTag   = "personname"
	personNameText  = "{0} can only contain letters, spaces, hyphens, and apostrophes"
	personNameRegex = regexp.MustCompile(`^[A-Za-z\s\-']+$`)

	webURLTag   = "weburl"
	webURLText  = "{0} must start with http:// or https://"
	webURLRegex = regexp.MustCompile(`^https?://\S+$`)

	requiredTag  = "required"
	requiredText = "this field is required"
)

var (
	setupOnce  sync.Once
	validate   *validator.Validate
	translator ut.Translator
	setupErr   error
)

// Setup 在 gin ShouldBind* 使用的校验器上注册字段名、自定义标签与英文翻译，可重复调用。
func Setup() error {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			setupErr = errors.New("gin validator engine is not go-playground/validator")
			return
		}

		english := en.New()
		uni := ut.New(english, english)
		trans, _ := uni.GetTranslator("en")
		if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
			setupErr = fmt.Errorf("register translations: %w", err)
			return
		}

		// 错误信息使用 JSON 字段名。
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})

		custom := []struct {
			tag  string
			text string
			fn   validator.Func
		}{
			{notBlankTag, notBlankText, notBlank},
			{mobileTag, mobileText, regexValidator(mobileRegex)},
			{pinTag, pinText, regexValidator(pinRegex)},
			{personNameTag, personNameText, regexValidator(personNameRegex)},
			{webURLTag, webURLText, emptyOr(regexValidator(webURLRegex))},
		}
		for _, c := range custom {
			if err := v.RegisterValidation(c.tag, c.fn); err != nil {
				setupErr = fmt.Errorf("register %s: %w", c.tag, err)
				return
			}
			registerTranslation(v, trans, c.tag, c.text, false)
		}
		registerTranslation(v, trans, requiredTag, requiredText, true)

		validate = v
		translator = trans
	})
	return setupErr
}

// MustSetup 在 Setup 失败时 panic。
func MustSetup() {
	if err := Setup(); err != nil {
		panic(err)
	}
}

func registerTranslation(v *validator.Validate, trans ut.Translator, tag, text string, override bool) {
	_ = v.RegisterTranslation(
		tag, trans,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

func notBlank(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return !field.IsZero()
	}
	return strings.TrimSpace(field.String()) != ""
}

func regexValidator(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

func emptyOr(fn validator.Func) validator.Func {
	return func(fl validator.FieldLevel) bool {
		if strings.TrimSpace(fl.Field().String()) == "" {
			return true
		}
		return fn(fl)
	}
}

// FieldErrors 以字段路径（JSON 名）为键保存错误信息。
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add 记录字段错误，同一字段只保留第一条。
func (f FieldErrors) Add(field, msg string) {
	if _, ok := f[field]; ok {
		return
	}
	f[field] = msg
}

// Merge 合并带前缀的错误。
func (f FieldErrors) Merge(prefix string, other FieldErrors) {
	for k, v := range other {
		if prefix != "" {
			k = prefix + "." + k
		}
		f.Add(k, v)
	}
}

// Err 在没有错误时返回 nil。
func (f FieldErrors) Err() error {
	if len(f) == 0 {
		return nil
	}
	return f
}

// Struct 校验 binding 标签，返回字段错误（可能为空）。
func Struct(s any) FieldErrors {
	errs := FieldErrors{}
	if err := Setup(); err != nil {
		errs.Add("_", err.Error())
		return errs
	}
	if err := validate.Struct(s); err != nil {
		errs.Merge("", FromError(err))
	}
	return errs
}

// FromError 将 validator 的错误转换为 FieldErrors；其他错误归到 "_" 键。
func FromError(err error) FieldErrors {
	errs := FieldErrors{}
	if err == nil {
		return errs
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs.Add("_", err.Error())
		return errs
	}
	for _, fe := range verrs {
		msg := fe.Error()
		if translator != nil {
			msg = fe.Translate(translator)
		}
		errs.Add(fieldPath(fe.Namespace()), msg)
	}
	return errs
}

// fieldPath 去掉命名空间开头的结构体名。
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
