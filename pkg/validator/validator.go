package validator

import (
	"net"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate

	hostLabel = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		if err.Param != "" {
			parts[i] = err.Field + " failed on " + err.Tag + "=" + err.Param
		} else {
			parts[i] = err.Field + " failed on " + err.Tag
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	if ve, ok := err.(validator.ValidationErrors); ok {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// IsDomain reports whether value looks like the domain of a requesting application:
// a host name, optionally with a port, or an http(s) origin.
func IsDomain(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	if strings.Contains(value, "://") {
		parsed, err := url.Parse(value)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return false
		}
		if parsed.Path != "" && parsed.Path != "/" {
			return false
		}
		value = parsed.Host
	}

	host := value
	if h, _, err := net.SplitHostPort(value); err == nil {
		host = h
	}
	if host == "" || len(host) > 253 {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}

	for _, label := range strings.Split(host, ".") {
		if !hostLabel.MatchString(label) {
			return false
		}
	}
	return true
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("skappdomain", func(fl validator.FieldLevel) bool {
			return IsDomain(fl.Field().String())
		})
	})
	return validate
}
