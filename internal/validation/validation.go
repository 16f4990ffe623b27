// Package validation содержит функции проверки входных данных.
// Функции не обращаются к хранилищу и возвращают список сообщений об ошибках.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe      = regexp.MustCompile(`^[+]?[\d\s-]{10,15}$`)
	urlRe        = regexp.MustCompile(`^(https?://)?([\w-]+(\.[\w-]+)+)([\w.,@?^=%&:/~+#-]*[\w@?^=%&/~+#-])?$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Error содержит сообщения об ошибках валидации входных данных по полям.
type Error struct {
	Messages []string
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// NewError создаёт ошибку валидации из списка сообщений. Возвращает nil при пустом списке.
func NewError(messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	return &Error{Messages: messages}
}

// SanitizeString убирает крайние пробелы и схлопывает внутренние.
// Возвращает nil для пустого результата.
func SanitizeString(s *string) *string {
	if s == nil {
		return nil
	}
	cleaned := whitespaceRe.ReplaceAllString(strings.TrimSpace(*s), " ")
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// SignupInput содержит данные формы регистрации.
type SignupInput struct {
	Email          string
	Password       string
	Name           *string
	CompanyName    *string
	CompanyAddress *string
	CompanyPhone   *string
	LogoURL        *string
}

// ValidateSignup проверяет данные регистрации пользователя.
func ValidateSignup(in SignupInput) error {
	var errs []string

	errs = append(errs, checkEmail(in.Email)...)

	if in.Password == "" {
		errs = append(errs, "password is required")
	} else if len(in.Password) < 8 {
		errs = append(errs, "password must be at least 8 characters long")
	}

	errs = append(errs, checkOptionalLength("name", in.Name, 2, 100)...)
	errs = append(errs, checkOptionalLength("company name", in.CompanyName, 2, 200)...)
	errs = append(errs, checkOptionalLength("company address", in.CompanyAddress, 5, 500)...)

	if in.CompanyPhone != nil && *in.CompanyPhone != "" && !phoneRe.MatchString(*in.CompanyPhone) {
		errs = append(errs, "invalid phone number format")
	}

	if in.LogoURL != nil {
		trimmed := strings.TrimSpace(*in.LogoURL)
		if trimmed == "" {
			errs = append(errs, "logo URL cannot be empty if provided")
		} else if !urlRe.MatchString(trimmed) {
			errs = append(errs, "invalid logo URL format")
		}
	}

	return NewError(errs)
}

// ValidateLogin проверяет данные формы входа.
func ValidateLogin(email, password string) error {
	var errs []string

	errs = append(errs, checkEmail(email)...)

	if password == "" {
		errs = append(errs, "password is required")
	}

	return NewError(errs)
}

// ClientInput содержит данные формы создания клиента.
type ClientInput struct {
	Name      string
	Email     *string
	Phone     *string
	Address   *string
	City      *string
	State     *string
	ZipCode   *string
	Country   *string
	TaxNumber *string
	Notes     *string
}

// ValidateClient проверяет данные клиента.
func ValidateClient(in ClientInput) error {
	var errs []string

	name := strings.TrimSpace(in.Name)
	if name == "" {
		errs = append(errs, "client name is required")
	} else if len(name) > 200 {
		errs = append(errs, "client name must be less than 200 characters")
	}

	if in.Email != nil && *in.Email != "" && !emailRe.MatchString(strings.TrimSpace(*in.Email)) {
		errs = append(errs, "invalid email format")
	}

	if in.Phone != nil && *in.Phone != "" && !phoneRe.MatchString(*in.Phone) {
		errs = append(errs, "invalid phone number format")
	}

	return NewError(errs)
}

func checkEmail(email string) []string {
	if email == "" {
		return []string{"email is required"}
	}
	if !emailRe.MatchString(strings.TrimSpace(email)) {
		return []string{"invalid email format"}
	}
	return nil
}

func checkOptionalLength(field string, value *string, min, max int) []string {
	if value == nil {
		return nil
	}

	trimmed := strings.TrimSpace(*value)
	switch {
	case trimmed == "":
		return []string{fmt.Sprintf("%s cannot be empty if provided", field)}
	case len(trimmed) < min:
		return []string{fmt.Sprintf("%s must be at least %d characters long", field, min)}
	case len(trimmed) > max:
		return []string{fmt.Sprintf("%s must be less than %d characters", field, max)}
	}
	return nil
}
