package auth

import (
	"regexp"
	"strings"

	"github.com/jrsteele09/go-session-client/backend"
	"github.com/jrsteele09/go-session-client/internal/utils"
)

var secondFactorCode = regexp.MustCompile(`^\d{6}$`)

// ValidateSecondFactorCode accepts exactly six ASCII digits.
func ValidateSecondFactorCode(code string) error {
	if !secondFactorCode.MatchString(code) {
		return validationError("code", "Enter the 6-digit verification code.")
	}
	return nil
}

// ValidateCredentials checks login input before it is sent.
func ValidateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return validationError("email", "Email is required.")
	}
	if password == "" {
		return validationError("password", "Password is required.")
	}
	return nil
}

// RegisterData is the sign-up form. PhoneNumber and OrganizationID are
// optional; a blank value is sent as absent.
type RegisterData struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	FirstName       string
	LastName        string
	PhoneNumber     *string
	OrganizationID  *string
}

// Validate reports every missing or inconsistent field at once.
func (d RegisterData) Validate() error {
	fields := make(map[string][]string)
	required := []struct {
		name  string
		value string
		label string
	}{
		{"username", d.Username, "Username"},
		{"email", d.Email, "Email"},
		{"password", d.Password, "Password"},
		{"password_confirm", d.PasswordConfirm, "Password confirmation"},
		{"first_name", d.FirstName, "First name"},
		{"last_name", d.LastName, "Last name"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			fields[r.name] = append(fields[r.name], r.label+" is required.")
		}
	}
	if d.Email != "" && !strings.Contains(d.Email, "@") {
		fields["email"] = append(fields["email"], "Enter a valid email address.")
	}
	if d.Password != "" && d.PasswordConfirm != "" && d.Password != d.PasswordConfirm {
		fields["password_confirm"] = append(fields["password_confirm"], "Passwords do not match.")
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{
		Kind:    KindValidation,
		Message: "Please correct the highlighted fields and try again.",
		Fields:  fields,
	}
}

func (d RegisterData) request() backend.RegisterRequest {
	return backend.RegisterRequest{
		Username:        strings.TrimSpace(d.Username),
		Email:           strings.TrimSpace(d.Email),
		Password:        d.Password,
		PasswordConfirm: d.PasswordConfirm,
		FirstName:       strings.TrimSpace(d.FirstName),
		LastName:        strings.TrimSpace(d.LastName),
		PhoneNumber:     utils.NonEmpty(d.PhoneNumber),
		OrganizationID:  utils.NonEmpty(d.OrganizationID),
	}
}

// PasswordResetConfirm completes a reset from an emailed link.
type PasswordResetConfirm struct {
	Token           string
	Password        string
	PasswordConfirm string
	UserID          string
}

func (c PasswordResetConfirm) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return newError(KindExpiredOrInvalidToken, "The reset link is missing its token. Request a new link.", nil)
	}
	if c.Password == "" {
		return validationError("password", "Password is required.")
	}
	if c.PasswordConfirm != "" && c.Password != c.PasswordConfirm {
		return validationError("password_confirm", "Passwords do not match.")
	}
	return nil
}
