package domain

import (
	"fmt"
	"strings"
)

const (
	FieldEmail      = "email"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldAddress    = "address"
	FieldCity       = "city"
	FieldZip        = "zip"
	FieldCardNumber = "card_number"
	FieldExpiry     = "expiry"
	FieldCVC        = "cvc"
)

// RequiredFormFields lists every checkout field in the order the form presents them.
var RequiredFormFields = []string{
	FieldEmail,
	FieldFirstName,
	FieldLastName,
	FieldAddress,
	FieldCity,
	FieldZip,
	FieldCardNumber,
	FieldExpiry,
	FieldCVC,
}

// ValidationError names the first required checkout field that is missing.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout form: %s is required", e.Field)
}

// CheckoutForm holds contact, shipping and payment details. Only presence is
// checked; card numbers and expiry dates are not interpreted.
type CheckoutForm struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Zip        string `json:"zip"`
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"`
	CVC        string `json:"cvc"`
}

// NewCheckoutForm builds a form from field values keyed by the Field* names.
// Values are trimmed; the first missing field is reported as a *ValidationError.
func NewCheckoutForm(values map[string]string) (CheckoutForm, error) {
	get := func(name string) string { return strings.TrimSpace(values[name]) }
	form := CheckoutForm{
		Email:      get(FieldEmail),
		FirstName:  get(FieldFirstName),
		LastName:   get(FieldLastName),
		Address:    get(FieldAddress),
		City:       get(FieldCity),
		Zip:        get(FieldZip),
		CardNumber: get(FieldCardNumber),
		Expiry:     get(FieldExpiry),
		CVC:        get(FieldCVC),
	}
	if err := form.Validate(); err != nil {
		return CheckoutForm{}, err
	}
	return form, nil
}

// Fields returns the form values keyed by field name.
func (f CheckoutForm) Fields() map[string]string {
	return map[string]string{
		FieldEmail:      f.Email,
		FieldFirstName:  f.FirstName,
		FieldLastName:   f.LastName,
		FieldAddress:    f.Address,
		FieldCity:       f.City,
		FieldZip:        f.Zip,
		FieldCardNumber: f.CardNumber,
		FieldExpiry:     f.Expiry,
		FieldCVC:        f.CVC,
	}
}

func (f CheckoutForm) Validate() error {
	values := f.Fields()
	for _, name := range RequiredFormFields {
		if strings.TrimSpace(values[name]) == "" {
			return &ValidationError{Field: name}
		}
	}
	return nil
}
