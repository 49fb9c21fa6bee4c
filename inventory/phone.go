package inventory

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultPhoneRegion is used for numbers written without a country code.
const DefaultPhoneRegion = "VN"

// NormalizePhone parses phone for region and returns it in E.164 form.
func NormalizePhone(phone, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", &ValidationError{Code: CodeInvalidCustomerInfo, Field: "customer_phone", Message: "phone is required"}
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := libphonenumber.Parse(phone, region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return "", &ValidationError{Code: CodeInvalidCustomerInfo, Field: "customer_phone", Message: "invalid phone number " + phone}
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
