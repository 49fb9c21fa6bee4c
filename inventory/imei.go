package inventory

// IMEILength is the number of digits in a hardware IMEI.
const IMEILength = 15

// Reasons reported for rejected IMEIs.
const (
	ReasonFormat    = "format"    // not exactly 15 ASCII digits
	ReasonChecksum  = "checksum"  // Luhn check digit mismatch
	ReasonDuplicate = "duplicate" // repeated within the same batch
)

// CheckIMEI returns "" for a well-formed IMEI, otherwise the rejection reason.
func CheckIMEI(imei string) string {
	if len(imei) != IMEILength {
		return ReasonFormat
	}
	for i := 0; i < len(imei); i++ {
		if imei[i] < '0' || imei[i] > '9' {
			return ReasonFormat
		}
	}
	if !LuhnValid(imei) {
		return ReasonChecksum
	}
	return ""
}

// LuhnValid reports whether the digit string passes the Luhn checksum.
// Non-digit input is never valid.
func LuhnValid(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// LuhnCheckDigit computes the digit that makes body+digit Luhn-valid.
func LuhnCheckDigit(body string) byte {
	sum := 0
	double := true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10)
}
