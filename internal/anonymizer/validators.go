package anonymizer

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

const dniControlLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

var ibanShape = regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]+$`)

// ValidateDNI checks the control letter of a Spanish DNI (8 digits and a
// letter). The letter comparison is case-insensitive.
func ValidateDNI(s string) bool {
	if len(s) != 9 {
		return false
	}
	digits := s[:8]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return false
	}
	return strings.EqualFold(string(dniControlLetters[n%23]), s[8:])
}

// ValidateNIE maps the leading X/Y/Z to 0/1/2 and applies the DNI check.
func ValidateNIE(s string) bool {
	if len(s) != 9 {
		return false
	}
	var prefix byte
	switch s[0] {
	case 'X', 'x':
		prefix = '0'
	case 'Y', 'y':
		prefix = '1'
	case 'Z', 'z':
		prefix = '2'
	default:
		return false
	}
	return ValidateDNI(string(prefix) + s[1:])
}

// ValidateLuhn strips spaces and dashes and runs the Luhn checksum over a
// 12 to 19 digit card number.
func ValidateLuhn(s string) bool {
	digits := stripSeparators(s, " -")
	if len(digits) < 12 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// ValidateIBAN verifies the ISO 13616 mod-97 check digits. Whitespace and
// dashes between groups are ignored.
func ValidateIBAN(s string) bool {
	iban := strings.ToUpper(stripSeparators(s, " \t\n\f\r-"))
	if !ibanShape.MatchString(iban) {
		return false
	}

	rearranged := iban[4:] + iban[:4]
	var numeral strings.Builder
	for _, ch := range rearranged {
		switch {
		case ch >= '0' && ch <= '9':
			numeral.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			numeral.WriteString(strconv.Itoa(int(ch-'A') + 10))
		default:
			return false
		}
	}

	n, ok := new(big.Int).SetString(numeral.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

func stripSeparators(s, separators string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if strings.ContainsRune(separators, ch) {
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
