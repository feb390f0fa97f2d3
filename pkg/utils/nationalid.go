package utils

import (
	"fmt"
	"strings"
)

const nationalIDDigits = 11

// NormalizeNationalID returns the canonical 000.000.000-00 form of id.
// Both the canonical form and 11 bare digits are accepted.
func NormalizeNationalID(id string) (string, bool) {
	id = strings.TrimSpace(id)

	var digits strings.Builder
	for i, r := range id {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.' && (i == 3 || i == 7) && len(id) == 14:
		case r == '-' && i == 11 && len(id) == 14:
		default:
			return "", false
		}
	}

	d := digits.String()
	if len(d) != nationalIDDigits {
		return "", false
	}
	return fmt.Sprintf("%s.%s.%s-%s", d[0:3], d[3:6], d[6:9], d[9:11]), true
}
