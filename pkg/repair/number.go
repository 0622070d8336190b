package repair

import (
	"regexp"
	"strings"
)

var (
	numberPattern   = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)
	exponentPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)
)

// zeroNumber replaces numeric runs that cannot be salvaged.
const zeroNumber = "0"

// NormalizeNumber cleans a malformed numeric run into JSON number grammar.
// It converts decimal commas, collapses repeated dots and doubled signs,
// completes dangling dots, strips leading zeros, and neutralizes malformed
// exponents. When the result still is not a valid number it returns "0" and
// false. Valid input is returned unchanged.
func NormalizeNumber(run string) (string, bool) {
	if numberPattern.MatchString(run) {
		return run, true
	}

	if !strings.ContainsAny(run, "0123456789") {
		return zeroNumber, false
	}

	body := strings.TrimLeft(run, "+-")
	negative := strings.Contains(run[:len(run)-len(body)], "-")

	mantissa, exponent, expMarker := cutExponent(body)
	mantissa = normalizeMantissa(mantissa)

	result := mantissa

	if expMarker != "" {
		if !exponentPattern.MatchString(exponent) {
			exponent = zeroNumber
		}

		result += expMarker + exponent
	}

	if negative {
		result = "-" + result
	}

	if !numberPattern.MatchString(result) {
		return zeroNumber, false
	}

	return result, true
}

// cutExponent splits at the first exponent marker.
func cutExponent(body string) (mantissa, exponent, marker string) {
	idx := strings.IndexAny(body, "eE")
	if idx < 0 {
		return body, "", ""
	}

	return body[:idx], body[idx+1:], body[idx : idx+1]
}

func normalizeMantissa(mantissa string) string {
	if strings.Contains(mantissa, ",") {
		if strings.Contains(mantissa, ".") {
			// Thousands separators.
			mantissa = strings.ReplaceAll(mantissa, ",", "")
		} else {
			mantissa = strings.ReplaceAll(mantissa, ",", ".")
		}
	}

	for strings.Contains(mantissa, "..") {
		mantissa = strings.ReplaceAll(mantissa, "..", ".")
	}

	intPart, fracPart, hasFrac := strings.Cut(mantissa, ".")

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = zeroNumber
	}

	if !hasFrac {
		return intPart
	}

	if fracPart == "" {
		fracPart = zeroNumber
	}

	return intPart + "." + fracPart
}
