package detect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

var (
	digitsOnly    = regexp.MustCompile(`^[0-9]+$`)
	groupedDigits = regexp.MustCompile(`^[0-9]{1,3}([,.'’][0-9]{3})+$`)

	currencySuffixes = []string{"kr.", "kr", "sek", ":-"}
	currencyPrefixes = []string{"sek", "kr"}
)

// ParseAmount turns a displayed total such as "12 345 kr" into an integer.
// Whitespace (including no-break spaces) and grouped thousands separators are
// removed; decimals are rejected.
func ParseAmount(text string) (int64, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	s = trimCurrency(s)

	if groupedDigits.MatchString(s) {
		s = strings.NewReplacer(",", "", ".", "", "'", "", "’", "").Replace(s)
	}
	if !digitsOnly.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", domain.ErrMalformedSample, text)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", domain.ErrMalformedSample, text, err)
	}
	return n, nil
}

// FormatTotal renders a total the way it is persisted.
func FormatTotal(total int64) string {
	return strconv.FormatInt(total, 10) + " kr"
}

func trimCurrency(s string) string {
	for _, suffix := range currencySuffixes {
		if n := len(s) - len(suffix); n >= 0 && strings.EqualFold(s[n:], suffix) {
			s = s[:n]
			break
		}
	}
	for _, prefix := range currencyPrefixes {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = s[len(prefix):]
			break
		}
	}
	return s
}
