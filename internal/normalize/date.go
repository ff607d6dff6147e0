package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date formats accepted by NormalizeDate. FormatAuto tries the generic layouts.
const (
	FormatAuto = "auto"
	FormatISO  = "ISO"
	FormatYMD  = "YYYY-MM-DD"
	FormatDMY  = "DD/MM/YYYY"
	FormatMDY  = "MM/DD/YYYY"
)

const dateLayout = "2006-01-02"

var explicitFormats = map[string]struct {
	re     *regexp.Regexp
	layout string
}{
	FormatYMD: {regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "2006-01-02"},
	FormatDMY: {regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), "02/01/2006"},
	FormatMDY: {regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), "01/02/2006"},
	FormatISO: {regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:\d{2})?$`), ""},
}

var autoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
	"20060102T150405Z",
	"20060102150405",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006/01/02",
	"01/02/2006",
}

// NormalizeDate renders value as YYYY-MM-DD. An explicit format must match
// exactly; "" means the value could not be interpreted.
func NormalizeDate(value, format string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	f := strings.TrimSpace(format)
	if f != "" && !strings.EqualFold(f, FormatAuto) {
		ef, ok := explicitFormats[f]
		if !ok {
			return parseAuto(v)
		}
		if !ef.re.MatchString(v) {
			return ""
		}
		if ef.layout == "" {
			return parseAuto(v)
		}
		t, err := time.Parse(ef.layout, v)
		if err != nil {
			return ""
		}
		return t.UTC().Format(dateLayout)
	}
	return parseAuto(v)
}

func parseAuto(v string) string {
	for _, layout := range autoLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Format(dateLayout)
		}
	}
	// epoch seconds or millis
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && len(v) >= 9 {
		if len(v) >= 13 {
			return time.UnixMilli(n).UTC().Format(dateLayout)
		}
		return time.Unix(n, 0).UTC().Format(dateLayout)
	}
	return ""
}

// ValidDate reports whether s is a real YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
