package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/christopherklint97/shiftfill/internal/config"
)

// Selectors locate the controls of the time report form. A markup change on
// the host page breaks them.
type Selectors struct {
	AddRow     string
	Date       string
	Hours      string
	Category   string
	HostSuffix string
	PathPrefix string
}

func SelectorsFromConfig(fc config.FormConfig) Selectors {
	return Selectors{
		AddRow:     fmt.Sprintf(`input[type="submit"].button.wide[value=%s]`, cssString(fc.AddRowLabel)),
		Date:       fmt.Sprintf(`input[type="text"].kalender[title^=%s]`, cssString(fc.DateTitlePrefix)),
		Hours:      fmt.Sprintf(`input[type="text"][title^=%s]`, cssString(fc.HoursTitlePrefix)),
		Category:   fmt.Sprintf(`select[title=%s], select[name=%s]`, cssString(fc.CategoryTitle), cssString(fc.CategoryName)),
		HostSuffix: fc.HostSuffix,
		PathPrefix: fc.PathPrefix,
	}
}

// Matches reports whether rawURL is a page of the target form.
func (s Selectors) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Hostname(), s.HostSuffix) && strings.HasPrefix(u.Path, s.PathPrefix)
}

func cssString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
