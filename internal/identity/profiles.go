// File: internal/identity/profiles.go
// Description: Maps a phone number's dial code to a matching presentation
// profile (timezone, locale, viewport, UA family) so the browser identity a
// session presents is consistent with the phone's country.

package identity

import (
	"strings"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
)

// countryProfile is one row of the matching table. Each slice is ordered by
// prevalence; ProfileFor always picks the first entry so the mapping stays
// deterministic for a given dial code.
type countryProfile struct {
	iso             string
	locales         []string
	acceptLanguages []string
	timezones       []string
}

// profiles is keyed by dial code without the leading "+".
var profiles = map[string]countryProfile{
	"380": {
		iso:             "UA",
		locales:         []string{"uk-UA", "ru-UA", "en-UA"},
		acceptLanguages: []string{"uk-UA,uk;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Kyiv"},
	},
	"1": {
		iso:             "US",
		locales:         []string{"en-US"},
		acceptLanguages: []string{"en-US,en;q=0.9"},
		timezones:       []string{"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles"},
	},
	"44": {
		iso:             "GB",
		locales:         []string{"en-GB"},
		acceptLanguages: []string{"en-GB,en;q=0.9"},
		timezones:       []string{"Europe/London"},
	},
	"49": {
		iso:             "DE",
		locales:         []string{"de-DE", "en-DE"},
		acceptLanguages: []string{"de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Berlin"},
	},
	"33": {
		iso:             "FR",
		locales:         []string{"fr-FR", "en-FR"},
		acceptLanguages: []string{"fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Paris"},
	},
	"34": {
		iso:             "ES",
		locales:         []string{"es-ES", "ca-ES"},
		acceptLanguages: []string{"es-ES,es;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Madrid"},
	},
	"39": {
		iso:             "IT",
		locales:         []string{"it-IT"},
		acceptLanguages: []string{"it-IT,it;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Rome"},
	},
	"31": {
		iso:             "NL",
		locales:         []string{"nl-NL", "en-NL"},
		acceptLanguages: []string{"nl-NL,nl;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Amsterdam"},
	},
	"48": {
		iso:             "PL",
		locales:         []string{"pl-PL"},
		acceptLanguages: []string{"pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Warsaw"},
	},
	"7": {
		iso:             "RU",
		locales:         []string{"ru-RU"},
		acceptLanguages: []string{"ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Moscow"},
	},
	"55": {
		iso:             "BR",
		locales:         []string{"pt-BR"},
		acceptLanguages: []string{"pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"America/Sao_Paulo"},
	},
	"61": {
		iso:             "AU",
		locales:         []string{"en-AU"},
		acceptLanguages: []string{"en-AU,en;q=0.9"},
		timezones:       []string{"Australia/Sydney"},
	},
	"91": {
		iso:             "IN",
		locales:         []string{"en-IN", "hi-IN"},
		acceptLanguages: []string{"en-IN,en;q=0.9,hi;q=0.8"},
		timezones:       []string{"Asia/Kolkata"},
	},
	"81": {
		iso:             "JP",
		locales:         []string{"ja-JP"},
		acceptLanguages: []string{"ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Asia/Tokyo"},
	},
	"82": {
		iso:             "KR",
		locales:         []string{"ko-KR"},
		acceptLanguages: []string{"ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Asia/Seoul"},
	},
	"86": {
		iso:             "CN",
		locales:         []string{"zh-CN"},
		acceptLanguages: []string{"zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Asia/Shanghai"},
	},
	"52": {
		iso:             "MX",
		locales:         []string{"es-MX"},
		acceptLanguages: []string{"es-MX,es;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"America/Mexico_City"},
	},
	"90": {
		iso:             "TR",
		locales:         []string{"tr-TR"},
		acceptLanguages: []string{"tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Istanbul"},
	},
	"420": {
		iso:             "CZ",
		locales:         []string{"cs-CZ"},
		acceptLanguages: []string{"cs-CZ,cs;q=0.9,en-US;q=0.8,en;q=0.7"},
		timezones:       []string{"Europe/Prague"},
	},
}

// fallback is used for dial codes the table does not cover. Matching an
// unknown code must degrade, not fail.
var fallback = countryProfile{
	iso:             "US",
	locales:         []string{"en-US"},
	acceptLanguages: []string{"en-US,en;q=0.9"},
	timezones:       []string{"America/New_York"},
}

// dialCodes holds the known dial codes sorted longest-first for prefix
// matching ("421" must not match "42" before "4").
var dialCodes = func() []string {
	codes := make([]string, 0, len(profiles))
	for code := range profiles {
		codes = append(codes, code)
	}
	// Insertion sort by descending length; the table is small.
	for i := 1; i < len(codes); i++ {
		for j := i; j > 0 && len(codes[j]) > len(codes[j-1]); j-- {
			codes[j], codes[j-1] = codes[j-1], codes[j]
		}
	}
	return codes
}()

// CountryCodeOf derives the dial code from a full phone number via
// longest-prefix match. Returns "" when no known code matches.
func CountryCodeOf(number string) string {
	n := strings.TrimPrefix(strings.TrimSpace(number), "+")
	for _, code := range dialCodes {
		if strings.HasPrefix(n, code) {
			return code
		}
	}
	return ""
}

// ProfileFor returns the presentation profile for a dial code. It is a pure
// function: the same code always yields the same profile, and unknown codes
// map to the fallback profile rather than an error.
func ProfileFor(countryCode string) schemas.PresentationProfile {
	p, ok := profiles[countryCode]
	if !ok {
		p = fallback
	}
	return schemas.PresentationProfile{
		CountryISO:      p.iso,
		Timezone:        p.timezones[0],
		Locale:          p.locales[0],
		AcceptLanguage:  p.acceptLanguages[0],
		ViewportWidth:   1920,
		ViewportHeight:  1080,
		DeviceScale:     1.0,
		UserAgentFamily: "chrome-win",
	}
}
