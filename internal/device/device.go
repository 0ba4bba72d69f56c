// Package device classifies a browser identification string into the closed
// browser and OS enumerations recorded on ledger rows.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

type Browser string

const (
	BrowserChrome  Browser = "Chrome"
	BrowserFirefox Browser = "Firefox"
	BrowserSafari  Browser = "Safari"
	BrowserEdge    Browser = "Edge"
	BrowserOpera   Browser = "Opera"
	BrowserUnknown Browser = "Unknown"
)

type OS string

const (
	OSWindows OS = "Windows"
	OSMacOS   OS = "macOS"
	OSLinux   OS = "Linux"
	OSAndroid OS = "Android"
	OSIOS     OS = "iOS"
	OSUnknown OS = "Unknown"
)

// Fingerprint is the classified view of one user agent. Version is the major
// browser version, empty when the agent does not report one.
type Fingerprint struct {
	Browser Browser
	OS      OS
	Version string
	Mobile  bool
}

type browserRule struct {
	browser Browser
	tokens  []string
}

// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
var browserRules = []browserRule{
	{BrowserEdge, []string{"Edg/", "Edge/", "EdgA/", "EdgiOS/"}},
	{BrowserOpera, []string{"OPR/", "Opera"}},
	{BrowserFirefox, []string{"Firefox/", "FxiOS/"}},
	{BrowserChrome, []string{"Chrome/", "CriOS/"}},
	{BrowserSafari, []string{"Safari/"}},
}

type osRule struct {
	os     OS
	tokens []string
}

// Android before Linux, iOS before macOS ("like Mac OS X").
var osRules = []osRule{
	{OSWindows, []string{"Windows"}},
	{OSAndroid, []string{"Android"}},
	{OSIOS, []string{"iPhone", "iPad", "iPod"}},
	{OSMacOS, []string{"Macintosh", "Mac OS X"}},
	{OSLinux, []string{"Linux", "X11"}},
}

// Classify maps a user agent onto the closed enumerations. Unknown inputs
// degrade to Unknown on either axis.
func Classify(userAgent string) Fingerprint {
	fp := Fingerprint{Browser: BrowserUnknown, OS: OSUnknown}
	if strings.TrimSpace(userAgent) == "" {
		return fp
	}
	for _, rule := range browserRules {
		if containsAny(userAgent, rule.tokens) {
			fp.Browser = rule.browser
			break
		}
	}
	for _, rule := range osRules {
		if containsAny(userAgent, rule.tokens) {
			fp.OS = rule.os
			break
		}
	}
	ua := useragent.New(userAgent)
	fp.Mobile = ua.Mobile()
	if fp.Browser != BrowserUnknown {
		_, version := ua.Browser()
		fp.Version, _, _ = strings.Cut(version, ".")
	}
	return fp
}

// Descriptor renders the label stored as a row's device_info, e.g.
// "Chrome 120 on macOS" or "Safari 17 on iOS (mobile)".
func (f Fingerprint) Descriptor() string {
	var b strings.Builder
	b.WriteString(string(f.Browser))
	if f.Version != "" {
		b.WriteString(" " + f.Version)
	}
	b.WriteString(" on " + string(f.OS))
	if f.Mobile {
		b.WriteString(" (mobile)")
	}
	return b.String()
}

// Describe is shorthand for Classify(userAgent).Descriptor().
func Describe(userAgent string) string {
	return Classify(userAgent).Descriptor()
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
