package moderation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Detector weights. Each detector contributes its full weight once per
// message, no matter how many times its pattern occurs.
const (
	WeightExcessiveLinks  = 30
	WeightMultipleLinks   = 15
	WeightShortenedURL    = 20
	WeightCryptoScam      = 40
	WeightFinancialScam   = 35
	WeightPhishing        = 45
	WeightAdultSpam       = 30
	WeightGenericSpam     = 25
	WeightLocalizedSpam   = 30
	WeightHighKeyword     = 25
	WeightMediumKeyword   = 15
	WeightExcessiveCaps   = 10
	excessiveLinksMinimum = 4
	multipleLinksMinimum  = 2
	capsRatioThreshold    = 0.7
	capsMinLength         = 20
)

// Trigger tags which signal produced a reason.
type Trigger string

const (
	TriggerPattern    Trigger = "pattern"
	TriggerRepetition Trigger = "repetition"
	TriggerCaps       Trigger = "caps"
)

// Compiled regex patterns for spam detection.
// These are compiled once at package init and reused for every call,
// making them safe and efficient for concurrent use.
var (
	// urlPattern matches http/https URLs, www. URLs, and common TLD patterns.
	// The bare-domain variant requires a trailing "/" to avoid false positives
	// on version strings like "v2.0" or decimal numbers like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// shortenerPattern captures the hostname of known link shorteners.
	shortenerPattern = regexp.MustCompile(`(?i)(?:^|[^\w.-])(bit\.ly|tinyurl\.com|goo\.gl|t\.co|ow\.ly|is\.gd|buff\.ly|rebrand\.ly|cutt\.ly|shorturl\.at|tiny\.cc|rb\.gy)(?:/|\s|$)`)

	cryptoScamPattern = regexp.MustCompile(`(?i)free\s+(?:crypto|bitcoin|btc|eth|ethereum|usdt|tokens?|coins?)` +
		`|airdrop` +
		`|double\s+your\s+(?:crypto|bitcoin|btc|eth|money|coins?|investment)` +
		`|send\s+[\d.]*\s*(?:btc|eth|usdt)\s+(?:and\s+)?(?:get|receive)` +
		`|crypto\s+giveaway` +
		`|claim\s+your\s+(?:tokens?|coins?|reward)`)

	financialScamPattern = regexp.MustCompile(`(?i)guaranteed\s+(?:profits?|returns?|income)` +
		`|earn\s+\$?\d[\d,.]*k?\s*(?:usd|\$)?\s*(?:/|per\s+|a\s+)(?:day|week|hour|month)` +
		`|risk[-\s]free\s+(?:investment|profits?|returns?|trading)` +
		`|\d+%\s+(?:daily|weekly|monthly)\s+(?:returns?|profits?)` +
		`|passive\s+income` +
		`|financial\s+freedom`)

	phishingPattern = regexp.MustCompile(`(?i)verify\s+your\s+(?:account|wallet|identity|email)` +
		`|confirm\s+(?:your\s+)?identity` +
		`|your\s+account\s+(?:has\s+been|will\s+be)\s+(?:suspended|locked|disabled)` +
		`|(?:enter|share)\s+your\s+(?:seed\s+phrase|private\s+key|password|recovery\s+phrase)` +
		`|xác\s+(?:minh|thực)\s+tài\s+khoản`)

	adultSpamPattern = regexp.MustCompile(`(?i)(?:hot|sexy|lonely)\s+(?:singles?|girls?|women|milfs?)` +
		`|adult\s+(?:dating|content|videos?)` +
		`|hook\s*up` +
		`|onlyfans` +
		`|send\s+nudes` +
		`|gái\s+xinh` +
		`|hẹn\s+hò\s+người\s+lớn`)

	genericSpamPattern = regexp.MustCompile(`(?i)congratulations?,?\s+you(?:(?:'|’)ve|\s+have)?\s+won` +
		`|you\s+(?:have\s+been|are)\s+selected` +
		`|click\s+(?:below|here|the\s+link)` +
		`|act\s+now` +
		`|limited\s+time\s+offer` +
		`|claim\s+your\s+prize` +
		`|100%\s+free`)

	// localizedSpamPattern covers Vietnamese get-rich-quick phrasing.
	localizedSpamPattern = regexp.MustCompile(`(?i)kiếm\s+tiền\s+(?:online|nhanh|dễ\s+dàng|tại\s+nhà)` +
		`|đầu\s+tư\s+sinh\s+lời` +
		`|lợi\s+nhuận\s+\d+\s*%` +
		`|việc\s+nhẹ\s+lương\s+cao` +
		`|thu\s+nhập\s+khủng` +
		`|làm\s+giàu\s+nhanh` +
		`|cam\s+kết\s+lãi` +
		`|nhận\s+ngay\s+\d+`)
)

// Keyword lists are matched as lowercase substrings; only the first hit in
// list order counts.
var (
	highRiskKeywords = []string{
		"giveaway",
		"lottery",
		"jackpot",
		"casino",
		"wire transfer",
		"western union",
		"seed phrase",
		"private key",
		"trúng thưởng",
		"xổ số",
		"cờ bạc",
	}

	mediumRiskKeywords = []string{
		"free",
		"bonus",
		"promo",
		"winner",
		"cash prize",
		"limited offer",
		"100% guaranteed",
		"đầu tư",
		"lợi nhuận",
		"khuyến mãi",
		"miễn phí",
	}
)

// Detector is one named heuristic rule. Match reports whether the rule fired
// and, optionally, the token that triggered it; the token is substituted into
// Reason when Reason contains a %s verb.
type Detector struct {
	Name    string
	Trigger Trigger
	Weight  int
	Reason  string
	Match   func(text string) (token string, ok bool)
}

// Finding is a fired detector.
type Finding struct {
	Detector string
	Trigger  Trigger
	Weight   int
	Reason   string
}

func (d Detector) reason(token string) string {
	if token != "" && strings.Contains(d.Reason, "%s") {
		return fmt.Sprintf(d.Reason, token)
	}
	return strings.ReplaceAll(d.Reason, "%s", "")
}

// DefaultDetectors returns a fresh copy of the built-in detector catalogue in
// evaluation order.
func DefaultDetectors() []Detector {
	return []Detector{
		{Name: "excessive_links", Trigger: TriggerPattern, Weight: WeightExcessiveLinks,
			Reason: "excessive links (%s URLs)", Match: countLinks(excessiveLinksMinimum, 0)},
		{Name: "multiple_links", Trigger: TriggerPattern, Weight: WeightMultipleLinks,
			Reason: "multiple links (%s URLs)", Match: countLinks(multipleLinksMinimum, excessiveLinksMinimum-1)},
		{Name: "shortened_url", Trigger: TriggerPattern, Weight: WeightShortenedURL,
			Reason: "shortened URL: %s", Match: matchShortener},
		{Name: "crypto_scam", Trigger: TriggerPattern, Weight: WeightCryptoScam,
			Reason: "crypto scam phrasing: %s", Match: matchPattern(cryptoScamPattern)},
		{Name: "financial_scam", Trigger: TriggerPattern, Weight: WeightFinancialScam,
			Reason: "financial scam phrasing: %s", Match: matchPattern(financialScamPattern)},
		{Name: "phishing", Trigger: TriggerPattern, Weight: WeightPhishing,
			Reason: "phishing phrasing: %s", Match: matchPattern(phishingPattern)},
		{Name: "adult_spam", Trigger: TriggerPattern, Weight: WeightAdultSpam,
			Reason: "adult content spam: %s", Match: matchPattern(adultSpamPattern)},
		{Name: "generic_spam", Trigger: TriggerPattern, Weight: WeightGenericSpam,
			Reason: "spam phrasing: %s", Match: matchPattern(genericSpamPattern)},
		{Name: "localized_spam", Trigger: TriggerPattern, Weight: WeightLocalizedSpam,
			Reason: "localized spam phrasing: %s", Match: matchPattern(localizedSpamPattern)},
		{Name: "high_risk_keyword", Trigger: TriggerPattern, Weight: WeightHighKeyword,
			Reason: "high-risk keyword: %s", Match: matchKeywords(highRiskKeywords)},
		{Name: "medium_risk_keyword", Trigger: TriggerPattern, Weight: WeightMediumKeyword,
			Reason: "suspicious keyword: %s", Match: matchKeywords(mediumRiskKeywords)},
		{Name: "excessive_caps", Trigger: TriggerCaps, Weight: WeightExcessiveCaps,
			Reason: "excessive capitalization", Match: hasExcessiveCaps},
	}
}

// PatternLibrary evaluates an immutable detector list. It holds no mutable
// state and is safe for concurrent use.
type PatternLibrary struct {
	detectors []Detector
}

// NewPatternLibrary copies detectors into a new library. With no arguments
// the default catalogue is used.
func NewPatternLibrary(detectors ...Detector) *PatternLibrary {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	own := make([]Detector, len(detectors))
	copy(own, detectors)
	return &PatternLibrary{detectors: own}
}

// Evaluate runs every detector against content and returns the findings in
// detector order. Blank content yields no findings and runs no detector.
func (l *PatternLibrary) Evaluate(content string) []Finding {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	text := norm.NFC.String(content)

	var findings []Finding
	for _, d := range l.detectors {
		token, ok := d.Match(text)
		if !ok {
			continue
		}
		findings = append(findings, Finding{
			Detector: d.Name,
			Trigger:  d.Trigger,
			Weight:   d.Weight,
			Reason:   d.reason(token),
		})
	}
	return findings
}

// countLinks matches when the URL count is within [min, max]; max <= 0 means
// unbounded.
func countLinks(min, max int) func(string) (string, bool) {
	return func(text string) (string, bool) {
		n := len(urlPattern.FindAllString(text, -1))
		if n < min || (max > 0 && n > max) {
			return "", false
		}
		return strconv.Itoa(n), true
	}
}

func matchShortener(text string) (string, bool) {
	m := shortenerPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

func matchPattern(re *regexp.Regexp) func(string) (string, bool) {
	return func(text string) (string, bool) {
		m := re.FindString(text)
		if m == "" {
			return "", false
		}
		return strings.ToLower(strings.Join(strings.Fields(m), " ")), true
	}
}

func matchKeywords(keywords []string) func(string) (string, bool) {
	return func(text string) (string, bool) {
		lower := strings.ToLower(text)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return kw, true
			}
		}
		return "", false
	}
}

// hasExcessiveCaps is the only case-sensitive detector: more than 70% of the
// cased letters are uppercase in a message longer than 20 characters.
func hasExcessiveCaps(text string) (string, bool) {
	if utf8.RuneCountInString(text) <= capsMinLength {
		return "", false
	}

	var upper, cased int
	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			upper++
			cased++
		case unicode.IsLower(r):
			cased++
		}
	}
	if cased == 0 {
		return "", false
	}
	return "", float64(upper)/float64(cased) > capsRatioThreshold
}
