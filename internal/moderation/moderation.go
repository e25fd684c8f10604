// Package moderation implements the pure content-moderation decision
// function: given a raw message body, decide Accept or Reject(category,
// reason), and on accept, produce the sanitized text to persist. Rules run
// in a fixed order so a caller re-running Moderate on sanitized output gets
// the same decision back (idempotent).
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
)

// fold is the case-insensitive comparison form used for spam-phrase and
// scam-host matching. Unicode case folding (rather than strings.ToLower)
// keeps matches correct for the non-ASCII scripts a location-scoped board
// sees in practice.
var fold = cases.Fold()

// Category names why a message was rejected.
type Category string

const (
	CategoryPhone     Category = "embedded_phone"
	CategoryScamURL   Category = "scam_url"
	CategoryURLCount  Category = "too_many_urls"
	CategoryProfanity Category = "profanity"
	CategorySpam      Category = "spam"
	CategoryPattern   Category = "suspicious_pattern"
	CategoryOffTopic  Category = "off_topic"
	CategoryRemote    Category = "flagged_remote"
)

// Decision is the outcome of Moderate.
type Decision struct {
	Accepted  bool
	Category  Category
	Reason    string
	Sanitized string
}

var (
	tagRE = regexp.MustCompile(`<[^>]*>`)

	phoneRE = regexp.MustCompile(
		`(?:\+?\d{1,3}[-.\s]?)?\(?\d{3,5}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`,
	)

	scamHosts = []string{
		"t.me", "telegram.me", "telegram.org", "bit.ly", "tinyurl.com",
		"goo.gl", "rebrand.ly", "ow.ly", "lnk.co", "clickbank.net",
		"short.link", "bitly.com", "adf.ly", "j.mp",
	}

	urlRE = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)

	profanityRE = regexp.MustCompile(
		`(?i)\b(fuck|shit|bitch|asshole|bastard|randi|chutiya|madarchod|behenchod|gandu|harami)\b`,
	)

	spamPhrases = []string{
		"contact me on telegram", "dm me", "whatsapp only", "make money fast",
		"limited offer", "act fast", "click here now", "message me on telegram",
		"text me on whatsapp", "cash only no questions",
	}

	relevanceKeywords = map[string]struct{}{
		"room": {}, "flat": {}, "apartment": {}, "bhk": {}, "rent": {},
		"rental": {}, "property": {}, "location": {}, "available": {},
		"looking": {}, "accommodation": {}, "deposit": {}, "furnished": {},
		"sharing": {}, "parking": {}, "tenant": {}, "landlord": {},
	}
)

const maxURLs = 3

// Moderator evaluates message bodies. A configured remote API key enables
// an additional, fail-open check against a third-party moderation service.
type Moderator struct {
	apiKey     string
	httpClient *http.Client
}

// New constructs a Moderator. An empty apiKey disables the remote check.
func New(apiKey string) *Moderator {
	return &Moderator{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Moderate runs every rule in order and returns the decision. Rules 1-7 are
// pure and local; rule 8 (remote) only runs when an API key is configured
// and fails open — a transport error or malformed response never blocks a
// post, it only skips that one extra check.
func (m *Moderator) Moderate(ctx context.Context, text string) Decision {
	if loc := phoneRE.FindString(text); loc != "" && digitCount(loc) >= 7 {
		return reject(CategoryPhone, "use phone field")
	}

	urls := urlRE.FindAllString(text, -1)
	for _, u := range urls {
		if hasScamHost(u) {
			return reject(CategoryScamURL, "link not allowed")
		}
	}
	if len(urls) >= maxURLs {
		return reject(CategoryURLCount, "too many links")
	}

	if profanityRE.MatchString(text) {
		return reject(CategoryProfanity, "profanity")
	}

	folded := fold.String(text)
	for _, phrase := range spamPhrases {
		if strings.Contains(folded, phrase) {
			return reject(CategorySpam, "spam phrase")
		}
	}

	if isSuspiciousPattern(text) {
		return reject(CategoryPattern, "suspicious pattern")
	}

	if !isRelevant(text) {
		return reject(CategoryOffTopic, "off-topic")
	}

	if m.apiKey != "" {
		if flagged, reason := m.checkRemote(ctx, text); flagged {
			return reject(CategoryRemote, reason)
		}
	}

	return Decision{Accepted: true, Sanitized: Sanitize(text)}
}

func reject(cat Category, reason string) Decision {
	return Decision{Accepted: false, Category: cat, Reason: reason}
}

// Sanitize strips HTML tags and unescapes residual entities, leaving plain
// text. It is applied only after a message is accepted.
func Sanitize(text string) string {
	stripped := tagRE.ReplaceAllString(text, "")
	return strings.TrimSpace(html.UnescapeString(stripped))
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func hasScamHost(rawURL string) bool {
	folded := fold.String(rawURL)
	for _, host := range scamHosts {
		if strings.Contains(folded, host) {
			return true
		}
	}
	return false
}

// isSuspiciousPattern flags either excessive caps (>70% of letters, for
// strings with at least 10 letters) or a run of the same character > 5.
func isSuspiciousPattern(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters >= 10 && float64(upper)/float64(letters) > 0.7 {
		return true
	}

	runes := []rune(text)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run > 5 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// isRelevant requires bodies longer than 3 words to contain at least 10% of
// tokens drawn from the rental keyword set. Short bodies are always
// considered relevant — there isn't enough signal to judge.
func isRelevant(text string) bool {
	words := strings.Fields(text)
	if len(words) <= 3 {
		return true
	}
	matches := 0
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))
		if _, ok := relevanceKeywords[w]; ok {
			matches++
		}
	}
	return float64(matches)/float64(len(words)) >= 0.10
}

type remoteModerationRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type remoteModerationResponse struct {
	Results []struct {
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

var remoteFlagCategories = []string{"hate", "harassment", "sexual", "violence"}

// checkRemote posts text to the configured moderation endpoint. Any
// transport, status, or decode failure is treated as a pass: availability
// of the posting flow outranks the extra check.
func (m *Moderator) checkRemote(ctx context.Context, text string) (flagged bool, reason string) {
	body, err := json.Marshal(remoteModerationRequest{Input: text, Model: "text-moderation-latest"})
	if err != nil {
		return false, ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/moderations", bytes.NewReader(body))
	if err != nil {
		return false, ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, ""
	}

	var parsed remoteModerationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Results) == 0 {
		return false, ""
	}

	for _, cat := range remoteFlagCategories {
		if parsed.Results[0].Categories[cat] {
			return true, fmt.Sprintf("flagged: %s", cat)
		}
	}
	return false, ""
}
