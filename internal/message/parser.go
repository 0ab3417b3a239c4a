package message

import (
	"regexp"
	"strings"

	"chatmind/internal/transport"
)

// Tone classification values.
const (
	ToneNeutral       = "neutral"
	ToneFriendly      = "friendly"
	ToneArgumentative = "argumentative"
	ToneHumorous      = "humorous"
)

// Keyword lists are versioned configuration: scoring behavior must stay
// comparable across releases, so changes here are deliberate.
var (
	argumentativeKeywords = []string{
		"неправ", "не согласен", "ошибка", "глупо", "бессмысленно",
		"неверно", "не так", "неправильно",
	}

	friendlyKeywords = []string{
		"спасибо", "благодарю", "отлично", "класс", "супер",
		"привет", "здравствуй", "добрый",
	}

	humorousKeywords = []string{
		"хаха", "лол", "кек", "смешно", "прикол",
		"шутка", "юмор", "ахаха",
	}

	questionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\?`),
		regexp.MustCompile(`как\s+`),
		regexp.MustCompile(`что\s+`),
		regexp.MustCompile(`почему\s+`),
		regexp.MustCompile(`когда\s+`),
		regexp.MustCompile(`где\s+`),
		regexp.MustCompile(`кто\s+`),
		regexp.MustCompile(`зачем\s+`),
	}

	stopWords = map[string]bool{
		"это": true, "что": true, "как": true, "где": true,
		"когда": true, "почему": true, "который": true, "которые": true,
	}
)

var (
	mentionRe = regexp.MustCompile(`@(\w+)`)
	wordRe    = regexp.MustCompile(`[а-яё]{4,}`)
)

const maxTopicKeywords = 5

// Context is the structured interpretation of one inbound message.
// Ephemeral: only its derived effects are persisted.
type Context struct {
	ChatID          string
	MessageID       int64
	UserID          string
	Username        string
	Text            string
	IsReply         bool
	ReplyToID       int64
	ReplyToUserID   string
	Mentions        []string
	IsDirectMention bool
	IsQuestion      bool
	Tone            string
	TopicKeywords   []string
	Raw             map[string]any
}

// Parser turns transport events into message contexts.
type Parser struct {
	// AccountUsername is the connected account's handle, for direct-mention
	// detection. Set after the transport reports Me().
	AccountUsername string
}

func NewParser(accountUsername string) *Parser {
	return &Parser{AccountUsername: accountUsername}
}

func (p *Parser) Parse(ev transport.Event) Context {
	mentions := extractMentions(ev.Text)
	return Context{
		ChatID:          ev.ChatID,
		MessageID:       ev.MessageID,
		UserID:          ev.UserID,
		Username:        ev.Username,
		Text:            ev.Text,
		IsReply:         ev.ReplyToID != 0,
		ReplyToID:       ev.ReplyToID,
		ReplyToUserID:   ev.ReplyToUserID,
		Mentions:        mentions,
		IsDirectMention: p.isDirectMention(mentions),
		IsQuestion:      IsQuestion(ev.Text),
		Tone:            DetectTone(ev.Text),
		TopicKeywords:   ExtractTopicKeywords(ev.Text),
		Raw:             ev.Raw,
	}
}

func extractMentions(text string) []string {
	var mentions []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		mentions = append(mentions, m[1])
	}
	return mentions
}

func (p *Parser) isDirectMention(mentions []string) bool {
	if p.AccountUsername == "" {
		return false
	}
	for _, m := range mentions {
		if strings.EqualFold(m, p.AccountUsername) {
			return true
		}
	}
	return false
}

// DetectTone classifies by keyword lists; argumentative wins over friendly,
// friendly over humorous.
func DetectTone(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range argumentativeKeywords {
		if strings.Contains(lower, kw) {
			return ToneArgumentative
		}
	}
	for _, kw := range friendlyKeywords {
		if strings.Contains(lower, kw) {
			return ToneFriendly
		}
	}
	for _, kw := range humorousKeywords {
		if strings.Contains(lower, kw) {
			return ToneHumorous
		}
	}
	return ToneNeutral
}

func IsQuestion(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, re := range questionPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// ExtractTopicKeywords pulls up to five Cyrillic words of four or more
// letters, skipping stop words. Deliberately heuristic, not NLP.
func ExtractTopicKeywords(text string) []string {
	var keywords []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if stopWords[w] {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == maxTopicKeywords {
			break
		}
	}
	return keywords
}
