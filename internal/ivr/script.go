package ivr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResponseType selects how a block collects input.
type ResponseType string

const (
	ResponseDTMF   ResponseType = "dtmf"
	ResponseSpeech ResponseType = "speech"
	ResponseBoth   ResponseType = "dtmf speech"
	// ResponseNone plays the prompt and moves on.
	ResponseNone ResponseType = "none"
	// ResponseHangup plays the prompt and ends the call.
	ResponseHangup ResponseType = "hangup"
)

// AnyValue is the wildcard option value matching any input.
const AnyValue = "vx-any"

// Targets with special meaning in Option.Next.
const (
	TargetEnd    = "end"
	TargetHangup = "hangup"
)

// Script is a page/block graph. Option.Next names a block on the current
// page, a page (entering at its first block), or one of the targets above.
type Script struct {
	ID        string           `json:"id"`
	StartPage string           `json:"start_page"`
	EndPage   string           `json:"end_page,omitempty"`
	Pages     map[string]Page  `json:"pages"`
	Blocks    map[string]Block `json:"blocks"`
}

type Page struct {
	ID     string   `json:"id"`
	Title  string   `json:"title,omitempty"`
	Blocks []string `json:"blocks"`
}

type Block struct {
	ID           string       `json:"id"`
	ResponseType ResponseType `json:"response_type"`
	// AudioKey is a recording in storage; Text is synthesized when it is empty.
	AudioKey string   `json:"audio,omitempty"`
	Text     string   `json:"text,omitempty"`
	Timeout  int      `json:"timeout,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

type Option struct {
	Value string `json:"value"`
	// Content is the option's spoken label, used for keyword matching.
	Content string `json:"content,omitempty"`
	Next    string `json:"next"`
}

// ScriptError reports a malformed script graph. Calls that hit one are
// ended with an apology.
type ScriptError struct {
	ScriptID string
	Page     string
	Block    string
	Reason   string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("ivr: script %s page %q block %q: %s", e.ScriptID, e.Page, e.Block, e.Reason)
}

var ErrScriptNotFound = errors.New("ivr: script not found")

// ParseScript decodes and validates a stored script document.
func ParseScript(raw []byte) (Script, error) {
	var s Script
	if err := json.Unmarshal(raw, &s); err != nil {
		return Script{}, &ScriptError{Reason: "decode: " + err.Error()}
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

func (s Script) endPage() string {
	if s.EndPage != "" {
		return s.EndPage
	}
	return TargetEnd
}

// Validate checks every reference in the graph.
func (s Script) Validate() error {
	fail := func(page, block, reason string) error {
		return &ScriptError{ScriptID: s.ID, Page: page, Block: block, Reason: reason}
	}
	if _, ok := s.Pages[s.StartPage]; !ok {
		return fail(s.StartPage, "", "start page missing")
	}
	for id, p := range s.Pages {
		if len(p.Blocks) == 0 {
			return fail(id, "", "page has no blocks")
		}
		for _, bid := range p.Blocks {
			b, ok := s.Blocks[bid]
			if !ok {
				return fail(id, bid, "block missing")
			}
			for _, o := range b.Options {
				if !s.validTarget(o.Next) {
					return fail(id, bid, "option target "+o.Next+" missing")
				}
			}
		}
	}
	return nil
}

func (s Script) validTarget(t string) bool {
	if t == TargetEnd || t == TargetHangup || t == s.endPage() {
		return true
	}
	if _, ok := s.Pages[t]; ok {
		return true
	}
	_, ok := s.Blocks[t]
	return ok
}

// block returns the block at the pointer, checking it belongs to the page.
func (s Script) block(pageID, blockID string) (Page, Block, error) {
	p, ok := s.Pages[pageID]
	if !ok {
		return Page{}, Block{}, &ScriptError{ScriptID: s.ID, Page: pageID, Block: blockID, Reason: "page missing"}
	}
	if blockID == "" {
		blockID = p.Blocks[0]
	}
	for _, id := range p.Blocks {
		if id == blockID {
			b, ok := s.Blocks[id]
			if !ok {
				break
			}
			return p, b, nil
		}
	}
	return Page{}, Block{}, &ScriptError{ScriptID: s.ID, Page: pageID, Block: blockID, Reason: "block not on page"}
}

// following is the block after blockID on the page, or "" at the end.
func (p Page) following(blockID string) string {
	for i, id := range p.Blocks {
		if id == blockID && i+1 < len(p.Blocks) {
			return p.Blocks[i+1]
		}
	}
	return ""
}

func (p Page) has(blockID string) bool {
	for _, id := range p.Blocks {
		if id == blockID {
			return true
		}
	}
	return false
}

// Match says which tier resolved an answer.
type Match string

const (
	MatchExact     Match = "exact"
	MatchAny       Match = "any"
	MatchSubstring Match = "substring"
	MatchNone      Match = "none"
)

// Resolve picks the option for an answer: exact value, then the vx-any
// wildcard, then (speech only) a keyword match of the transcript against
// option values and labels.
func Resolve(opts []Option, digits, speech string) (Option, Match) {
	answer := digits
	if answer == "" {
		answer = speech
	}
	if answer == "" {
		return Option{}, MatchNone
	}
	for _, o := range opts {
		if o.Value == AnyValue {
			continue
		}
		if o.Value == answer || (speech != "" && strings.EqualFold(o.Value, normalizeSpeech(speech))) {
			return o, MatchExact
		}
	}
	for _, o := range opts {
		if o.Value == AnyValue {
			return o, MatchAny
		}
	}
	if speech == "" {
		return Option{}, MatchNone
	}
	transcript := normalizeSpeech(speech)
	for _, o := range opts {
		for _, kw := range []string{o.Value, o.Content} {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(transcript, kw) {
				return o, MatchSubstring
			}
		}
	}
	return Option{}, MatchNone
}

// normalizeSpeech lowercases and strips the trailing punctuation speech
// recognizers append.
func normalizeSpeech(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), ".!?,"))
}
