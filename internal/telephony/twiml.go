package telephony

import (
	"bytes"
	"encoding/xml"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives the dialing core needs.
type TwiML struct {
	r twimlResponse
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr,omitempty"`
	Action        string   `xml:"action,attr,omitempty"`
	Method        string   `xml:"method,attr,omitempty"`
	Timeout       int      `xml:"timeout,attr,omitempty"`
	NumDigits     int      `xml:"numDigits,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Verbs         []any    `xml:",any"`
}

type twimlDial struct {
	XMLName    xml.Name        `xml:"Dial"`
	Conference twimlConference `xml:"Conference"`
}

type twimlConference struct {
	StartConferenceOnEnter bool   `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    bool   `xml:"endConferenceOnExit,attr"`
	Beep                   bool   `xml:"beep,attr"`
	WaitURL                string `xml:"waitUrl,attr,omitempty"`
	StatusCallback         string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent    string `xml:"statusCallbackEvent,attr,omitempty"`
	Name                   string `xml:",chardata"`
}

func NewTwiML() *TwiML { return &TwiML{} }

func (t *TwiML) Say(text string) *TwiML {
	t.r.Verbs = append(t.r.Verbs, twimlSay{Voice: "Polly.Joanna", Text: text})
	return t
}

func (t *TwiML) Play(url string) *TwiML {
	t.r.Verbs = append(t.r.Verbs, twimlPlay{URL: url})
	return t
}

func (t *TwiML) Pause(seconds int) *TwiML {
	t.r.Verbs = append(t.r.Verbs, twimlPause{Length: seconds})
	return t
}

func (t *TwiML) Hangup() *TwiML {
	t.r.Verbs = append(t.r.Verbs, twimlHangup{})
	return t
}

func (t *TwiML) Redirect(url string) *TwiML {
	t.r.Verbs = append(t.r.Verbs, twimlRedirect{Method: "POST", URL: url})
	return t
}

// Prompt is either recorded audio or text to synthesize.
type Prompt struct {
	AudioURL string
	Text     string
}

func (p Prompt) verb() any {
	if p.AudioURL != "" {
		return twimlPlay{URL: p.AudioURL}
	}
	return twimlSay{Voice: "Polly.Joanna", Text: p.Text}
}

// Speak renders a prompt as Play or Say.
func (t *TwiML) Speak(p Prompt) *TwiML {
	if p.AudioURL == "" && p.Text == "" {
		return t
	}
	t.r.Verbs = append(t.r.Verbs, p.verb())
	return t
}

type GatherOptions struct {
	// Input is "dtmf", "speech" or "dtmf speech".
	Input   string
	Action  string
	Timeout int
	Prompt  Prompt
}

func (t *TwiML) Gather(o GatherOptions) *TwiML {
	g := twimlGather{
		Input:   o.Input,
		Action:  o.Action,
		Method:  "POST",
		Timeout: o.Timeout,
	}
	if g.Timeout <= 0 {
		g.Timeout = 5
	}
	if o.Input != "dtmf" {
		g.SpeechTimeout = "auto"
	}
	if o.Prompt.AudioURL != "" || o.Prompt.Text != "" {
		g.Verbs = append(g.Verbs, o.Prompt.verb())
	}
	t.r.Verbs = append(t.r.Verbs, g)
	return t
}

type ConferenceOptions struct {
	Name                string
	StartOnEnter        bool
	EndOnExit           bool
	Beep                bool
	WaitURL             string
	StatusCallback      string
	StatusCallbackEvent string
}

func (t *TwiML) DialConference(o ConferenceOptions) *TwiML {
	t.r.Verbs = append(t.r.Verbs, twimlDial{Conference: twimlConference{
		StartConferenceOnEnter: o.StartOnEnter,
		EndConferenceOnExit:    o.EndOnExit,
		Beep:                   o.Beep,
		WaitURL:                o.WaitURL,
		StatusCallback:         o.StatusCallback,
		StatusCallbackEvent:    o.StatusCallbackEvent,
		Name:                   o.Name,
	}})
	return t
}

// String renders the document with an XML header.
func (t *TwiML) String() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(t.r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

