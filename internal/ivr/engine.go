package ivr

import (
	"context"
	"errors"
	"log/slog"

	"campaign-engine/internal/campaigns"
	"campaign-engine/internal/outreach"
	"campaign-engine/internal/telemetry"
	"campaign-engine/internal/telephony"
)

type CampaignLookup interface {
	Get(ctx context.Context, id string) (campaigns.Campaign, error)
}

type AttemptLedger interface {
	Get(ctx context.Context, attemptID string) (outreach.Attempt, error)
	UpdateResult(ctx context.Context, attemptID string, patch map[string]any, d *outreach.Disposition) (outreach.Attempt, error)
}

type AudioSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

type Deps struct {
	Scripts   ScriptStore
	Campaigns CampaignLookup
	Attempts  AttemptLedger
	Audio     AudioSigner
	Callbacks telephony.CallbackURLs
	Log       *slog.Logger
}

const (
	apologyText   = "We're sorry, something went wrong. Goodbye."
	notUnderstood = "Sorry, I didn't understand."

	// VisitedPagesKey holds the pages entered so far in the attempt result.
	VisitedPagesKey = "visitedPages"
)

// Engine renders IVR steps as TwiML. It keeps no per-call state: the
// script position travels in the callback URL and progress lives in the
// attempt result.
type Engine struct {
	d Deps
}

func NewEngine(d Deps) *Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Engine{d: d}
}

// Input is the caller's answer to a gather.
type Input struct {
	Digits string
	Speech string
}

// Start renders the script's start page for a freshly answered call.
func (e *Engine) Start(ctx context.Context, ref telephony.CallRef) (string, error) {
	s, err := e.load(ctx, ref.CampaignID)
	if err != nil {
		return e.failOr(ctx, ref, err)
	}
	c := &cursor{e: e, ref: ref, script: s}
	if err := c.loadVisited(ctx); err != nil {
		return "", err
	}
	return c.finishOr(ctx, c.enter(ctx, s.StartPage, ""))
}

// Step consumes an answer at ptr and renders what comes next.
func (e *Engine) Step(ctx context.Context, ref telephony.CallRef, ptr telephony.IVRPointer, in Input) (string, error) {
	s, err := e.load(ctx, ref.CampaignID)
	if err != nil {
		return e.failOr(ctx, ref, err)
	}
	page, block, err := s.block(ptr.Page, ptr.Block)
	if err != nil {
		return e.failOr(ctx, ref, err)
	}
	c := &cursor{e: e, ref: ref, script: s}
	if err := c.loadVisited(ctx); err != nil {
		return "", err
	}
	log := e.d.Log.With("campaign_id", ref.CampaignID, "attempt_id", ref.AttemptID, "page", page.ID, "block", block.ID)

	if ptr.Render {
		return c.finishOr(ctx, c.render(ctx, telephony.NewTwiML(), page, block, ptr.Retry))
	}
	switch block.ResponseType {
	case ResponseHangup:
		return c.finishOr(ctx, c.render(ctx, telephony.NewTwiML(), page, block, false))
	case ResponseNone:
		return c.finishOr(ctx, c.goTo(ctx, telephony.NewTwiML(), page, block, ""))
	}

	opt, match := Resolve(block.Options, in.Digits, in.Speech)
	telemetry.IVRStepsTotal.WithLabelValues(string(match)).Inc()
	if answer := firstNonEmpty(in.Digits, in.Speech); answer != "" {
		if err := c.recordAnswer(ctx, page.ID, block.ID, answer); err != nil {
			return "", err
		}
	}

	if match != MatchNone {
		log.Debug("ivr option resolved", "match", match, "next", opt.Next)
		return c.finishOr(ctx, c.goTo(ctx, telephony.NewTwiML(), page, block, opt.Next))
	}

	switch {
	case in.Digits != "":
		// Wrong key: play the same step again.
		doc := telephony.NewTwiML().Redirect(e.d.Callbacks.IVRRender(ref, page.ID, block.ID))
		return doc.String()
	case !ptr.Retry:
		log.Debug("ivr re-prompt", "speech", in.Speech != "")
		doc := telephony.NewTwiML().Say(notUnderstood)
		return c.finishOr(ctx, c.render(ctx, doc, page, block, true))
	default:
		// A second miss moves on rather than looping.
		return c.finishOr(ctx, c.goTo(ctx, telephony.NewTwiML(), page, block, ""))
	}
}

func (e *Engine) load(ctx context.Context, campaignID string) (Script, error) {
	camp, err := e.d.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return Script{}, err
	}
	if camp.ScriptID == "" {
		return Script{}, &ScriptError{Reason: "campaign " + campaignID + " has no script"}
	}
	s, err := e.d.Scripts.GetScript(ctx, camp.ScriptID)
	if errors.Is(err, ErrScriptNotFound) {
		return Script{}, &ScriptError{ScriptID: camp.ScriptID, Reason: "script not found"}
	}
	return s, err
}

// failOr ends the call with an apology for script errors and passes every
// other error through.
func (e *Engine) failOr(ctx context.Context, ref telephony.CallRef, err error) (string, error) {
	var se *ScriptError
	if !errors.As(err, &se) {
		return "", err
	}
	e.d.Log.Error("ivr script error", "campaign_id", ref.CampaignID, "attempt_id", ref.AttemptID, "err", se)
	telemetry.IVRStepsTotal.WithLabelValues("error").Inc()
	if ref.AttemptID != "" {
		d := outreach.DispositionIVRError
		if _, uerr := e.d.Attempts.UpdateResult(ctx, ref.AttemptID, map[string]any{"ivr_error": se.Reason}, &d); uerr != nil {
			e.d.Log.Warn("ivr error disposition failed", "err", uerr)
		}
	}
	return telephony.NewTwiML().Say(apologyText).Hangup().String()
}

// cursor walks one request through the script graph.
type cursor struct {
	e       *Engine
	ref     telephony.CallRef
	script  Script
	visited []string
}

// step is a rendered document or an error to finish with.
type step struct {
	doc *telephony.TwiML
	err error
}

func (c *cursor) finishOr(ctx context.Context, st step) (string, error) {
	if st.err != nil {
		return c.e.failOr(ctx, c.ref, st.err)
	}
	return st.doc.String()
}

func (c *cursor) loadVisited(ctx context.Context) error {
	if c.ref.AttemptID == "" {
		return nil
	}
	a, err := c.e.d.Attempts.Get(ctx, c.ref.AttemptID)
	if err != nil {
		return err
	}
	c.visited = visitedPages(a.Result)
	return nil
}

func (c *cursor) seen(pageID string) bool {
	for _, p := range c.visited {
		if p == pageID {
			return true
		}
	}
	return false
}

// goTo follows target from the current block. An empty target falls through
// to the next block on the page, then to the end page.
func (c *cursor) goTo(ctx context.Context, doc *telephony.TwiML, page Page, from Block, target string) step {
	if target == "" {
		target = page.following(from.ID)
		if target == "" {
			target = c.script.endPage()
		}
	}
	switch {
	case target == TargetHangup:
		return c.complete(ctx, doc)
	case page.has(target):
		b := c.script.Blocks[target]
		return c.render(ctx, doc, page, b, false)
	}
	if _, ok := c.script.Pages[target]; ok {
		return c.enterWith(ctx, doc, target, "")
	}
	if target == c.script.endPage() || target == TargetEnd {
		return c.complete(ctx, doc)
	}
	for id, p := range c.script.Pages {
		if p.has(target) {
			return c.enterWith(ctx, doc, id, target)
		}
	}
	return step{err: &ScriptError{ScriptID: c.script.ID, Page: page.ID, Block: from.ID, Reason: "target " + target + " missing"}}
}

func (c *cursor) enter(ctx context.Context, pageID, blockID string) step {
	return c.enterWith(ctx, telephony.NewTwiML(), pageID, blockID)
}

// enterWith moves onto a page. A page already visited in this attempt is
// replaced by the end page; re-entering the end page completes the call.
func (c *cursor) enterWith(ctx context.Context, doc *telephony.TwiML, pageID, blockID string) step {
	end := c.script.endPage()
	if c.seen(pageID) {
		if pageID == end {
			return c.complete(ctx, doc)
		}
		c.e.d.Log.Info("ivr page already visited; redirecting to end", "campaign_id", c.ref.CampaignID, "page", pageID)
		pageID, blockID = end, ""
	}
	if _, ok := c.script.Pages[pageID]; !ok && pageID == end {
		return c.complete(ctx, doc)
	}
	page, block, err := c.script.block(pageID, blockID)
	if err != nil {
		return step{err: err}
	}
	if err := c.markVisited(ctx, pageID); err != nil {
		return step{err: err}
	}
	return c.render(ctx, doc, page, block, false)
}

// render appends block's verbs. Retry marks the gather as the one re-prompt.
func (c *cursor) render(ctx context.Context, doc *telephony.TwiML, page Page, b Block, retry bool) step {
	prompt, err := c.prompt(ctx, b)
	if err != nil {
		return step{err: err}
	}
	switch b.ResponseType {
	case ResponseHangup:
		doc.Speak(prompt)
		return c.complete(ctx, doc)
	case ResponseNone:
		doc.Speak(prompt).Redirect(c.e.d.Callbacks.IVRStep(c.ref, page.ID, b.ID, false))
	case ResponseDTMF, ResponseSpeech, ResponseBoth:
		action := c.e.d.Callbacks.IVRStep(c.ref, page.ID, b.ID, retry)
		doc.Gather(telephony.GatherOptions{Input: string(b.ResponseType), Action: action, Timeout: b.Timeout, Prompt: prompt})
		// Reached only when the gather timed out without input.
		doc.Redirect(action)
	default:
		return step{err: &ScriptError{ScriptID: c.script.ID, Page: page.ID, Block: b.ID, Reason: "unknown response type " + string(b.ResponseType)}}
	}
	return step{doc: doc}
}

func (c *cursor) prompt(ctx context.Context, b Block) (telephony.Prompt, error) {
	if b.AudioKey == "" || c.e.d.Audio == nil {
		return telephony.Prompt{Text: b.Text}, nil
	}
	u, err := c.e.d.Audio.SignedURL(ctx, b.AudioKey)
	if err != nil {
		// Fall back to speech rather than leaving dead air.
		c.e.d.Log.Warn("ivr audio signing failed", "block", b.ID, "err", err)
		return telephony.Prompt{Text: b.Text}, nil
	}
	return telephony.Prompt{AudioURL: u, Text: b.Text}, nil
}

// complete hangs up and closes the attempt as ivr-completed.
func (c *cursor) complete(ctx context.Context, doc *telephony.TwiML) step {
	if c.ref.AttemptID != "" {
		d := outreach.DispositionIVRCompleted
		if _, err := c.e.d.Attempts.UpdateResult(ctx, c.ref.AttemptID, nil, &d); err != nil {
			return step{err: err}
		}
	}
	return step{doc: doc.Hangup()}
}

func (c *cursor) markVisited(ctx context.Context, pageID string) error {
	c.visited = append(c.visited, pageID)
	if c.ref.AttemptID == "" {
		return nil
	}
	pages := append([]string(nil), c.visited...)
	_, err := c.e.d.Attempts.UpdateResult(ctx, c.ref.AttemptID, map[string]any{VisitedPagesKey: pages}, nil)
	return err
}

// recordAnswer stores answer at result[page][block], keeping the page's
// other answers.
func (c *cursor) recordAnswer(ctx context.Context, pageID, blockID, answer string) error {
	if c.ref.AttemptID == "" {
		return nil
	}
	a, err := c.e.d.Attempts.Get(ctx, c.ref.AttemptID)
	if err != nil {
		return err
	}
	answers := map[string]any{}
	if prev, ok := a.Result[pageID].(map[string]any); ok {
		for k, v := range prev {
			answers[k] = v
		}
	}
	answers[blockID] = answer
	_, err = c.e.d.Attempts.UpdateResult(ctx, c.ref.AttemptID, map[string]any{pageID: answers}, nil)
	return err
}

func visitedPages(result map[string]any) []string {
	switch v := result[VisitedPagesKey].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
