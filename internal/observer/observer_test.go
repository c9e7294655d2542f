package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"actionrecorder/backend/internal/dom/htmldom"
	"actionrecorder/backend/internal/messaging"
	"actionrecorder/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const loginURL = "https://example.com/login"

type fakeChannel struct {
	mutex   sync.Mutex
	page    models.PageContext
	err     error
	actions []models.Action
	kinds   []messaging.Kind

	block   chan struct{}
	entered chan struct{}
}

func (f *fakeChannel) Send(_ context.Context, msg messaging.Message) (messaging.Response, error) {
	f.mutex.Lock()
	f.kinds = append(f.kinds, msg.Kind)
	err := f.err
	block, entered := f.block, f.entered
	f.mutex.Unlock()
	if err != nil {
		return messaging.Response{}, err
	}

	switch msg.Kind {
	case messaging.KindGetPageContext:
		pc := f.page
		return messaging.Response{PageContext: &pc}, nil
	case messaging.KindActionRecorded:
		if block != nil {
			entered <- struct{}{}
			<-block
		}
		f.mutex.Lock()
		f.actions = append(f.actions, *msg.Action)
		f.mutex.Unlock()
		return messaging.Response{Status: messaging.StatusReceived}, nil
	}
	return messaging.Response{Status: messaging.StatusSuccess}, nil
}

func (f *fakeChannel) recorded() []models.Action {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]models.Action(nil), f.actions...)
}

func (f *fakeChannel) types() []models.ActionType {
	var out []models.ActionType
	for _, a := range f.recorded() {
		out = append(out, a.Type)
	}
	return out
}

const form = `<html><head></head><body>
<form id="login" data-recorder-node="1">
  <input id="user" data-recorder-node="2">
  <input type="password" name="pw" data-recorder-node="3">
  <input type="checkbox" name="remember" data-recorder-node="4">
  <input type="radio" name="plan" value="pro" data-recorder-node="5">
  <input type="file" name="avatar" data-recorder-node="6">
  <select name="country" data-recorder-node="7"><option>FR</option></select>
  <input type="submit" value="Go" data-recorder-node="8">
</form>
<button data-recorder-node="9">Sign In</button>
<div id="card" data-recorder-node="10">Card</div>
<div id="zone" data-recorder-node="11">Drop here</div>
<textarea name="notes" data-recorder-node="12"></textarea>
</body></html>`

func snapshot(t *testing.T) *htmldom.Document {
	t.Helper()
	doc, err := htmldom.ParseString(form)
	require.NoError(t, err)
	return doc
}

func newActive(t *testing.T, ch messaging.Channel, settings models.Settings) *Observer {
	t.Helper()
	o := New(ch, Config{Now: func() time.Time { return time.UnixMilli(1700000000000) }})
	ctx := context.Background()
	_, err := o.HandleMessage(ctx, messaging.UpdateSettings(settings))
	require.NoError(t, err)
	resp, err := o.HandleMessage(ctx, messaging.ToggleRecording(true))
	require.NoError(t, err)
	require.Equal(t, messaging.StatusSuccess, resp.Status)
	require.Equal(t, StateActive, o.State())
	return o
}

func event(doc *htmldom.Document, kind EventKind, css string) Event {
	return Event{Kind: kind, Doc: doc, Target: doc.Query(css), URL: loginURL}
}

func typing(doc *htmldom.Document, css, value string) Event {
	ev := event(doc, EventInput, css)
	ev.Value = value
	return ev
}

func TestClickSignInButton(t *testing.T) {
	ch := &fakeChannel{page: models.PageContext{PageNumber: 1, URL: loginURL}}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)

	o.HandleEvent(context.Background(), event(doc, EventClick, "button"))

	got := ch.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, models.ActionClick, got[0].Type)
	assert.Equal(t, `text="Sign In"`, got[0].Selector)
	assert.Equal(t, models.PageContext{PageNumber: 1, URL: loginURL}, got[0].PageContext)
	assert.Equal(t, loginURL, got[0].URL)
	assert.Equal(t, int64(1700000000000), got[0].Timestamp)
	assert.Equal(t, "button", got[0].Element.TagName)
}

func TestTypingCommitsOnceOnClickAway(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	for _, v := range []string{"a", "al", "ali"} {
		o.HandleEvent(ctx, typing(doc, "#user", v))
	}
	assert.Empty(t, ch.recorded())

	o.HandleEvent(ctx, event(doc, EventClick, "#card"))

	got := ch.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, models.ActionInput, got[0].Type)
	assert.Equal(t, "ali", got[0].Value)
	assert.Equal(t, "#user", got[0].Selector)
	assert.Equal(t, models.ActionClick, got[1].Type)
	assert.Equal(t, "#card", got[1].Selector)
}

func TestTypingSurvivesResnapshot(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	ctx := context.Background()

	o.HandleEvent(ctx, typing(snapshot(t), "#user", "b"))
	o.HandleEvent(ctx, typing(snapshot(t), "#user", "bo"))
	o.HandleEvent(ctx, typing(snapshot(t), "#user", "bob"))
	o.HandleEvent(ctx, event(snapshot(t), EventClick, "#user"))
	assert.Empty(t, ch.recorded(), "clicking the field being typed in keeps the value pending")

	o.HandleEvent(ctx, event(snapshot(t), EventClick, "button"))
	assert.Equal(t, []models.ActionType{models.ActionInput, models.ActionClick}, ch.types())
	assert.Equal(t, "bob", ch.recorded()[0].Value)
}

func TestEmptyValueEmitsClearImmediately(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	o.HandleEvent(ctx, typing(doc, "#user", "x"))
	o.HandleEvent(ctx, typing(doc, "#user", ""))
	o.HandleEvent(ctx, typing(doc, "#user", "y"))

	assert.Equal(t, []models.ActionType{models.ActionClear}, ch.types())

	o.HandleEvent(ctx, event(doc, EventClick, "#card"))
	got := ch.recorded()
	require.Len(t, got, 3)
	assert.Equal(t, "y", got[1].Value)
}

func TestSwitchingFieldsFlushesPrevious(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	o.HandleEvent(ctx, typing(doc, "#user", "ann"))
	o.HandleEvent(ctx, typing(doc, "textarea", "hello"))

	got := ch.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, "ann", got[0].Value)
}

func TestNonTextInputsAreNotTracked(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)

	o.HandleEvent(context.Background(), typing(doc, "input[type=checkbox]", "on"))
	o.HandleEvent(context.Background(), event(doc, EventClick, "#card"))
	assert.Equal(t, []models.ActionType{models.ActionClick}, ch.types())
}

func TestFormFieldClicksSuppressed(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	for _, css := range []string{"#user", "select", "textarea", "input[type=checkbox]"} {
		o.HandleEvent(ctx, event(doc, EventClick, css))
	}
	assert.Empty(t, ch.recorded())

	o.HandleEvent(ctx, event(doc, EventClick, "input[type=submit]"))
	assert.Equal(t, []models.ActionType{models.ActionClick}, ch.types())
}

func TestInactiveIgnoresEvents(t *testing.T) {
	ch := &fakeChannel{}
	o := New(ch, Config{})
	doc := snapshot(t)

	o.HandleEvent(context.Background(), event(doc, EventClick, "button"))
	assert.Empty(t, ch.recorded())
	assert.Equal(t, StateInactive, o.State())

	o = newActive(t, ch, models.Settings{})
	_, err := o.HandleMessage(context.Background(), messaging.ToggleRecording(false))
	require.NoError(t, err)
	o.HandleEvent(context.Background(), event(doc, EventClick, "button"))
	assert.Empty(t, ch.recorded())
}

func TestAssertionIsOneShot(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	_, err := o.HandleMessage(ctx, messaging.ToggleAssertionMode(true))
	require.NoError(t, err)
	o.HandleEvent(ctx, event(doc, EventClick, "#card"))
	o.HandleEvent(ctx, event(doc, EventClick, "#card"))

	assert.Equal(t, []models.ActionType{models.ActionAssertion, models.ActionClick}, ch.types())
}

func TestChangeEvents(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	sel := event(doc, EventChange, "select")
	sel.Value = "FR"
	o.HandleEvent(ctx, sel)

	check := event(doc, EventChange, "input[type=checkbox]")
	check.Checked = true
	o.HandleEvent(ctx, check)
	check.Checked = false
	o.HandleEvent(ctx, check)

	o.HandleEvent(ctx, event(doc, EventChange, "input[type=radio]"))

	file := event(doc, EventChange, "input[type=file]")
	file.Files = []string{"me.png", "cv.pdf"}
	o.HandleEvent(ctx, file)

	o.HandleEvent(ctx, event(doc, EventChange, "#user"))

	got := ch.recorded()
	assert.Equal(t, []models.ActionType{
		models.ActionSelect, models.ActionCheck, models.ActionUncheck, models.ActionCheck, models.ActionFileUpload,
	}, ch.types())
	assert.Equal(t, "FR", got[0].Value)
	assert.Equal(t, []string{"me.png", "cv.pdf"}, got[4].Files)
}

func TestBlurAndFocusFollowSettings(t *testing.T) {
	ctx := context.Background()
	doc := snapshot(t)

	off := &fakeChannel{}
	o := newActive(t, off, models.Settings{})
	o.HandleEvent(ctx, typing(doc, "#user", "kim"))
	o.HandleEvent(ctx, event(doc, EventBlur, "#user"))
	o.HandleEvent(ctx, event(doc, EventFocus, "textarea"))
	assert.Empty(t, off.recorded())

	on := &fakeChannel{}
	o = newActive(t, on, models.Settings{CaptureBlurFocus: true})
	o.HandleEvent(ctx, typing(doc, "#user", "kim"))
	o.HandleEvent(ctx, event(doc, EventBlur, "#user"))
	o.HandleEvent(ctx, event(doc, EventFocus, "textarea"))
	assert.Equal(t, []models.ActionType{models.ActionInput, models.ActionBlur, models.ActionFocus}, on.types())
	assert.Equal(t, "kim", on.recorded()[0].Value)
}

func TestKeys(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	enter := event(doc, EventKeyDown, "#user")
	enter.Key = "Enter"
	o.HandleEvent(ctx, enter)
	assert.Empty(t, ch.recorded(), "Enter without pending input")

	o.HandleEvent(ctx, typing(doc, "#user", "query"))
	o.HandleEvent(ctx, enter)

	tab := event(doc, EventKeyDown, "#user")
	tab.Key = "Tab"
	o.HandleEvent(ctx, tab)

	letter := event(doc, EventKeyDown, "#user")
	letter.Key = "q"
	o.HandleEvent(ctx, letter)

	got := ch.recorded()
	require.Len(t, got, 3)
	assert.Equal(t, models.ActionInput, got[0].Type)
	assert.Equal(t, models.ActionEnterPress, got[1].Type)
	assert.Equal(t, "Enter", got[1].Key)
	assert.Equal(t, "query", got[1].Value)
	assert.Equal(t, models.ActionKeyPress, got[2].Type)
	assert.Equal(t, "Tab", got[2].Key)
}

func TestHoverMemo(t *testing.T) {
	ctx := context.Background()
	doc := snapshot(t)

	off := &fakeChannel{}
	o := newActive(t, off, models.Settings{})
	o.HandleEvent(ctx, event(doc, EventMouseOver, "#card"))
	assert.Empty(t, off.recorded())

	ch := &fakeChannel{}
	o = newActive(t, ch, models.Settings{CaptureHover: true})
	for _, css := range []string{"#card", "#card", "#zone", "#card"} {
		o.HandleEvent(ctx, event(doc, EventMouseOver, css))
	}
	got := ch.recorded()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"#card", "#zone", "#card"}, []string{got[0].Selector, got[1].Selector, got[2].Selector})
}

func TestDragAndDrop(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	o.HandleEvent(ctx, event(doc, EventDrop, "#zone"))
	assert.Empty(t, ch.recorded(), "drop without dragstart")

	start := event(doc, EventDragStart, "#card")
	start.X, start.Y = 10, 20
	o.HandleEvent(ctx, start)
	drop := event(doc, EventDrop, "#zone")
	drop.X, drop.Y = 300, 400
	o.HandleEvent(ctx, drop)

	got := ch.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, models.ActionDragStart, got[0].Type)
	assert.Equal(t, models.ActionDragDrop, got[1].Type)
	assert.Equal(t, "#card", got[1].Selector)
	assert.Equal(t, "#zone", got[1].TargetSel)
	assert.Equal(t, &models.DragData{StartX: 10, StartY: 20, EndX: 300, EndY: 400}, got[1].Drag)

	o.HandleEvent(ctx, drop)
	assert.Len(t, ch.recorded(), 2)
}

func TestDoubleAndRightClick(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	o.HandleEvent(context.Background(), event(doc, EventDblClick, "#user"))
	o.HandleEvent(context.Background(), event(doc, EventContextMenu, "#card"))
	assert.Equal(t, []models.ActionType{models.ActionDoubleClick, models.ActionRightClick}, ch.types())
}

func TestSubmitFlushesPendingInsideForm(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	ctx := context.Background()

	o.HandleEvent(ctx, typing(snapshot(t), "textarea", "outside"))
	o.HandleEvent(ctx, event(snapshot(t), EventSubmit, "form"))
	assert.Empty(t, ch.recorded(), "textarea is outside the form")

	o.HandleEvent(ctx, typing(snapshot(t), "input[name=pw]", "secret"))
	assert.Len(t, ch.recorded(), 1)
	o.HandleEvent(ctx, event(snapshot(t), EventSubmit, "form"))

	got := ch.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, "secret", got[1].Value)
	assert.Equal(t, `[name="pw"]`, got[1].Selector)
}

func parse(t *testing.T, markup string) *htmldom.Document {
	t.Helper()
	doc, err := htmldom.ParseString(markup)
	require.NoError(t, err)
	return doc
}

func TestSubmitFindsPendingInputInLaterSnapshot(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	ctx := context.Background()

	// Only event targets carry identities, as the page bridge delivers them.
	typed := parse(t, `<html><body><form id="search"><input name="q" data-recorder-node="2"></form>
<textarea name="notes" data-recorder-node="4"></textarea></body></html>`)
	submitted := parse(t, `<html><body><form id="search" data-recorder-node="3"><input name="q" data-recorder-node="2"></form>
<textarea name="notes" data-recorder-node="4"></textarea></body></html>`)

	o.HandleEvent(ctx, typing(typed, "textarea", "outside"))
	o.HandleEvent(ctx, event(submitted, EventSubmit, "form"))
	assert.Empty(t, ch.recorded(), "textarea is outside the form")

	o.HandleEvent(ctx, typing(typed, "input", "secret"))
	require.Len(t, ch.recorded(), 1)
	o.HandleEvent(ctx, event(submitted, EventSubmit, "form"))

	assert.Equal(t, []models.ActionType{models.ActionInput, models.ActionInput}, ch.types())
	assert.Equal(t, "secret", ch.recorded()[1].Value)
}

func TestHoverSkipsFormFields(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{CaptureHover: true})
	doc := snapshot(t)
	ctx := context.Background()

	for _, css := range []string{"#user", "select", "textarea", "#card"} {
		o.HandleEvent(ctx, event(doc, EventMouseOver, css))
	}
	got := ch.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, "#card", got[0].Selector)
}

func TestDescriptorUsesLiveValue(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	o.HandleEvent(ctx, typing(doc, "#user", "ali"))
	o.HandleEvent(ctx, event(doc, EventClick, "button"))

	got := ch.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, "ali", got[0].Element.Value)
	assert.Equal(t, "ali", got[0].Element.Label)
	assert.Empty(t, got[1].Element.Value)
}

func TestToggleOnClearsPending(t *testing.T) {
	ch := &fakeChannel{}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	o.HandleEvent(ctx, typing(doc, "#user", "stale"))
	_, err := o.HandleMessage(ctx, messaging.ToggleRecording(true))
	require.NoError(t, err)
	o.HandleEvent(ctx, event(doc, EventClick, "#card"))

	assert.Equal(t, []models.ActionType{models.ActionClick}, ch.types())
}

func TestInFlightEmissionDropsConcurrentEvent(t *testing.T) {
	ch := &fakeChannel{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	o := newActive(t, ch, models.Settings{})
	doc := snapshot(t)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.HandleEvent(ctx, event(doc, EventClick, "button"))
	}()
	<-ch.entered

	o.HandleEvent(ctx, event(doc, EventDblClick, "#card"))
	close(ch.block)
	<-done

	assert.Equal(t, []models.ActionType{models.ActionClick}, ch.types())
}

func TestDuplicateWithinWindowIsSkipped(t *testing.T) {
	ctx := context.Background()
	doc := snapshot(t)
	now := time.UnixMilli(1700000000000)
	clock := func() time.Time { return now }

	ch := &fakeChannel{}
	o := New(ch, Config{DedupWindow: 500 * time.Millisecond, Now: clock})
	_, err := o.HandleMessage(ctx, messaging.ToggleRecording(true))
	require.NoError(t, err)

	o.HandleEvent(ctx, event(doc, EventDblClick, "#card"))
	o.HandleEvent(ctx, event(doc, EventDblClick, "#card"))
	o.HandleEvent(ctx, event(doc, EventDblClick, "#zone"))
	now = now.Add(time.Second)
	o.HandleEvent(ctx, event(doc, EventDblClick, "#card"))

	assert.Len(t, ch.recorded(), 3)
}

func TestContextInvalidation(t *testing.T) {
	ch := &fakeChannel{}
	notified := 0
	o := New(ch, Config{OnInvalidated: func(context.Context) error {
		notified++
		return errors.New("nobody listening")
	}})
	src := NewDispatcher()
	o.Attach(src)
	require.Equal(t, len(Kinds), src.Count())
	require.Equal(t, len(Kinds), o.Listeners())

	ctx := context.Background()
	_, err := o.HandleMessage(ctx, messaging.ToggleRecording(true))
	require.NoError(t, err)

	ch.mutex.Lock()
	ch.err = messaging.ErrContextInvalidated
	ch.mutex.Unlock()

	doc := snapshot(t)
	assert.Equal(t, 1, src.Dispatch(ctx, event(doc, EventClick, "button")))

	assert.Equal(t, StateInvalidated, o.State())
	assert.Equal(t, 0, src.Count())
	assert.Equal(t, 0, o.Listeners())
	assert.Equal(t, 1, notified)

	_, err = o.HandleMessage(ctx, messaging.ToggleRecording(true))
	assert.ErrorIs(t, err, messaging.ErrContextInvalidated)
	assert.Equal(t, StateInvalidated, o.State())
	assert.Equal(t, 0, src.Dispatch(ctx, event(doc, EventClick, "button")))
	assert.Equal(t, 1, notified)
}

func TestTransientChannelErrorKeepsObserverAlive(t *testing.T) {
	ch := &fakeChannel{err: messaging.ErrChannelTimeout}
	o := newActive(t, ch, models.Settings{})
	o.HandleEvent(context.Background(), event(snapshot(t), EventClick, "button"))
	assert.Equal(t, StateActive, o.State())
}

func TestPingAndUnknownCommand(t *testing.T) {
	o := New(&fakeChannel{}, Config{})
	resp, err := o.HandleMessage(context.Background(), messaging.Ping())
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusPong, resp.Status)

	resp, err = o.HandleMessage(context.Background(), messaging.Message{Kind: messaging.KindGetPageContext})
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusError, resp.Status)
}

func TestDispatcherListenerRemoval(t *testing.T) {
	d := NewDispatcher()
	var calls []string
	removeA := d.Listen(EventClick, func(context.Context, Event) { calls = append(calls, "a") })
	d.Listen(EventClick, func(context.Context, Event) { calls = append(calls, "b") })

	d.Dispatch(context.Background(), Event{Kind: EventClick})
	removeA()
	removeA()
	d.Dispatch(context.Background(), Event{Kind: EventClick})

	assert.Equal(t, []string{"a", "b", "b"}, calls)
	assert.Equal(t, 1, d.Count())
}

func TestRegistryClosedAfterTeardown(t *testing.T) {
	var r Registry
	d := NewDispatcher()
	assert.True(t, r.Add(d, EventClick, func(context.Context, Event) {}))
	assert.Equal(t, 1, r.Teardown())
	assert.False(t, r.Add(d, EventClick, func(context.Context, Event) {}))
	assert.Equal(t, 0, d.Count())
}
