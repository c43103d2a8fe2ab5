package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const testOrdersURL = "https://shop.example.com/your-orders/orders"
const testSignInURL = "https://shop.example.com/ap/signin?openid.return_to=orders"

// fakePage scripts a small order listing with an optional sign-in redirect.
type fakePage struct {
	sel SelectorConfig

	requireLogin bool
	loggedIn     bool
	currentURL   string

	// cards drive container mode; ids/triggers drive positional mode.
	cards    []*fakeElement
	ids      []*fakeElement
	triggers []*fakeElement

	missing        map[string]bool // xpaths that never appear
	brokenPopovers map[int]bool    // order index whose popover link never becomes clickable
	navigateErr    error
	openPopover    int

	actions     []string
	navigations int
	closeCalls  int
	closeErr    error
	onDownload  func(order int)
}

func newFakePage(orders int) *fakePage {
	p := &fakePage{
		sel:            DefaultConfig().Selectors,
		missing:        map[string]bool{},
		brokenPopovers: map[int]bool{},
		openPopover:    -1,
	}
	for i := 0; i < orders; i++ {
		p.cards = append(p.cards, p.newCard(i))
	}
	return p
}

func (p *fakePage) newCard(i int) *fakeElement {
	id := &fakeElement{page: p, name: fmt.Sprintf("order-id-%d", i), text: fmt.Sprintf(" 112-000000%d-555 ", i)}
	trigger := p.newTrigger(i)
	return &fakeElement{
		page: p,
		name: fmt.Sprintf("card-%d", i),
		children: map[string]*fakeElement{
			p.sel.OrderID:        id,
			p.sel.InvoiceTrigger: trigger,
		},
	}
}

func (p *fakePage) newTrigger(i int) *fakeElement {
	return &fakeElement{
		page: p,
		name: fmt.Sprintf("invoice-trigger-%d", i),
		onClick: func() {
			p.openPopover = i
		},
	}
}

// usePositional switches the listing to two flat sequences of the given sizes.
func (p *fakePage) usePositional(ids, triggers int) {
	p.cards = nil
	p.ids, p.triggers = nil, nil
	for i := 0; i < ids; i++ {
		p.ids = append(p.ids, &fakeElement{page: p, name: fmt.Sprintf("order-id-%d", i), text: fmt.Sprintf("ORDER-%d", i)})
	}
	for i := 0; i < triggers; i++ {
		p.triggers = append(p.triggers, p.newTrigger(i))
	}
}

func (p *fakePage) record(action string) {
	p.actions = append(p.actions, action)
}

func (p *fakePage) Navigate(url string) error {
	p.navigations++
	p.record("navigate")
	p.openPopover = -1
	if p.navigateErr != nil {
		return p.navigateErr
	}
	if p.requireLogin && !p.loggedIn {
		p.currentURL = testSignInURL
		return nil
	}
	p.currentURL = url
	return nil
}

func (p *fakePage) URL() (string, error) {
	return p.currentURL, nil
}

func (p *fakePage) WaitElement(xpath string, timeout time.Duration) (Element, error) {
	if p.missing[xpath] {
		return nil, fmt.Errorf("%w: %s not ready after %s", ErrWaitTimeout, xpath, timeout)
	}

	switch xpath {
	case p.sel.EmailInput:
		return &fakeElement{page: p, name: "email"}, nil
	case p.sel.ContinueButton:
		return &fakeElement{page: p, name: "continue"}, nil
	case p.sel.PasswordInput:
		return &fakeElement{page: p, name: "password"}, nil
	case p.sel.SubmitButton:
		return &fakeElement{page: p, name: "submit", onClick: func() {
			p.loggedIn = true
			p.currentURL = testOrdersURL
		}}, nil
	case p.sel.OrderList:
		return &fakeElement{page: p, name: "order-list"}, nil
	}
	return nil, fmt.Errorf("%w: unexpected wait for %s", ErrWaitTimeout, xpath)
}

func (p *fakePage) WaitClickable(xpath string, timeout time.Duration) (Element, error) {
	if xpath != p.sel.PrintableSummary || p.openPopover < 0 || p.brokenPopovers[p.openPopover] {
		return nil, fmt.Errorf("%w: %s not ready after %s", ErrWaitTimeout, xpath, timeout)
	}
	order := p.openPopover
	return &fakeElement{
		page: p,
		name: fmt.Sprintf("printable-summary-%d", order),
		onClick: func() {
			if p.onDownload != nil {
				p.onDownload(order)
			}
		},
	}, nil
}

func (p *fakePage) Elements(xpath string) ([]Element, error) {
	var source []*fakeElement
	switch xpath {
	case p.sel.OrderCard:
		source = p.cards
	case p.sel.OrderID:
		source = p.ids
	case p.sel.InvoiceTrigger:
		source = p.triggers
	}

	out := make([]Element, 0, len(source))
	for _, el := range source {
		out = append(out, el)
	}
	return out, nil
}

func (p *fakePage) Settle(time.Duration) error {
	p.record("settle")
	return nil
}

func (p *fakePage) Close() error {
	p.closeCalls++
	p.record("close")
	return p.closeErr
}

// actionsWithPrefix filters the recorded actions, e.g. "jsclick:".
func (p *fakePage) actionsWithPrefix(prefixes ...string) []string {
	var out []string
	for _, a := range p.actions {
		for _, prefix := range prefixes {
			if strings.HasPrefix(a, prefix) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

type fakeElement struct {
	page     *fakePage
	name     string
	text     string
	children map[string]*fakeElement
	clickErr error
	onClick  func()
}

func (e *fakeElement) Text() (string, error) {
	return e.text, nil
}

func (e *fakeElement) Input(text string) error {
	e.page.record("input:" + e.name + "=" + text)
	return nil
}

func (e *fakeElement) Click() error {
	e.page.record("click:" + e.name)
	if e.clickErr != nil {
		return e.clickErr
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) JSClick() error {
	e.page.record("jsclick:" + e.name)
	if e.clickErr != nil {
		return e.clickErr
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) Element(xpath string) (Element, error) {
	child, ok := e.children[xpath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElementMissing, xpath)
	}
	return child, nil
}

// fakeWatcher hands out downloads that complete when the page reports a click.
type fakeWatcher struct {
	page       *fakePage
	failOrders map[int]bool
	completed  []int
	quietCalls int
	quietErr   error
}

func newFakeWatcher(page *fakePage) *fakeWatcher {
	w := &fakeWatcher{page: page, failOrders: map[int]bool{}}
	page.onDownload = func(order int) {
		w.completed = append(w.completed, order)
	}
	return w
}

func (w *fakeWatcher) Watch() (PendingDownload, error) {
	return &fakePending{watcher: w, before: len(w.completed)}, nil
}

func (w *fakeWatcher) WaitQuiet(context.Context, time.Duration) error {
	w.quietCalls++
	return w.quietErr
}

type fakePending struct {
	watcher *fakeWatcher
	before  int
}

func (p *fakePending) Wait(_ context.Context, timeout time.Duration) (string, error) {
	if len(p.watcher.completed) == p.before {
		return "", &DownloadError{Dir: "/downloads", Err: fmt.Errorf("%w: no new file after %s", ErrWaitTimeout, timeout)}
	}
	order := p.watcher.completed[len(p.watcher.completed)-1]
	if p.watcher.failOrders[order] {
		return "", &DownloadError{Dir: "/downloads", Err: fmt.Errorf("%w: no new file after %s", ErrWaitTimeout, timeout)}
	}
	return fmt.Sprintf("/downloads/order-%d.pdf", order), nil
}

func (p *fakePending) Close() error {
	return nil
}

type statusLine struct {
	sev Severity
	msg string
}

type recordingReporter struct {
	lines []statusLine
}

func (r *recordingReporter) Report(sev Severity, msg string) {
	r.lines = append(r.lines, statusLine{sev: sev, msg: msg})
}

func (r *recordingReporter) count(sev Severity) int {
	n := 0
	for _, l := range r.lines {
		if l.sev == sev {
			n++
		}
	}
	return n
}

// sleepRecorder never blocks; it remembers every requested delay.
type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
