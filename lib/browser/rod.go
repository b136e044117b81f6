package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options configures the launched Chrome instance.
type Options struct {
	// Bin is the Chrome binary path; empty uses the launcher's lookup.
	Bin string `json:"bin"`
	// Headed opens a visible browser window; the default is headless.
	Headed bool `json:"headed"`
	// NavigationTimeoutMs bounds each Navigate/Reload call.
	NavigationTimeoutMs int `json:"navigation_timeout_ms"`
	// ElementTimeoutMs bounds individual handle operations so a wedged
	// page turns into a fast failure for the retry loop.
	ElementTimeoutMs int `json:"element_timeout_ms"`
}

func (o Options) navigationTimeout() time.Duration {
	if o.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.NavigationTimeoutMs) * time.Millisecond
}

func (o Options) elementTimeout() time.Duration {
	if o.ElementTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(o.ElementTimeoutMs) * time.Millisecond
}

// RodPage drives one Chrome page over CDP via rod.
type RodPage struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	url     string
}

var _ Page = (*RodPage)(nil)

// Launch starts a Chrome instance and opens a single blank page on it.
func Launch(ctx context.Context, opts Options) (*RodPage, error) {
	l := launcher.New().Headless(!opts.Headed)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &RodPage{browser: b, page: page, opts: opts}, nil
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	err := p.page.Context(ctx).Timeout(p.opts.navigationTimeout()).Navigate(url)
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	p.url = url
	return nil
}

// Reload re-navigates to the last URL. rod's Reload can itself fail on a
// destabilized context, so a plain re-navigation is used instead.
func (p *RodPage) Reload(ctx context.Context) error {
	if p.url == "" {
		return nil
	}
	return p.Navigate(ctx, p.url)
}

func (p *RodPage) Elements(ctx context.Context, selector string) ([]Handle, error) {
	els, err := p.page.Context(ctx).Timeout(p.opts.elementTimeout()).Elements(selector)
	if err != nil {
		return nil, &DomQueryError{Selector: selector, Err: err}
	}
	handles := make([]Handle, 0, len(els))
	for _, el := range els {
		handles = append(handles, &rodHandle{el: el, timeout: p.opts.elementTimeout()})
	}
	return handles, nil
}

func (p *RodPage) Eval(ctx context.Context, js string, out any) error {
	res, err := p.page.Context(ctx).Timeout(p.opts.navigationTimeout()).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return &EvalError{Err: err}
	}
	if res == nil || res.Value.Nil() {
		return &EvalError{Err: fmt.Errorf("script returned no value")}
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return &EvalError{Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &EvalError{Err: err}
	}
	return nil
}

func (p *RodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", err
	}
	return html, nil
}

func (p *RodPage) Close() error {
	if p.page != nil {
		_ = p.page.Close()
		p.page = nil
	}
	if p.browser != nil {
		err := p.browser.Close()
		p.browser = nil
		return err
	}
	return nil
}

type rodHandle struct {
	el      *rod.Element
	timeout time.Duration
}

var _ Handle = (*rodHandle)(nil)

func (h *rodHandle) Text() (string, error) {
	return h.el.Timeout(h.timeout).Text()
}

func (h *rodHandle) Attribute(name string) (string, error) {
	val, err := h.el.Timeout(h.timeout).Attribute(name)
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

func (h *rodHandle) Click() error {
	return h.el.Timeout(h.timeout).Click(proto.InputMouseButtonLeft, 1)
}

func (h *rodHandle) ScrollIntoView() error {
	return h.el.Timeout(h.timeout).ScrollIntoView()
}

func (h *rodHandle) Element(selector string) (Handle, error) {
	el, err := h.el.Timeout(h.timeout).Element(selector)
	if err != nil {
		return nil, &DomQueryError{Selector: selector, Err: err}
	}
	return &rodHandle{el: el, timeout: h.timeout}, nil
}
