// Package browser abstracts the single page session the scraper drives.
// The interfaces mirror what the calendar extraction actually needs: CSS
// queries returning element handles, one-shot in-page script evaluation, and
// best-effort navigation/reload. Implementations must keep the page session
// usable after any individual call fails.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Handle is one DOM element handle. Every method can fail independently
// (the element may have been detached by page scripts) without corrupting
// the session.
type Handle interface {
	Text() (string, error)
	Attribute(name string) (string, error)
	Click() error
	ScrollIntoView() error
	// Element resolves a CSS selector relative to this handle.
	Element(selector string) (Handle, error)
}

// Page is the scraper's view of the browser session. There is exactly one
// Close capability; callers never probe for driver-specific shutdown
// methods.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// Elements resolves a CSS selector to all matching element handles.
	Elements(ctx context.Context, selector string) ([]Handle, error)
	// Eval runs a zero-argument JS function in the page and decodes its
	// JSON-serialized return value into out.
	Eval(ctx context.Context, js string, out any) error
	// HTML returns the current document markup, for diagnostics.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// NavigationError reports a failed page load.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// DomQueryError reports a failed element query.
type DomQueryError struct {
	Selector string
	Err      error
}

func (e *DomQueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.Selector, e.Err)
}

func (e *DomQueryError) Unwrap() error { return e.Err }

// EvalError reports a failed in-page script evaluation.
type EvalError struct {
	Err error
}

func (e *EvalError) Error() string { return fmt.Sprintf("evaluate: %v", e.Err) }

func (e *EvalError) Unwrap() error { return e.Err }

// ErrStaleContext marks DOM access destabilization: the page's own scripts
// replaced the document or execution context mid-query. Callers should
// reload and escalate to evaluation-mode extraction.
var ErrStaleContext = errors.New("execution context destabilized")

// IsStaleContext classifies an error as DOM/runtime-context instability.
// CDP surfaces these as protocol error strings rather than typed values, so
// classification is by signature.
func IsStaleContext(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleContext) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "DOM Error") || strings.Contains(msg, "-32000") {
		return true
	}
	if strings.Contains(msg, "Execution context") {
		return true
	}
	return strings.Contains(msg, "context") && strings.Contains(msg, "destroyed")
}
