package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/michaelbrown/proctor/internal/steps"
)

// Driver drives the live document over CDP. Every method evaluates a small
// IIFE in the page; selectors and values travel as JSON string literals so
// student-controlled text cannot break out of the script.
type Driver struct{}

var _ steps.Driver = (*Driver)(nil)

// jsString renders s as a JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type findResult struct {
	Kind string `json:"kind"`
	Tag  string `json:"tag"`
}

func kindFromString(s string) steps.ElementKind {
	switch s {
	case "text-entry":
		return steps.KindTextEntry
	case "clickable":
		return steps.KindClickable
	default:
		return steps.KindGeneric
	}
}

func (d *Driver) Find(ctx context.Context, selector string) (*steps.Element, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		let kind = "generic";
		if (el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement || el instanceof HTMLSelectElement) {
			kind = "text-entry";
		} else if (el instanceof HTMLElement) {
			kind = "clickable";
		}
		return { kind: kind, tag: el.tagName.toLowerCase() };
	})()`, jsString(selector))

	var res *findResult
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &res)); err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, err)
	}
	if res == nil {
		return nil, nil
	}
	return &steps.Element{Kind: kindFromString(res.Kind), Tag: res.Tag}, nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, jsString(selector))

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("element %q not found", selector)
	}
	return nil
}

func (d *Driver) EnterText(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
		return true;
	})()`, jsString(selector), jsString(value))

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("entering text into %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("element %q not found", selector)
	}
	return nil
}

func (d *Driver) SetText(ctx context.Context, selector, text string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.textContent = %s;
		return true;
	})()`, jsString(selector), jsString(text))

	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("setting text on %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("element %q not found", selector)
	}
	return nil
}

func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		return el.textContent;
	})()`, jsString(selector))

	var text *string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &text)); err != nil {
		return "", fmt.Errorf("reading text of %q: %w", selector, err)
	}
	if text == nil {
		return "", fmt.Errorf("element %q not found", selector)
	}
	return *text, nil
}

func (d *Driver) Value(ctx context.Context, selector string) (string, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const v = el.value;
		return v === undefined || v === null ? "" : String(v);
	})()`, jsString(selector))

	var value *string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &value)); err != nil {
		return "", fmt.Errorf("reading value of %q: %w", selector, err)
	}
	if value == nil {
		return "", fmt.Errorf("element %q not found", selector)
	}
	return *value, nil
}

func (d *Driver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const v = el.getAttribute(%s);
		return { ok: v !== null, value: v === null ? "" : v };
	})()`, jsString(selector), jsString(name))

	var res *struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &res)); err != nil {
		return "", false, fmt.Errorf("reading attribute %q of %q: %w", name, selector, err)
	}
	if res == nil {
		return "", false, fmt.Errorf("element %q not found", selector)
	}
	return res.Value, res.OK, nil
}

func (d *Driver) CSSValue(ctx context.Context, selector, property string) (string, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		return window.getComputedStyle(el).getPropertyValue(%s);
	})()`, jsString(selector), jsString(property))

	var value *string
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &value)); err != nil {
		return "", fmt.Errorf("reading style of %q: %w", selector, err)
	}
	if value == nil {
		return "", fmt.Errorf("element %q not found", selector)
	}
	return *value, nil
}

// Visible checks computed style and layout participation: the element must
// not be display:none, hidden, or fully transparent, and must occupy space.
func (d *Driver) Visible(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden" || Number(style.opacity) === 0) {
			return false;
		}
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, jsString(selector))

	var visible *bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &visible)); err != nil {
		return false, fmt.Errorf("checking visibility of %q: %w", selector, err)
	}
	if visible == nil {
		return false, fmt.Errorf("element %q not found", selector)
	}
	return *visible, nil
}

func (d *Driver) Count(ctx context.Context, selector string) (int, error) {
	js := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))

	var n int
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &n)); err != nil {
		return 0, fmt.Errorf("counting %q: %w", selector, err)
	}
	return n, nil
}
