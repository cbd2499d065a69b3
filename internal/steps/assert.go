package steps

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/michaelbrown/proctor/internal/testcase"
)

func (r *runner) runAssert(ctx context.Context, s testcase.Step) error {
	if s.Selector == "" {
		return fmt.Errorf("selector is required")
	}

	switch s.Assert {
	case testcase.AssertElementExists:
		el, err := r.driver.Find(ctx, s.Selector)
		if err != nil {
			return err
		}
		if expectBool(s.Expected, true) {
			if el == nil {
				return fmt.Errorf("element %q not found", s.Selector)
			}
			return nil
		}
		if el != nil {
			return fmt.Errorf("element %q should not exist but was found", s.Selector)
		}
		return nil

	case testcase.AssertElementVisible:
		if _, err := r.find(ctx, s.Selector); err != nil {
			return err
		}
		visible, err := r.driver.Visible(ctx, s.Selector)
		if err != nil {
			return err
		}
		if want := expectBool(s.Expected, true); visible != want {
			if want {
				return fmt.Errorf("element %q is not visible", s.Selector)
			}
			return fmt.Errorf("element %q should not be visible", s.Selector)
		}
		return nil

	case testcase.AssertElementCount:
		n, err := r.driver.Count(ctx, s.Selector)
		if err != nil {
			return err
		}
		want, err := expectInt(s.Expected)
		if err != nil {
			return fmt.Errorf("element %q: %w", s.Selector, err)
		}
		if n != want {
			return fmt.Errorf("element %q: expected count %d but found %d", s.Selector, want, n)
		}
		return nil

	case testcase.AssertElementText:
		got, err := r.readString(ctx, s.Selector, r.driver.Text)
		if err != nil {
			return err
		}
		want := expectString(s.Expected)
		if strings.TrimSpace(got) != strings.TrimSpace(want) {
			return fmt.Errorf("element %q: expected text %q but got %q", s.Selector, want, got)
		}
		return nil

	case testcase.AssertElementTextContains:
		got, err := r.readString(ctx, s.Selector, r.driver.Text)
		if err != nil {
			return err
		}
		want := expectString(s.Expected)
		if !strings.Contains(strings.ToLower(got), strings.ToLower(want)) {
			return fmt.Errorf("element %q: expected text containing %q but got %q", s.Selector, want, got)
		}
		return nil

	case testcase.AssertElementValue:
		got, err := r.readString(ctx, s.Selector, r.driver.Value)
		if err != nil {
			return err
		}
		want := expectString(s.Expected)
		if got != want {
			return fmt.Errorf("element %q: expected value %q but got %q", s.Selector, want, got)
		}
		return nil

	case testcase.AssertElementAttribute:
		if s.Attribute == "" {
			return fmt.Errorf("elementAttribute requires an attribute name")
		}
		if _, err := r.find(ctx, s.Selector); err != nil {
			return err
		}
		got, ok, err := r.driver.Attribute(ctx, s.Selector, s.Attribute)
		if err != nil {
			return err
		}
		want := expectString(s.Expected)
		if !ok {
			return fmt.Errorf("element %q: expected attribute %s=%q but the attribute is missing", s.Selector, s.Attribute, want)
		}
		if got != want {
			return fmt.Errorf("element %q: expected attribute %s=%q but got %q", s.Selector, s.Attribute, want, got)
		}
		return nil

	case testcase.AssertElementCSS:
		if s.Property == "" {
			return fmt.Errorf("elementCSS requires a property name")
		}
		if _, err := r.find(ctx, s.Selector); err != nil {
			return err
		}
		got, err := r.driver.CSSValue(ctx, s.Selector, s.Property)
		if err != nil {
			return err
		}
		want := expectString(s.Expected)
		if !strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want)) {
			return fmt.Errorf("element %q: expected %s %q but got %q", s.Selector, s.Property, want, got)
		}
		return nil

	default:
		return fmt.Errorf("unknown assertion %q", s.Assert)
	}
}

// readString resolves the element first so a missing element reports as
// "not found" instead of whatever the read would surface.
func (r *runner) readString(ctx context.Context, selector string, read func(context.Context, string) (string, error)) (string, error) {
	if _, err := r.find(ctx, selector); err != nil {
		return "", err
	}
	return read(ctx, selector)
}

// Expected values arrive as any: strings from YAML, float64 from JSON, int
// from YAML integers. The coercions below keep assertions indifferent to
// which loader produced the suite.

func expectString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func expectInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("expected count %v is not a whole number", t)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("expected count %q is not a number", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected count %v is not a number", v)
	}
}

func expectBool(v any, fallback bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return fallback
}
