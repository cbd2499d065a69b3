package steps

import "context"

// ElementKind classifies what a resolved element can do. The classification
// happens once per lookup, inside the driver, so the interpreter never
// inspects DOM types itself.
type ElementKind int

const (
	// KindClickable covers ordinary HTML elements that accept a click.
	KindClickable ElementKind = iota
	// KindTextEntry covers value-bearing elements: input, textarea, select.
	KindTextEntry
	// KindGeneric covers everything else, such as SVG nodes.
	KindGeneric
)

func (k ElementKind) String() string {
	switch k {
	case KindClickable:
		return "clickable"
	case KindTextEntry:
		return "text-entry"
	default:
		return "generic"
	}
}

// Element is one resolved DOM node.
type Element struct {
	Kind ElementKind
	Tag  string
}

// Driver is the live-document surface the interpreter works against. Find
// returns nil with no error when nothing matches the selector; every other
// method operates on the first match. Implementations return an error for
// transport or evaluation failures, not for assertion-relevant state.
type Driver interface {
	Find(ctx context.Context, selector string) (*Element, error)
	Click(ctx context.Context, selector string) error
	EnterText(ctx context.Context, selector, value string) error
	SetText(ctx context.Context, selector, text string) error
	Text(ctx context.Context, selector string) (string, error)
	Value(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (value string, ok bool, err error)
	CSSValue(ctx context.Context, selector, property string) (string, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
}
