package settings

// WidgetKind identifies how a setting is presented to the user.
type WidgetKind string

const (
	WidgetBool       WidgetKind = "bool"
	WidgetTitle      WidgetKind = "title"
	WidgetChoice     WidgetKind = "choice"
	WidgetFileSelect WidgetKind = "file_select"
)

// Option is one entry of a choice widget.
type Option struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// Widget describes a user-facing setting registered by a module.
// Only the fields relevant to Kind are set.
type Widget struct {
	Key          string     `json:"key"`
	Description  string     `json:"description"`
	Tooltip      string     `json:"tooltip,omitempty"`
	Kind         WidgetKind `json:"kind"`
	DefaultBool  bool       `json:"default_bool,omitempty"`
	HeadingLevel int        `json:"heading_level,omitempty"`
	DefaultKey   string     `json:"default_option,omitempty"`
	Options      []Option   `json:"options,omitempty"`
}

// Current resolves the widget's effective value in m, falling back to the
// widget default when the key is missing or holds the wrong type.
func (w Widget) Current(m *Map) (Value, bool) {
	v, ok := m.Get(w.Key)
	switch w.Kind {
	case WidgetBool:
		if b, isBool := v.(Bool); ok && isBool {
			return b, true
		}
		return Bool(w.DefaultBool), true
	case WidgetChoice:
		if s, isString := v.(String); ok && isString {
			for _, o := range w.Options {
				if o.Key == string(s) {
					return s, true
				}
			}
		}
		return String(w.DefaultKey), true
	case WidgetFileSelect:
		if s, isString := v.(String); ok && isString {
			return s, true
		}
		return nil, false
	default:
		return nil, false
	}
}
