package crate

// ManifestConfigurationControls is the manifest type for the configuration
// pane a terminal returns during the configure round-trip.
const ManifestConfigurationControls = "Standard Configuration Controls"

// ControlKind enumerates the closed set of configuration control variants.
// Behavior is resolved by switching on the kind, so an unrecognized kind is
// a decoding-time problem rather than a silently ignored string.
type ControlKind string

const (
	ControlTextBox      ControlKind = "TextBox"
	ControlTextArea     ControlKind = "TextArea"
	ControlCheckBox     ControlKind = "CheckBox"
	ControlDropDownList ControlKind = "DropDownList"
	ControlRadioGroup   ControlKind = "RadioButtonGroup"
	ControlFilePicker   ControlKind = "FilePicker"
)

// ListItem is a selectable entry of a drop-down or radio group.
type ListItem struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Selected bool   `json:"selected,omitempty"`
}

// Control is one configuration control inside a configuration-controls
// crate. Which fields are meaningful depends on Kind.
type Control struct {
	Kind     ControlKind `json:"type"`
	Name     string      `json:"name"`
	Label    string      `json:"label,omitempty"`
	Value    string      `json:"value,omitempty"`
	Selected bool        `json:"selected,omitempty"`
	Required bool        `json:"required,omitempty"`
	Items    []ListItem  `json:"listItems,omitempty"`
}

// Reset clears the control's user-entered state according to its kind and
// reports whether anything actually changed. Controls already in their zero
// state report false so callers can avoid spurious writes.
func (c *Control) Reset() bool {
	changed := false
	switch c.Kind {
	case ControlTextBox, ControlTextArea, ControlFilePicker:
		if c.Value != "" {
			c.Value = ""
			changed = true
		}
	case ControlCheckBox:
		if c.Selected {
			c.Selected = false
			changed = true
		}
	case ControlDropDownList, ControlRadioGroup:
		if c.Value != "" {
			c.Value = ""
			changed = true
		}
		for i := range c.Items {
			if c.Items[i].Selected {
				c.Items[i].Selected = false
				changed = true
			}
		}
	}
	return changed
}

// ConfigurationControls is the typed contents of a configuration-controls
// crate.
type ConfigurationControls struct {
	Controls []Control `json:"controls"`
}

// ManifestType implements Manifest.
func (ConfigurationControls) ManifestType() string {
	return ManifestConfigurationControls
}

// ResetAll resets every control and reports whether any state was cleared.
func (cc *ConfigurationControls) ResetAll() bool {
	changed := false
	for i := range cc.Controls {
		if cc.Controls[i].Reset() {
			changed = true
		}
	}
	return changed
}
