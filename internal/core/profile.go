package core

import (
	"encoding/json"
	"strings"
)

// Tree is a coerced, recursively mergeable mapping.  Values are only ever
// string, bool, float64, []string or Tree; see coerceValue.
type Tree map[string]any

// Medication is one entry of the medication list.  Entries are identified by
// the name, dose, route and frequency together.
type Medication struct {
	Name      string `json:"name"`
	Dose      string `json:"dose,omitempty"`
	Route     string `json:"route,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

func (m Medication) key() string {
	return identity(m.Name, m.Dose, m.Route, m.Frequency)
}

// Allergy is one entry of the allergy list, identified by substance and
// reaction.
type Allergy struct {
	Substance string `json:"substance"`
	Reaction  string `json:"reaction,omitempty"`
}

func (a Allergy) key() string {
	return identity(a.Substance, a.Reaction)
}

func identity(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "\x1f")
}

// History is a history section that starts out as free text and becomes
// structured as the interview goes on.  Both forms may coexist.
type History struct {
	Text   string `json:"text,omitempty"`
	Fields Tree   `json:"fields,omitempty"`
}

// Empty reports whether nothing has been recorded for the section.
func (h History) Empty() bool {
	return strings.TrimSpace(h.Text) == "" && len(h.Fields) == 0
}

// Profile is the structured patient record for one interview session.
type Profile struct {
	Demographics       map[string]string `json:"demographics"`
	ChiefComplaint     string            `json:"chief_complaint,omitempty"`
	Modules            map[string]Tree   `json:"modules"`
	Medications        []Medication      `json:"medications"`
	Allergies          []Allergy         `json:"allergies"`
	PastMedicalHistory History           `json:"past_medical_history"`
	FamilyHistory      History           `json:"family_history"`
	SocialHistory      History           `json:"social_history"`
	RedFlags           []string          `json:"red_flags"`
	RedFlagsChecked    bool              `json:"red_flags_checked"`
	FreeTextNotes      []string          `json:"free_text_notes"`
}

// NewProfile returns an empty profile with all collections allocated so that
// its JSON form never contains nulls.
func NewProfile() *Profile {
	return &Profile{
		Demographics:  map[string]string{},
		Modules:       map[string]Tree{},
		Medications:   []Medication{},
		Allergies:     []Allergy{},
		RedFlags:      []string{},
		FreeTextNotes: []string{},
	}
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	c := NewProfile()
	for k, v := range p.Demographics {
		c.Demographics[k] = v
	}
	c.ChiefComplaint = p.ChiefComplaint
	for name, fields := range p.Modules {
		c.Modules[name] = cloneTree(fields)
	}
	c.Medications = append(c.Medications, p.Medications...)
	c.Allergies = append(c.Allergies, p.Allergies...)
	c.PastMedicalHistory = cloneHistory(p.PastMedicalHistory)
	c.FamilyHistory = cloneHistory(p.FamilyHistory)
	c.SocialHistory = cloneHistory(p.SocialHistory)
	c.RedFlags = append(c.RedFlags, p.RedFlags...)
	c.RedFlagsChecked = p.RedFlagsChecked
	c.FreeTextNotes = append(c.FreeTextNotes, p.FreeTextNotes...)
	return c
}

// JSON renders the profile snapshot sent to the oracle and the summariser.
func (p *Profile) JSON() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Filled reports whether the slot at the dotted path holds a value.  The
// first segment names the profile section; further segments walk into
// demographics keys, module fields or structured history fields.
func (p *Profile) Filled(path string) bool {
	segs := strings.Split(strings.TrimSpace(path), ".")
	rest := segs[1:]
	switch segs[0] {
	case "chief_complaint":
		return strings.TrimSpace(p.ChiefComplaint) != ""
	case "demographics":
		if len(rest) == 0 {
			return len(p.Demographics) > 0
		}
		return strings.TrimSpace(p.Demographics[rest[0]]) != ""
	case "modules":
		if len(rest) == 0 {
			return len(p.Modules) > 0
		}
		fields, ok := p.Modules[rest[0]]
		if !ok {
			return false
		}
		if len(rest) == 1 {
			return len(fields) > 0
		}
		return treeFilled(fields, rest[1:])
	case "medications":
		return len(p.Medications) > 0
	case "allergies":
		return len(p.Allergies) > 0
	case "past_medical_history":
		return historyFilled(p.PastMedicalHistory, rest)
	case "family_history":
		return historyFilled(p.FamilyHistory, rest)
	case "social_history":
		return historyFilled(p.SocialHistory, rest)
	case "red_flags":
		return len(p.RedFlags) > 0
	case "red_flags_checked":
		return p.RedFlagsChecked
	case "free_text_notes":
		return len(p.FreeTextNotes) > 0
	}
	return false
}

func historyFilled(h History, rest []string) bool {
	if len(rest) == 0 {
		return !h.Empty()
	}
	return treeFilled(h.Fields, rest)
}

func treeFilled(t Tree, path []string) bool {
	v, ok := t[path[0]]
	if !ok {
		return false
	}
	if len(path) == 1 {
		return !isEmptyValue(v)
	}
	sub, ok := v.(Tree)
	if !ok {
		return false
	}
	return treeFilled(sub, path[1:])
}

func cloneHistory(h History) History {
	return History{Text: h.Text, Fields: cloneTree(h.Fields)}
}

func cloneTree(t Tree) Tree {
	if t == nil {
		return nil
	}
	c := make(Tree, len(t))
	for k, v := range t {
		switch vv := v.(type) {
		case Tree:
			c[k] = cloneTree(vv)
		case []string:
			c[k] = append([]string(nil), vv...)
		default:
			c[k] = vv
		}
	}
	return c
}
