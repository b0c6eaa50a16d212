package core

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// ParseFragment decodes a raw extraction.  Anything that is not a JSON object
// yields an empty fragment.
func ParseFragment(raw []byte) map[string]any {
	var fragment map[string]any
	if err := json.Unmarshal(raw, &fragment); err != nil || fragment == nil {
		return map[string]any{}
	}
	return fragment
}

// Merge folds an extraction fragment into the profile.  Information is only
// ever added: the chief complaint and demographics are fill-if-empty, list
// sections are sets, histories merge key by key and red_flags_checked can
// only become true.  Unknown keys are ignored.  Keys that are present but
// have the wrong shape are skipped and returned so the caller can log them.
func (p *Profile) Merge(fragment map[string]any) []string {
	var malformed []string
	report := func(key string) { malformed = append(malformed, key) }

	for key, raw := range fragment {
		if raw == nil {
			continue
		}
		switch key {
		case "demographics":
			p.mergeDemographics(raw, report)
		case "chief_complaint":
			p.mergeChiefComplaint(raw, report)
		case "modules":
			p.mergeModules(raw, report)
		case "medications":
			p.mergeMedications(raw, report)
		case "allergies":
			p.mergeAllergies(raw, report)
		case "past_medical_history":
			mergeHistory(&p.PastMedicalHistory, key, raw, report)
		case "family_history":
			mergeHistory(&p.FamilyHistory, key, raw, report)
		case "social_history":
			mergeHistory(&p.SocialHistory, key, raw, report)
		case "red_flags":
			flags, ok := stringList(raw)
			if !ok {
				report(key)
				continue
			}
			p.RedFlags = RecordRedFlags(p.RedFlags, flags)
		case "red_flags_checked":
			checked, ok := flagValue(raw)
			if !ok {
				report(key)
				continue
			}
			p.RedFlagsChecked = p.RedFlagsChecked || checked
		case "free_text_notes":
			notes, ok := stringList(raw)
			if !ok {
				report(key)
				continue
			}
			for _, n := range notes {
				if n != "" && !contains(p.FreeTextNotes, n) {
					p.FreeTextNotes = append(p.FreeTextNotes, n)
				}
			}
		}
	}

	sort.Strings(malformed)
	return malformed
}

func (p *Profile) mergeDemographics(raw any, report func(string)) {
	m, ok := raw.(map[string]any)
	if !ok {
		report("demographics")
		return
	}
	if p.Demographics == nil {
		p.Demographics = map[string]string{}
	}
	for k, v := range m {
		k = strings.TrimSpace(k)
		if k == "" || v == nil {
			continue
		}
		s, ok := scalarString(v)
		if !ok {
			report("demographics." + k)
			continue
		}
		if s != "" && strings.TrimSpace(p.Demographics[k]) == "" {
			p.Demographics[k] = s
		}
	}
}

func (p *Profile) mergeChiefComplaint(raw any, report func(string)) {
	s, ok := raw.(string)
	if !ok {
		report("chief_complaint")
		return
	}
	s = strings.TrimSpace(s)
	if s != "" && strings.TrimSpace(p.ChiefComplaint) == "" {
		p.ChiefComplaint = s
	}
}

// mergeModules shallow-merges each symptom module: non-empty values replace
// the value stored under the same key, other keys are untouched.
func (p *Profile) mergeModules(raw any, report func(string)) {
	m, ok := raw.(map[string]any)
	if !ok {
		report("modules")
		return
	}
	if p.Modules == nil {
		p.Modules = map[string]Tree{}
	}
	for name, fields := range m {
		name = strings.TrimSpace(name)
		f, ok := fields.(map[string]any)
		if name == "" || !ok {
			report("modules." + name)
			continue
		}
		for k, v := range coerceTree(f) {
			if isEmptyValue(v) {
				continue
			}
			if p.Modules[name] == nil {
				p.Modules[name] = Tree{}
			}
			p.Modules[name][k] = v
		}
	}
}

func (p *Profile) mergeMedications(raw any, report func(string)) {
	items, ok := raw.([]any)
	if !ok {
		report("medications")
		return
	}
	seen := make(map[string]bool, len(p.Medications))
	for _, m := range p.Medications {
		seen[m.key()] = true
	}
	for i, item := range items {
		var med Medication
		switch v := item.(type) {
		case string:
			med.Name = strings.TrimSpace(v)
		case map[string]any:
			med = Medication{
				Name:      field(v, "name"),
				Dose:      field(v, "dose"),
				Route:     field(v, "route"),
				Frequency: field(v, "frequency"),
			}
		}
		if med.Name == "" {
			report("medications[" + strconv.Itoa(i) + "]")
			continue
		}
		if k := med.key(); !seen[k] {
			seen[k] = true
			p.Medications = append(p.Medications, med)
		}
	}
}

func (p *Profile) mergeAllergies(raw any, report func(string)) {
	items, ok := raw.([]any)
	if !ok {
		report("allergies")
		return
	}
	seen := make(map[string]bool, len(p.Allergies))
	for _, a := range p.Allergies {
		seen[a.key()] = true
	}
	for i, item := range items {
		var allergy Allergy
		switch v := item.(type) {
		case string:
			allergy.Substance = strings.TrimSpace(v)
		case map[string]any:
			allergy = Allergy{
				Substance: field(v, "substance", "allergen", "name"),
				Reaction:  field(v, "reaction"),
			}
		}
		if allergy.Substance == "" {
			report("allergies[" + strconv.Itoa(i) + "]")
			continue
		}
		if k := allergy.key(); !seen[k] {
			seen[k] = true
			p.Allergies = append(p.Allergies, allergy)
		}
	}
}

// mergeHistory accepts free text, a mapping, or a bare list of items.  Text
// replaces text, mappings merge recursively into Fields, and lists are
// unioned into Fields["items"].
func mergeHistory(h *History, key string, raw any, report func(string)) {
	switch v := raw.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			h.Text = s
		}
	case map[string]any:
		if h.Fields == nil {
			h.Fields = Tree{}
		}
		mergeTree(h.Fields, coerceTree(v))
	case []any:
		items, ok := stringList(v)
		if !ok || (len(items) == 0 && len(v) > 0) {
			report(key)
			return
		}
		if len(items) == 0 {
			return
		}
		if h.Fields == nil {
			h.Fields = Tree{}
		}
		mergeTree(h.Fields, Tree{"items": items})
	default:
		report(key)
	}
}

// mergeTree merges src into dst.  Nested trees recurse, lists union, and any
// other non-empty value overwrites the leaf.  A scalar never replaces an
// existing subtree.
func mergeTree(dst, src Tree) {
	for k, nv := range src {
		if isEmptyValue(nv) {
			continue
		}
		switch ov := dst[k].(type) {
		case Tree:
			if sub, ok := nv.(Tree); ok {
				mergeTree(ov, sub)
			}
		case []string:
			if list, ok := nv.([]string); ok {
				dst[k] = union(ov, list)
			} else {
				dst[k] = nv
			}
		default:
			dst[k] = nv
		}
	}
}

// coerceTree converts decoded JSON into a Tree, dropping values that have no
// place in a profile.
func coerceTree(m map[string]any) Tree {
	t := make(Tree, len(m))
	for k, v := range m {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if cv, ok := coerceValue(v); ok {
			t[k] = cv
		}
	}
	return t
}

func coerceValue(v any) (any, bool) {
	switch vv := v.(type) {
	case string:
		return strings.TrimSpace(vv), true
	case bool:
		return vv, true
	case float64:
		return vv, true
	case int:
		return float64(vv), true
	case map[string]any:
		return coerceTree(vv), true
	case Tree:
		return coerceTree(vv), true
	case []any:
		list, _ := stringList(vv)
		return list, true
	case []string:
		return union(nil, vv), true
	}
	return nil, false
}

// UnmarshalJSON coerces stored JSON back into Tree values.
func (t *Tree) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m == nil {
		*t = nil
		return nil
	}
	*t = coerceTree(m)
	return nil
}

// stringList accepts a single string or a list and returns its items as
// trimmed strings.  Object items are flattened by itemString; ok is false
// only when raw is neither a string nor a list.
func stringList(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}, true
		}
		return nil, true
	case []string:
		return union(nil, v), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := itemString(item); ok && s != "" {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// itemString renders one list item.  Objects become "key: value" pairs in
// key order, e.g. {"relation":"father","condition":"MI"} reads
// "condition: MI, relation: father".
func itemString(v any) (string, bool) {
	if s, ok := scalarString(v); ok {
		return s, true
	}
	var parts []string
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := itemString(vv[k]); ok && s != "" {
				parts = append(parts, strings.TrimSpace(k)+": "+s)
			}
		}
		return strings.Join(parts, ", "), true
	case []any:
		for _, item := range vv {
			if s, ok := itemString(item); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; "), true
	}
	return "", false
}

func scalarString(v any) (string, bool) {
	switch vv := v.(type) {
	case string:
		return strings.TrimSpace(vv), true
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64), true
	case int:
		return strconv.Itoa(vv), true
	case bool:
		return strconv.FormatBool(vv), true
	}
	return "", false
}

func flagValue(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, true
		case "false", "no", "":
			return false, true
		}
	}
	return false, false
}

// field returns the first non-empty scalar stored under one of keys.
func field(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := scalarString(m[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

func isEmptyValue(v any) bool {
	switch vv := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(vv) == ""
	case []string:
		return len(vv) == 0
	case Tree:
		return len(vv) == 0
	}
	return false
}

func union(dst, src []string) []string {
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s != "" && !contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
