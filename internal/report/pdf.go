package report

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signintech/gopdf"

	"waitroom-intake/internal/core"
)

// ErrFontUnavailable is returned when none of the candidate TTF fonts can be
// loaded.
var ErrFontUnavailable = errors.New("no usable report font")

// DefaultFontPaths are tried after the configured font.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontFamily = "Report"
	margin     = 40.0
	textWidth  = 595.28 - 2*margin // A4 width in points
	pageBottom = 841.89 - margin
)

// Renderer produces the clinician PDF for a finished intake.
type Renderer struct {
	FontPaths []string
}

// NewRenderer tries fontPath first, then the usual DejaVu locations.
func NewRenderer(fontPath string) *Renderer {
	var paths []string
	if fontPath != "" {
		paths = append(paths, fontPath)
	}
	return &Renderer{FontPaths: append(paths, DefaultFontPaths...)}
}

type line struct {
	size float64
	text string
	gap  float64
}

// Render lays the record out on A4 pages.
func (r *Renderer) Render(rec *core.IntakeRecord) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(margin, margin, margin, margin)

	var fontErr error
	loaded := false
	for _, path := range r.FontPaths {
		if err := pdf.AddTTFFont(fontFamily, path); err == nil {
			loaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !loaded {
		return nil, fmt.Errorf("%w: %v", ErrFontUnavailable, fontErr)
	}

	pdf.AddPage()
	for _, l := range layout(rec) {
		if err := pdf.SetFont(fontFamily, "", l.size); err != nil {
			return nil, err
		}
		wrapped, err := pdf.SplitText(l.text, textWidth)
		if err != nil {
			// SplitText rejects empty strings
			wrapped = []string{l.text}
		}
		for _, w := range wrapped {
			if pdf.GetY()+l.size > pageBottom {
				pdf.AddPage()
			}
			if err := pdf.Cell(nil, w); err != nil {
				return nil, err
			}
			pdf.Br(l.size + 3)
		}
		if l.gap > 0 {
			pdf.Br(l.gap)
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// layout flattens the record into the report's lines.  Red flags come
// before everything else so they are not missed.
func layout(rec *core.IntakeRecord) []line {
	p := rec.Profile
	if p == nil {
		p = core.NewProfile()
	}
	heading := func(s string) line { return line{size: 14, text: s, gap: 4} }
	body := func(s string) line { return line{size: 11, text: s} }
	var out []line

	out = append(out,
		line{size: 20, text: "Patient intake", gap: 10},
		body("Completed: "+rec.CompletedAt.Format("2006-01-02 15:04 MST")),
		body("Intake: "+rec.ID),
		line{size: 11, text: "Inbox: " + rec.Destination, gap: 12},
	)

	out = append(out, heading("Red flags"))
	if len(p.RedFlags) == 0 {
		out = append(out, body("None recorded."))
	}
	for _, f := range p.RedFlags {
		out = append(out, body("! "+f))
	}
	checked := "no"
	if p.RedFlagsChecked {
		checked = "yes"
	}
	out = append(out, line{size: 11, text: "Red-flag screen completed: " + checked, gap: 12})

	out = append(out, heading("Summary"))
	summary := strings.TrimSpace(rec.Summary)
	if summary == "" {
		summary = core.SummaryUnavailable
	}
	for _, s := range strings.Split(summary, "\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, body(s))
		}
	}
	out[len(out)-1].gap = 12

	out = append(out, heading("Structured profile"))
	out = append(out, body("Chief complaint: "+orNone(p.ChiefComplaint)))
	out = append(out, body("Demographics: "+orNone(formatStrings(p.Demographics))))

	meds := make([]string, 0, len(p.Medications))
	for _, m := range p.Medications {
		meds = append(meds, joinNonEmpty(" ", m.Name, m.Dose, m.Route, m.Frequency))
	}
	out = append(out, body("Medications: "+orNone(strings.Join(meds, "; "))))

	allergies := make([]string, 0, len(p.Allergies))
	for _, a := range p.Allergies {
		if a.Reaction != "" {
			allergies = append(allergies, a.Substance+" ("+a.Reaction+")")
		} else {
			allergies = append(allergies, a.Substance)
		}
	}
	out = append(out, body("Allergies: "+orNone(strings.Join(allergies, "; "))))

	out = append(out,
		body("Past medical history: "+orNone(formatHistory(p.PastMedicalHistory))),
		body("Family history: "+orNone(formatHistory(p.FamilyHistory))),
		body("Social history: "+orNone(formatHistory(p.SocialHistory))),
	)

	names := make([]string, 0, len(p.Modules))
	for name := range p.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, body("Module "+name+": "+orNone(formatTree(p.Modules[name], ""))))
	}
	for _, n := range p.FreeTextNotes {
		out = append(out, body("Note: "+n))
	}
	return out
}

func formatHistory(h core.History) string {
	return joinNonEmpty("; ", strings.TrimSpace(h.Text), formatTree(h.Fields, ""))
}

func formatTree(t core.Tree, prefix string) string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := t[k].(type) {
		case core.Tree:
			if s := formatTree(v, name); s != "" {
				parts = append(parts, s)
			}
		case []string:
			parts = append(parts, name+": "+strings.Join(v, ", "))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v", name, v))
		}
	}
	return strings.Join(parts, "; ")
}

func formatStrings(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, ", ")
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "not recorded"
	}
	return s
}
