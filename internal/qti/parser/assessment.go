// Package parser reads IMS QTI 1.2 test packages (<questestinterop>) into
// the runtime's definition tree. Parsing happens once per package; the
// resulting tree is validated here so evaluation never meets an unknown
// condition operator.
package parser

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/openassess/qti-runtime/internal/qti"
)

type xmlInterop struct {
	XMLName    xml.Name      `xml:"questestinterop"`
	Assessment xmlAssessment `xml:"assessment"`
}

type xmlAssessment struct {
	Ident    string         `xml:"ident,attr"`
	Title    string         `xml:"title,attr"`
	Duration string         `xml:"duration"`
	Meta     []xmlMetaField `xml:"qtimetadata>qtimetadatafield"`
	Outcomes []xmlDecVar    `xml:"outcomes_processing>outcomes>decvar"`
	Sections []xmlSection   `xml:"section"`
}

type xmlMetaField struct {
	Label string `xml:"fieldlabel"`
	Entry string `xml:"fieldentry"`
}

type xmlDecVar struct {
	VarName  string `xml:"varname,attr"`
	CutValue string `xml:"cutvalue,attr"`
}

type xmlSection struct {
	Ident    string    `xml:"ident,attr"`
	Title    string    `xml:"title,attr"`
	Duration string    `xml:"duration"`
	Items    []xmlItem `xml:"item"`
}

type xmlItem struct {
	Ident        string         `xml:"ident,attr"`
	Title        string         `xml:"title,attr"`
	Meta         []xmlMetaField `xml:"itemmetadata>qtimetadata>qtimetadatafield"`
	Presentation xmlInner       `xml:"presentation"`
	Conditions   []xmlRespCond  `xml:"resprocessing>respcondition"`
}

type xmlInner struct {
	Raw string `xml:",innerxml"`
}

type xmlRespCond struct {
	ConditionVar xmlCondNode `xml:"conditionvar"`
	SetVars      []xmlSetVar `xml:"setvar"`
}

type xmlSetVar struct {
	Action string `xml:"action,attr"`
	Value  string `xml:",chardata"`
}

// xmlCondNode decodes the recursive condition grammar: and/or/not nest
// further nodes, the var* leaves carry respident + literal.
type xmlCondNode struct {
	XMLName   xml.Name
	RespIdent string        `xml:"respident,attr"`
	Value     string        `xml:",chardata"`
	Children  []xmlCondNode `xml:",any"`
}

// ParseAssessment reads one questestinterop document into a validated
// definition tree.
func ParseAssessment(r io.Reader) (*qti.Assessment, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc xmlInterop
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse questestinterop: %w", err)
	}
	xa := doc.Assessment
	if xa.Ident == "" {
		return nil, fmt.Errorf("parse questestinterop: assessment without ident")
	}

	def := &qti.Assessment{
		ID:    xa.Ident,
		Title: xa.Title,
		Mode:  navigationMode(xa.Meta),
	}
	if d, err := parseDuration(xa.Duration); err != nil {
		return nil, fmt.Errorf("assessment %s: %w", xa.Ident, err)
	} else if d != nil {
		def.DurationLimit = d
	}
	if cv, err := cutValue(xa.Outcomes); err != nil {
		return nil, fmt.Errorf("assessment %s: %w", xa.Ident, err)
	} else if cv != nil {
		def.CutValue = cv
	}

	for _, xs := range xa.Sections {
		sec := qti.Section{ID: xs.Ident, Title: xs.Title}
		if d, err := parseDuration(xs.Duration); err != nil {
			return nil, fmt.Errorf("section %s: %w", xs.Ident, err)
		} else if d != nil {
			sec.DurationLimit = d
		}
		for _, xi := range xs.Items {
			item, err := buildItem(xi)
			if err != nil {
				return nil, err
			}
			sec.Items = append(sec.Items, item)
		}
		def.Sections = append(def.Sections, sec)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func buildItem(xi xmlItem) (qti.Item, error) {
	item := qti.Item{
		ID:        xi.Ident,
		Title:     xi.Title,
		Responses: responseIdents(xi.Presentation.Raw),
		Required:  metaBool(xi.Meta, "qmd_required"),
	}
	for _, rc := range xi.Conditions {
		cond, err := buildCondition(xi.Ident, rc.ConditionVar)
		if err != nil {
			return qti.Item{}, err
		}
		score, err := scoreValue(xi.Ident, rc.SetVars)
		if err != nil {
			return qti.Item{}, err
		}
		item.Rules = append(item.Rules, qti.ScoringRule{Score: score, Condition: cond})
	}
	return item, nil
}

// buildCondition maps the XML grammar onto the closed Op set. conditionvar
// with several direct children is an implicit and, per the schema.
func buildCondition(itemID string, n xmlCondNode) (*qti.Condition, error) {
	children := make([]*qti.Condition, 0, len(n.Children))
	for _, ch := range n.Children {
		c, err := buildNode(itemID, ch)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &qti.Condition{Op: qti.OpAnd, Children: children}, nil
}

func buildNode(itemID string, n xmlCondNode) (*qti.Condition, error) {
	tag := strings.ToLower(n.XMLName.Local)
	switch tag {
	case "and", "or", "not":
		children := make([]*qti.Condition, 0, len(n.Children))
		for _, ch := range n.Children {
			c, err := buildNode(itemID, ch)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		return &qti.Condition{Op: qti.Op(tag), Children: children}, nil
	case "varequal", "vargt", "vargte", "varlt", "varlte":
		return &qti.Condition{
			Op:    qti.Op(tag),
			Var:   n.RespIdent,
			Value: strings.TrimSpace(n.Value),
		}, nil
	default:
		return nil, fmt.Errorf("item %s: unsupported condition element <%s>", itemID, n.XMLName.Local)
	}
}

// scoreValue reads the first Add/Set action of a respcondition.
func scoreValue(itemID string, svs []xmlSetVar) (float64, error) {
	for _, sv := range svs {
		action := strings.ToLower(strings.TrimSpace(sv.Action))
		if action != "" && action != "add" && action != "set" {
			continue
		}
		raw := strings.TrimSpace(sv.Value)
		if raw == "" {
			return 1, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("item %s: malformed setvar value %q", itemID, raw)
		}
		return v, nil
	}
	return 1, nil
}

func cutValue(outcomes []xmlDecVar) (*float64, error) {
	for _, o := range outcomes {
		if o.CutValue == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(o.CutValue), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed cutvalue %q", o.CutValue)
		}
		return &v, nil
	}
	return nil, nil
}

func navigationMode(meta []xmlMetaField) qti.NavigationMode {
	for _, f := range meta {
		if !strings.EqualFold(strings.TrimSpace(f.Label), "qmd_navigatormode") {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(f.Entry)) {
		case "linearsection":
			return qti.NavLinearSection
		case "itempage", "item":
			return qti.NavItemPage
		}
		return qti.NavMenuSection
	}
	return qti.NavMenuSection
}

func metaBool(meta []xmlMetaField, label string) bool {
	for _, f := range meta {
		if strings.EqualFold(strings.TrimSpace(f.Label), label) {
			switch strings.ToLower(strings.TrimSpace(f.Entry)) {
			case "yes", "true", "1":
				return true
			}
		}
	}
	return false
}

// responseIdents scans a presentation block for response_lid/response_str
// elements, the same token-walking approach used for choice extraction.
func responseIdents(inner string) []string {
	var out []string
	dec := xml.NewDecoder(strings.NewReader(inner))
	for {
		t, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := t.(xml.StartElement)
		if !ok {
			continue
		}
		local := strings.ToLower(se.Name.Local)
		if local != "response_lid" && local != "response_str" && local != "response_num" {
			continue
		}
		for _, a := range se.Attr {
			if strings.EqualFold(a.Name.Local, "ident") {
				out = append(out, a.Value)
			}
		}
	}
	return out
}

// parseDuration accepts the ISO-8601 subset QTI packages use for <duration>:
// PnDTnHnMnS with any component optional, e.g. PT30M or P0DT1H30M0S.
// Empty input means no limit.
func parseDuration(s string) (*time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	up := strings.ToUpper(s)
	if !strings.HasPrefix(up, "P") {
		return nil, fmt.Errorf("malformed duration %q", s)
	}
	datePart := up[1:]
	timePart := ""
	if i := strings.IndexByte(datePart, 'T'); i >= 0 {
		timePart = datePart[i+1:]
		datePart = datePart[:i]
	}
	var total time.Duration
	var err error
	// months and years appear as zero components in exported packages;
	// value them nominally so non-zero ones still land in the right order
	if total, err = addComponents(total, datePart, map[byte]time.Duration{
		'Y': 365 * 24 * time.Hour, 'M': 30 * 24 * time.Hour, 'D': 24 * time.Hour,
	}); err != nil {
		return nil, fmt.Errorf("malformed duration %q", s)
	}
	if total, err = addComponents(total, timePart, map[byte]time.Duration{
		'H': time.Hour, 'M': time.Minute, 'S': time.Second,
	}); err != nil {
		return nil, fmt.Errorf("malformed duration %q", s)
	}
	return &total, nil
}

func addComponents(total time.Duration, part string, units map[byte]time.Duration) (time.Duration, error) {
	start := 0
	for i := 0; i < len(part); i++ {
		c := part[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		unit, ok := units[c]
		if !ok || start == i {
			return 0, fmt.Errorf("bad component %q", part)
		}
		v, err := strconv.ParseFloat(part[start:i], 64)
		if err != nil {
			return 0, err
		}
		total += time.Duration(v * float64(unit))
		start = i + 1
	}
	if start != len(part) {
		return 0, fmt.Errorf("trailing junk %q", part[start:])
	}
	return total, nil
}
