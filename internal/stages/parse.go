package stages

import (
	"encoding/json"
	"encoding/xml"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fenwick-labs/etlq/internal/stageerr"
)

const stageParse = "parse"

var htmlTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>|<style[^>]*>.*?</style>|<[^>]*>`)

// Parse dispatches on contentType and returns the extracted text (spec
// §4.2): HTML strips scripts/styles and collapses whitespace, JSON flattens
// text-valued leaves, XML extracts element text, everything else passes
// through as decoded text.
func Parse(data []byte, contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.Contains(ct, "html"):
		return collapseWhitespace(htmlTagRe.ReplaceAllString(string(data), " ")), nil
	case strings.Contains(ct, "json"):
		return parseJSON(data)
	case strings.Contains(ct, "xml"):
		return parseXML(data)
	default:
		return collapseWhitespace(sanitizeUTF8(string(data))), nil
	}
}

func parseJSON(data []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", stageerr.BadInput(stageParse, err)
	}
	var leaves []string
	flattenJSONText(v, &leaves)
	return collapseWhitespace(strings.Join(leaves, " ")), nil
}

func flattenJSONText(v interface{}, out *[]string) {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			*out = append(*out, s)
		}
	case []interface{}:
		for _, item := range t {
			flattenJSONText(item, out)
		}
	case map[string]interface{}:
		for _, item := range t {
			flattenJSONText(item, out)
		}
	default:
		// Numbers, bools, null: not text-valued leaves, skip.
	}
}

// parseXML walks CharData tokens to extract element text, ignoring
// tag/attribute structure entirely.
func parseXML(data []byte) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	dec.Strict = false
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			s := strings.TrimSpace(string(cd))
			if s != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(s)
			}
		}
	}
	out := collapseWhitespace(b.String())
	if out == "" {
		return "", stageerr.BadInput(stageParse, errXMLNoText)
	}
	return out, nil
}

var errXMLNoText = xmlNoTextErr{}

type xmlNoTextErr struct{}

func (xmlNoTextErr) Error() string { return "xml contains no element text" }

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}

func sanitizeUTF8(s string) string {
	if s == "" || utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, " ")
}
