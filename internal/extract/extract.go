// Package extract recovers a (price, explanation) appraisal from free-form
// model output. Replies are expected to be a single JSON object, but models
// wrap them in code fences, surround them with prose, truncate them, or skip
// JSON entirely, so extraction walks an ordered fallback chain and the first
// step that yields a price wins:
//
//  1. strip a leading/trailing code fence
//  2. parse the whole text as one JSON object
//  3. parse the smallest balanced-brace substring holding a price key
//  4. parse a repaired version of the text
//  5. match a "price": <number> field, then an "explanation" field
//  6. match a $<number> amount
//
// Extraction never fails loudly: total failure is an appraisal with a nil
// price, which downstream stages treat as unusable rather than zero.
package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"github.com/ahrav/go-appraise/internal/domain"
)

// PriceKeys are the object keys accepted as the price field, in priority order.
var PriceKeys = []string{"price", "predicted_price", "predicted_price_USD"}

var (
	fenceOpen    = regexp.MustCompile("^```[A-Za-z]*\\s*")
	fenceClose   = regexp.MustCompile("\\s*```$")
	priceField   = regexp.MustCompile(`"(?:price|predicted_price|predicted_price_USD)"\s*:\s*"?\$?([0-9][0-9,]*\.?[0-9]*(?:[eE][+-]?[0-9]+)?)`)
	explainField = regexp.MustCompile(`"explanation"\s*:\s*"([^"]+)"`)
	dollarAmount = regexp.MustCompile(`\$([0-9][0-9,]*\.?[0-9]*(?:[eE][+-]?[0-9]+)?)`)
)

// Extract parses raw model output into an appraisal. It is deterministic and
// never panics; the same input always yields the same output.
func Extract(raw string) domain.Appraisal {
	cleaned := StripFence(raw)

	if price, explanation, ok := fromJSON(cleaned); ok {
		return jsonAppraisal(raw, price, explanation)
	}
	if price, explanation, ok := fromEmbeddedObject(cleaned); ok {
		return jsonAppraisal(raw, price, explanation)
	}
	if price, explanation, ok := fromRepaired(cleaned); ok {
		return jsonAppraisal(raw, price, explanation)
	}

	if m := priceField.FindStringSubmatch(raw); m != nil {
		if price, ok := parseNumber(m[1]); ok {
			var explanation string
			if e := explainField.FindStringSubmatch(raw); e != nil {
				explanation = e[1]
			}
			return domain.Appraisal{Price: &price, Explanation: explanation, Kind: domain.ReplyText, Raw: raw}
		}
	}

	if m := dollarAmount.FindStringSubmatch(raw); m != nil {
		if price, ok := parseNumber(m[1]); ok {
			return domain.Appraisal{Price: &price, Kind: domain.ReplyText, Raw: raw}
		}
	}

	return domain.Appraisal{Kind: domain.ReplyText, Raw: raw}
}

// FromError builds the sentinel appraisal recorded when a provider call fails.
func FromError(err error) domain.Appraisal {
	return domain.Appraisal{
		Kind:        domain.ReplyError,
		Explanation: fmt.Sprintf("error: %v", err),
	}
}

// StripFence removes a leading ``` or ```json marker and a trailing ``` marker.
func StripFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = fenceOpen.ReplaceAllString(cleaned, "")
	cleaned = fenceClose.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

func jsonAppraisal(raw string, price float64, explanation string) domain.Appraisal {
	return domain.Appraisal{Price: &price, Explanation: explanation, Kind: domain.ReplyJSON, Raw: raw}
}

// fromJSON parses text as a single JSON object carrying a price key.
func fromJSON(text string) (float64, string, bool) {
	if text == "" || !gjson.Valid(text) {
		return 0, "", false
	}
	obj := gjson.Parse(text)
	if !obj.IsObject() {
		return 0, "", false
	}
	for _, key := range PriceKeys {
		v := obj.Get(key)
		if !v.Exists() {
			continue
		}
		price, ok := coerce(v)
		if !ok {
			return 0, "", false
		}
		return price, explanationOf(obj), true
	}
	return 0, "", false
}

func explanationOf(obj gjson.Result) string {
	e := obj.Get("explanation")
	switch {
	case !e.Exists(), e.Type == gjson.Null:
		return ""
	case e.Type == gjson.String:
		return e.String()
	default:
		return e.Raw
	}
}

// fromEmbeddedObject finds every balanced {...} span, keeps those mentioning
// a price key, and parses them from shortest to longest.
func fromEmbeddedObject(text string) (float64, string, bool) {
	spans := braceSpans(text)
	candidates := spans[:0]
	for _, s := range spans {
		if mentionsPrice(text[s[0]:s[1]]) {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := candidates[i][1]-candidates[i][0], candidates[j][1]-candidates[j][0]
		if li != lj {
			return li < lj
		}
		return candidates[i][0] < candidates[j][0]
	})
	for _, s := range candidates {
		if price, explanation, ok := fromJSON(text[s[0]:s[1]]); ok {
			return price, explanation, true
		}
	}
	return 0, "", false
}

func mentionsPrice(s string) bool {
	for _, key := range PriceKeys {
		if strings.Contains(s, `"`+key+`"`) {
			return true
		}
	}
	return false
}

// braceSpans returns [start, end) offsets of balanced brace pairs. Quotes are
// honored only inside an object so apostrophes or stray quotes in surrounding
// prose cannot desynchronize the scan.
func braceSpans(text string) [][2]int {
	var (
		spans    [][2]int
		stack    []int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			spans = append(spans, [2]int{start, i + 1})
		}
	}
	return spans
}

// fromRepaired runs the text through a JSON repair pass, which recovers
// truncated objects, single quotes, trailing commas and similar damage.
// Repair splits a bare grouped number such as 8,900 at the comma, so the
// repaired price must agree with the literal price field when one matches.
func fromRepaired(text string) (float64, string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 || !strings.Contains(text[start:], "price") {
		return 0, "", false
	}
	repaired, err := jsonrepair.JSONRepair(text[start:])
	if err != nil {
		return 0, "", false
	}
	price, explanation, ok := fromJSON(repaired)
	if !ok {
		return 0, "", false
	}
	if m := priceField.FindStringSubmatch(text[start:]); m != nil {
		if literal, lok := parseNumber(m[1]); lok && literal != price {
			return 0, "", false
		}
	}
	return price, explanation, true
}

// coerce converts a JSON price value to a finite float. Numeric strings may
// carry a dollar sign and thousands separators.
func coerce(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	case gjson.String:
		s := strings.TrimSpace(v.String())
		s = strings.TrimPrefix(s, "$")
		return parseNumber(s)
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
