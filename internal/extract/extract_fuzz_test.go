package extract

import (
	"math"
	"testing"

	"github.com/ahrav/go-appraise/internal/domain"
)

func FuzzExtract(f *testing.F) {
	f.Add(`{"price": 1234.5, "explanation": "x"}`)
	f.Add("```json\n{\"price\": 10}\n```")
	f.Add(`{"price": 1,234`)
	f.Add(`{"explanation": "floor is steady", "price": 8,900`)
	f.Add(`{"price": "$67,240", "explanation": "recent sales"}`)
	f.Add(`"price": 1.5e3 {`)
	f.Add(`{"price": 1e400}`)
	f.Add("worth about $3,200.50")
	f.Add(`{{{"price": }}}`)
	f.Add(`{"price": [1, 2], "explanation": {"a": 1}}`)
	f.Add("```")
	f.Add("")
	f.Add("\x00{\"price\"\x00: 1}")

	f.Fuzz(func(t *testing.T, raw string) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Extract panicked on %q: %v", raw, r)
			}
		}()

		first := Extract(raw)
		second := Extract(raw)

		if first.Raw != raw {
			t.Errorf("Raw = %q, want input %q", first.Raw, raw)
		}
		if first.Kind == domain.ReplyError {
			t.Errorf("Extract returned the provider failure kind for %q", raw)
		}
		if first.Kind != second.Kind || first.Explanation != second.Explanation {
			t.Errorf("Extract not deterministic for %q: %+v vs %+v", raw, first, second)
		}
		if (first.Price == nil) != (second.Price == nil) {
			t.Fatalf("price presence differs between calls for %q", raw)
		}
		if first.Price == nil {
			return
		}
		if *first.Price != *second.Price {
			t.Errorf("price differs between calls for %q: %v vs %v", raw, *first.Price, *second.Price)
		}
		if math.IsNaN(*first.Price) || math.IsInf(*first.Price, 0) {
			t.Errorf("non-finite price %v for %q", *first.Price, raw)
		}
	})
}
