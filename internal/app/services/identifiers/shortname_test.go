package identifiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortName(t *testing.T) {
	cases := map[string]string{
		"Acme":                  "ACME",
		"Acme Energy":           "ACMENE",
		"Acme Energy Services":  "ACENSE",
		"Northwind Traders":     "NORTRA",
		"  o'brien & sons, llc": "OBSOLL",
		"Consolidated":          "CONSOL",
		"A B":                   "AB",
		"!!!":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ShortName(in), in)
	}
}

func TestShortNameShape(t *testing.T) {
	inputs := []string{"Acme", "Big Sky Solar Partners LLC", "ümlaut works", "x1 y2 z3", "Zeta"}
	for _, in := range inputs {
		got := ShortName(in)
		assert.Equal(t, got, ShortName(in), "deterministic for %q", in)
		assert.LessOrEqual(t, len(got), MaxShortNameLen, in)
		assert.Regexp(t, `^[A-Z0-9]*$`, got, in)
	}
}
