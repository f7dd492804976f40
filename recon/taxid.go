/*
taxid.go - Tax-id extraction from free-text movement descriptions

PURPOSE:
  Bank descriptions often embed the counterparty's 11-digit national tax id
  (CUIT/CUIL). A valid id in the description is the strongest matching
  signal the engine has, so extraction runs early and every candidate
  substring is checksum-validated before acceptance.

EXTRACTION ORDER:
  1. Labeled prefix:      "CUIT 30-71234567-8", "CUIL: 20123456786"
  2. Grouped pattern:     "30-71234567-8", "30 71234567 8"
  3. Bare 11-digit run:   "30712345678"
  Invalid checksums are discarded and the search falls through to the next
  pattern. At most one id is extracted per movement.

CHECKSUM:
  Standard mod-11 over the first ten digits with weights
  5,4,3,2,7,6,5,4,3,2; remainder 11 maps to 0, remainder 10 to 9.
*/
package recon

import (
	"regexp"
	"strings"
)

var (
	labeledTaxIDPattern = regexp.MustCompile(`(?i)\bCUI[TL]\.?:?\s*(\d{2}[-\s]?\d{8}[-\s]?\d)`)
	groupedTaxIDPattern = regexp.MustCompile(`\b(\d{2})[-\s](\d{8})[-\s](\d)\b`)
	bareTaxIDPattern    = regexp.MustCompile(`\b(\d{11})\b`)
)

var taxIDWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ExtractTaxID pulls the first checksum-valid 11-digit tax id out of a
// free-text description. Returns ("", false) when none validates.
func ExtractTaxID(description string) (string, bool) {
	for _, m := range labeledTaxIDPattern.FindAllStringSubmatch(description, -1) {
		if id := digitsOnly(m[1]); ValidTaxID(id) {
			return id, true
		}
	}
	for _, m := range groupedTaxIDPattern.FindAllStringSubmatch(description, -1) {
		if id := m[1] + m[2] + m[3]; ValidTaxID(id) {
			return id, true
		}
	}
	for _, m := range bareTaxIDPattern.FindAllStringSubmatch(description, -1) {
		if ValidTaxID(m[1]) {
			return m[1], true
		}
	}
	return "", false
}

// ValidTaxID checks the mod-11 verification digit of an 11-digit tax id.
func ValidTaxID(id string) bool {
	if len(id) != 11 {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		d := int(id[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += d * taxIDWeights[i]
	}
	last := int(id[10] - '0')
	if last < 0 || last > 9 {
		return false
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		check = 9
	}
	return check == last
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
