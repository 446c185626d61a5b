package vm

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// InternNormalized interns the NFC normal form of s, so canonically
// equivalent spellings from host input share one entry. Raw Intern keeps
// byte identity; this is the opt-in variant for user-facing text.
func (vm *VM) InternNormalized(s string) *StringEntry {
	if !norm.NFC.IsNormalString(s) {
		s = norm.NFC.String(s)
	}
	return vm.strings.Intern(s)
}

// CodepointLen returns the number of Unicode code points in the entry.
// Len reports bytes; this is the user-visible character count.
func (e *StringEntry) CodepointLen() int {
	if e == nil {
		return 0
	}
	return utf8.RuneCountInString(e.s)
}
