// Package translit converts Serbian Cyrillic text to the Latin script.
//
// The mapping is a fixed per-character table. Digraph letters expand to two
// Latin characters (Љ → Lj, Њ → Nj, Џ → Dž) and keep title case for the
// upper-case form. Characters absent from the table pass through unchanged.
package translit

import "strings"

var cyrillicToLatin = map[rune]string{
	'А': "A", 'а': "a", 'Б': "B", 'б': "b", 'В': "V", 'в': "v", 'Г': "G", 'г': "g",
	'Д': "D", 'д': "d", 'Ђ': "Đ", 'ђ': "đ", 'Е': "E", 'е': "e", 'Ж': "Ž", 'ж': "ž",
	'З': "Z", 'з': "z", 'И': "I", 'и': "i", 'Ј': "J", 'ј': "j", 'К': "K", 'к': "k",
	'Л': "L", 'л': "l", 'Љ': "Lj", 'љ': "lj", 'М': "M", 'м': "m", 'Н': "N", 'н': "n",
	'Њ': "Nj", 'њ': "nj", 'О': "O", 'о': "o", 'П': "P", 'п': "p", 'Р': "R", 'р': "r",
	'С': "S", 'с': "s", 'Т': "T", 'т': "t", 'Ћ': "Ć", 'ћ': "ć", 'У': "U", 'у': "u",
	'Ф': "F", 'ф': "f", 'Х': "H", 'х': "h", 'Ц': "C", 'ц': "c", 'Ч': "Č", 'ч': "č",
	'Џ': "Dž", 'џ': "dž", 'Ш': "Š", 'ш': "š",
}

// ToLatin returns s with every Serbian Cyrillic letter replaced by its Latin
// equivalent.
func ToLatin(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if lat, ok := cyrillicToLatin[r]; ok {
			b.WriteString(lat)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
