// Copyright © 2026, Taggedpdf Project Contributors. All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tagtree

import (
	"io"
	"math"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// alphaReader filters an ASCII85-encoded byte stream down to the bytes
// encoding/ascii85 actually understands: valid base85 characters ('!'..'u'),
// stopping (and zeroing everything from that point on) once it sees the "~>"
// end-of-data marker. Bytes outside the valid range are replaced with zero
// rather than dropped, so the caller's buffer offsets stay aligned with the
// underlying reader.
type alphaReader struct {
	r        io.Reader
	sawTilde bool
	done     bool
}

func newAlphaReader(r io.Reader) *alphaReader {
	return &alphaReader{r: r}
}

func (a *alphaReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	for i := 0; i < n; i++ {
		c := p[i]
		if a.done {
			p[i] = 0
			continue
		}
		if a.sawTilde {
			a.sawTilde = false
			if c == '>' {
				a.done = true
			}
			p[i] = 0
			continue
		}
		if c == '~' {
			if i+1 < n && p[i+1] == '>' {
				a.done = true
			} else if i+1 >= n {
				a.sawTilde = true
			}
			p[i] = 0
			continue
		}
		if c < '!' || c > 'u' {
			p[i] = 0
		}
	}
	return n, err
}

// nameToRune maps the glyph names used in a font's /Differences array (and
// in the AGL generally) to the Unicode code point they represent. Only the
// names that show up in practice for Latin text are included; anything
// else decodes to the zero rune, which dictEncoder treats as "leave as-is".
var nameToRune = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#',
	"dollar": '$', "percent": '%', "ampersand": '&', "quotesingle": '\'',
	"parenleft": '(', "parenright": ')', "asterisk": '*', "plus": '+',
	"comma": ',', "hyphen": '-', "period": '.', "slash": '/',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"colon": ':', "semicolon": ';', "less": '<', "equal": '=',
	"greater": '>', "question": '?', "at": '@',
	"bracketleft": '[', "backslash": '\\', "bracketright": ']',
	"asciicircum": '^', "underscore": '_', "grave": '`',
	"braceleft": '{', "bar": '|', "braceright": '}', "asciitilde": '~',
	"bullet": '•', "dagger": '†', "daggerdbl": '‡',
	"ellipsis": '…', "emdash": '—', "endash": '–',
	"quotedblleft": '“', "quotedblright": '”',
	"quoteleft": '‘', "quoteright": '’',
	"trademark": '™', "fi": 'ﬁ', "fl": 'ﬂ',
	"Euro": '€',
}

// pdfDocEncoding, winAnsiEncoding, and macRomanEncoding are the three
// single-byte encodings a simple (non-CID) font can declare via /Encoding.
// Bytes with no assigned glyph decode to unicode.ReplacementChar.
var pdfDocEncoding [256]rune
var winAnsiEncoding [256]rune
var macRomanEncoding [256]rune

func init() {
	for i := range pdfDocEncoding {
		pdfDocEncoding[i] = unicode.ReplacementChar
		winAnsiEncoding[i] = unicode.ReplacementChar
		macRomanEncoding[i] = unicode.ReplacementChar
	}

	// 0x20-0x7E: printable ASCII, identical across all three encodings.
	for i := rune(0x20); i <= 0x7E; i++ {
		pdfDocEncoding[i] = i
		winAnsiEncoding[i] = i
		macRomanEncoding[i] = i
	}

	// PDFDocEncoding's special low-range glyphs (ISO 32000-1 Annex D.2).
	pdfLow := map[byte]rune{
		0x18: '˘', 0x19: 'ˇ', 0x1A: 'ˆ', 0x1B: '˙',
		0x1C: '˝', 0x1D: '˛', 0x1E: '˚', 0x1F: '˜',
		0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…',
		0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
		0x88: '‹', 0x89: '›', 0x8A: '−', 0x8B: '‰',
		0x8C: '„', 0x8D: '“', 0x8E: '”', 0x8F: '‘',
		0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ',
		0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
		0x98: 'Ÿ', 0x99: 'Ž', 0x9A: 'ı', 0x9B: 'ł',
		0x9C: 'œ', 0x9D: 'š', 0x9E: 'ž', 0xA0: '€',
	}
	for b, r := range pdfLow {
		pdfDocEncoding[b] = r
	}
	// 0xA1-0xFF: coincides with the Latin-1 supplement code points.
	for i := rune(0xA1); i <= 0xFF; i++ {
		pdfDocEncoding[i] = i
	}

	// WinAnsiEncoding is CP1252: 0xA0-0xFF matches Latin-1; the 0x80-0x9F
	// block carries the CP1252-specific punctuation/typography glyphs.
	winLow := map[byte]rune{
		0x80: '€', 0x82: '‚', 0x83: 'ƒ', 0x84: '„',
		0x85: '…', 0x86: '†', 0x87: '‡', 0x88: 'ˆ',
		0x89: '‰', 0x8A: 'Š', 0x8B: '‹', 0x8C: 'Œ',
		0x8E: 'Ž', 0x91: '‘', 0x92: '’', 0x93: '“',
		0x94: '”', 0x95: '•', 0x96: '–', 0x97: '—',
		0x98: '˜', 0x99: '™', 0x9A: 'š', 0x9B: '›',
		0x9C: 'œ', 0x9E: 'ž', 0x9F: 'Ÿ',
	}
	for b, r := range winLow {
		winAnsiEncoding[b] = r
	}
	for i := rune(0xA0); i <= 0xFF; i++ {
		winAnsiEncoding[i] = i
	}

	// MacRomanEncoding's upper half is its own table (not Latin-1); the
	// common Latin letters/punctuation used in practice are covered here.
	macHigh := []rune{
		'Ä', 'Å', 'Ç', 'É', 'Ñ', 'Ö', 'Ü', 'á',
		'à', 'â', 'ä', 'ã', 'å', 'ç', 'é', 'è',
		'ê', 'ë', 'í', 'ì', 'î', 'ï', 'ñ', 'ó',
		'ò', 'ô', 'ö', 'õ', 'ú', 'ù', 'û', 'ü',
		'†', '°', '¢', '£', '§', '•', '¶', 'ß',
		'®', '©', '™', '´', '¨', '≠', 'Æ', 'Ø',
		'∞', '±', '≤', '≥', '¥', 'µ', '∂', '∑',
		'∏', 'π', '∫', 'ª', 'º', 'Ω', 'æ', 'ø',
		'¿', '¡', '¬', '√', 'ƒ', '≈', '∆', '«',
		'»', '…', ' ', 'À', 'Ã', 'Õ', 'Œ', 'œ',
		'–', '—', '“', '”', '‘', '’', '÷', '◊',
		'ÿ', 'Ÿ', '⁄', '€', '‹', '›', 'ﬁ', 'ﬂ',
		'‡', '·', '‚', '„', '‰', 'Â', 'Ê', 'Á',
		'Ë', 'È', 'Í', 'Î', 'Ï', 'Ì', 'Ó', 'Ô',
		'', 'Ò', 'Ú', 'Û', 'Ù', 'ı', 'ˆ', '˜',
		'¯', '˘', '˙', '˚', '¸', '˝', '˛', 'ˇ',
	}
	for i, r := range macHigh {
		macRomanEncoding[0x80+i] = r
	}
}

// isPDFDocEncoded reports whether s, taken as a PDF "text string" byte
// sequence, decodes cleanly under PDFDocEncoding: it is not a UTF-16BE
// string (leading BOM) and every byte has an assigned glyph.
func isPDFDocEncoded(s string) bool {
	if isUTF16(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if pdfDocEncoding[s[i]] == unicode.ReplacementChar {
			return false
		}
	}
	return true
}

// pdfDocDecode decodes s under PDFDocEncoding.
func pdfDocDecode(s string) string {
	runes := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		runes[i] = pdfDocEncoding[s[i]]
	}
	return string(runes)
}

// isUTF16 reports whether s looks like a big-endian UTF-16 "text string":
// even length, with the 0xFEFF byte-order mark as its first code unit.
func isUTF16(s string) bool {
	if len(s) < 2 || len(s)%2 != 0 {
		return false
	}
	return s[0] == 0xFE && s[1] == 0xFF
}

// utf16Decode decodes s (an even-length sequence of big-endian UTF-16 code
// units, BOM already stripped by the caller) to a UTF-8 string.
func utf16Decode(s string) string {
	if len(s)%2 != 0 {
		return ""
	}
	units := make([]uint16, len(s)/2)
	for i := range units {
		units[i] = uint16(s[2*i])<<8 | uint16(s[2*i+1])
	}
	return string(utf16.Decode(units))
}

// DecodeUTF8OrPreserve decodes s as UTF-8, falling back to preserving any
// invalid byte as its own rune (rather than substituting
// unicode.ReplacementChar) so a caller can still recover the original bytes
// of a string PDF producers declared as UTF-8 but which in practice is raw
// single-byte text.
func DecodeUTF8OrPreserve(s string) []rune {
	out := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			out = append(out, rune(s[i]))
			i++
			continue
		}
		out = append(out, r)
		i += size
	}
	return out
}

// IsSameSentence reports whether current continues the same run of text as
// last: same font and size, and close enough vertically to be the next line
// of the same paragraph rather than an unrelated text object.
func IsSameSentence(last, current Text) bool {
	if last.S == "" {
		return false
	}
	if last.Font != current.Font {
		return false
	}
	if math.Abs(last.FontSize-current.FontSize) > 0.5 {
		return false
	}
	if math.Abs(last.Y-current.Y) > 5 {
		return false
	}
	return true
}
