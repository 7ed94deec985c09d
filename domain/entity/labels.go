package entity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// DeriveLabel 由逻辑字段名推导表头：accountName → Account Name，accountId → Account ID
func DeriveLabel(field string) string {
	words := splitCamel(field)
	for i, w := range words {
		if strings.EqualFold(w, "id") {
			words[i] = "ID"
			continue
		}
		words[i] = titleCaser.String(w)
	}
	return strings.Join(words, " ")
}

func splitCamel(s string) []string {
	var (
		words []string
		cur   []rune
	)
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || r == ' ':
			if len(cur) > 0 {
				words = append(words, string(cur))
				cur = cur[:0]
			}
		case unicode.IsUpper(r) && len(cur) > 0:
			words = append(words, string(cur))
			cur = []rune{unicode.ToLower(r)}
		default:
			cur = append(cur, unicode.ToLower(r))
		}
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}
	return words
}
