package mention

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

var trailingToken = regexp.MustCompile(`@(\w*)$`)

// Directory is the ordered list of known usernames.
type Directory struct {
	names []string
}

func NewDirectory(names ...string) *Directory {
	return &Directory{names: slices.Clone(names)}
}

// Replace swaps the whole directory, keeping the given order.
func (d *Directory) Replace(names []string) {
	d.names = slices.Clone(names)
}

func (d *Directory) Names() []string {
	return slices.Clone(d.names)
}

func (d *Directory) Contains(name string) bool {
	return slices.ContainsFunc(d.names, func(n string) bool {
		return strings.EqualFold(n, name)
	})
}

func (d *Directory) Reset() {
	d.names = nil
}

// prefix returns the text up to caret, where caret counts runes. Out of
// range carets are clamped.
func prefix(text string, caret int) string {
	if caret <= 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == caret {
			return text[:pos]
		}
		i++
	}
	return text
}

// Token returns the partial @-token that ends at caret, without the @.
func Token(text string, caret int) (string, bool) {
	m := trailingToken.FindStringSubmatch(prefix(text, caret))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FindCandidates returns the usernames that complete the @-token ending at
// caret, in directory order, excluding self.
func FindCandidates(text string, caret int, known []string, self string) []string {
	token, ok := Token(text, caret)
	if !ok {
		return nil
	}

	token = strings.ToLower(token)
	var out []string
	for _, name := range known {
		if name == self {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), token) {
			out = append(out, name)
		}
	}
	return out
}

// IsAddressedTo reports whether body contains @username not followed by
// another word character. Matching ignores case.
func IsAddressedTo(body, username string) bool {
	if username == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)@` + regexp.QuoteMeta(username) + `(?:\W|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(body)
}

// Insert replaces the partial token before caret with "@username " and
// returns the new text and the caret position after the insertion.
func Insert(text string, caret int, username string) (string, int) {
	before := prefix(text, caret)
	after := text[len(before):]

	loc := trailingToken.FindStringIndex(before)
	if loc == nil {
		return text, utf8.RuneCountInString(before)
	}

	newBefore := before[:loc[0]] + "@" + username + " "
	return newBefore + after, utf8.RuneCountInString(newBefore)
}
