package models

import "strings"

// NormalizeCustomerName folds a buyer name into the form used for
// matching: lowercase, punctuation stripped, whitespace collapsed.
// "DOE,  Jane " and "jane doe" normalize to the same value.
func NormalizeCustomerName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeZip keeps only the 5-digit prefix of a US ZIP (ZIP+4 exports
// and bare ZIPs must match each other).
func NormalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if i := strings.IndexByte(zip, '-'); i >= 0 {
		zip = zip[:i]
	}
	return zip
}
