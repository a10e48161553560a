package crawler

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugLen leaves room for the extension under the usual 255-byte name limit.
const maxSlugLen = 200

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a page identifier into a lowercase, hyphenated, filesystem
// safe name. Accents are folded ("Eärendil" -> "earendil"); identifiers with
// nothing usable left fall back to a hash. Long slugs are cut and suffixed
// with a hash of the identifier so distinct identifiers stay distinct.
func Slugify(id string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, id)
	if err != nil {
		folded = id
	}
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if slug == "" {
		return "page-" + hashID(id)[:12]
	}
	if len(slug) > maxSlugLen {
		suffix := "-" + hashID(id)[:12]
		slug = strings.TrimRight(slug[:maxSlugLen-len(suffix)], "-") + suffix
	}
	return slug
}

// TargetURL derives the page URL by concatenating base and identifier.
func TargetURL(baseURL, id string) string {
	return baseURL + id
}

func recordPath(id string) string {
	return Slugify(id) + ".json"
}

func snapshotPath(id string) string {
	return Slugify(id) + ".html"
}

func hashID(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// EncodeRecord renders rec as 2-space indented JSON without HTML escaping and
// without a trailing newline. Content is always an array.
func EncodeRecord(rec PageRecord) ([]byte, error) {
	if rec.Content == nil {
		rec.Content = []Section{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
