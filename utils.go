package eventchain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

func JsonPrint(tag string, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%s: error marshaling: %v\n", tag, err)
		return
	}
	fmt.Printf("%s: %s\n", tag, string(b))
}

// StripVersion removes the query string (version arguments) from a resource uri.
func StripVersion(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// WithVersion replaces the version argument of a resource uri.
func WithVersion(uri, version string) string {
	return StripVersion(uri) + "?v=" + version
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// MatchEndpoint maps a resource uri onto an endpoint template when the uri matches the glob pattern.
// "**" spans path segments and "{a,b}" matches either alternative.
// Placeholders like $2 in the template are replaced with the matching uri path segment.
func MatchEndpoint(pattern, template, uri string) (string, bool) {
	base := StripVersion(uri)

	ok, err := doublestar.Match(pattern, base)
	if err != nil || !ok {
		return "", false
	}

	parts := strings.Split(base, "/")
	url := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		i, err := strconv.Atoi(m[1:])
		if err != nil || i >= len(parts) {
			return ""
		}
		return parts[i]
	})

	return url, true
}

var dashSegment = regexp.MustCompile(`/-(/|$)`)

// ExpandURL inserts value at the first "/-/" segment of url.
func ExpandURL(url, value string) string {
	return dashSegment.ReplaceAllString(url, "/"+value+"$1")
}

func IsChainID(s string) bool {
	return len(Base58Decode(s)) == ChainIDSize
}
