// Package resolver extracts the application identifier from a decoded payload.
package resolver

import (
	"fmt"
	"regexp"
)

// DefaultPathKeyword is the path segment that precedes the identifier in
// product URLs (".../product/<id>").
const DefaultPathKeyword = "product"

// ExtractionMethod records how the identifier was obtained.
type ExtractionMethod int

const (
	// MethodUrlPattern means the identifier was cut out of a ".../product/<id>" path.
	MethodUrlPattern ExtractionMethod = iota
	// MethodDirect means the whole payload was taken verbatim.
	MethodDirect
)

// String returns a human-readable representation of the method.
func (m ExtractionMethod) String() string {
	switch m {
	case MethodUrlPattern:
		return "url_pattern"
	case MethodDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// ProductReference is the resolved output handed to navigation.
type ProductReference struct {
	// Identifier is never empty.
	Identifier string
	// Method is how Identifier was extracted.
	Method ExtractionMethod
	// SourcePayload is the original decoded text, kept for diagnostics.
	SourcePayload string
}

// Resolver maps decoded payloads to product references.
type Resolver struct {
	pattern *regexp.Regexp
}

// New returns a Resolver matching "/<keyword>/<segment>", where segment ends
// at '/', '?', '#' or the end of the payload. An empty keyword selects
// DefaultPathKeyword.
func New(keyword string) *Resolver {
	if keyword == "" {
		keyword = DefaultPathKeyword
	}
	return &Resolver{
		pattern: regexp.MustCompile(fmt.Sprintf(`/%s/([^/?#]+)`, regexp.QuoteMeta(keyword))),
	}
}

// Resolve extracts the identifier. It returns false only for an empty
// payload; identifier shape is not validated here.
func (r *Resolver) Resolve(payload string) (ProductReference, bool) {
	if payload == "" {
		return ProductReference{}, false
	}

	if m := r.pattern.FindStringSubmatch(payload); m != nil {
		return ProductReference{
			Identifier:    m[1],
			Method:        MethodUrlPattern,
			SourcePayload: payload,
		}, true
	}

	return ProductReference{
		Identifier:    payload,
		Method:        MethodDirect,
		SourcePayload: payload,
	}, true
}
