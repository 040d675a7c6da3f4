package resolver

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  string
		method  ExtractionMethod
	}{
		{name: "url with query", payload: "https://host/product/ABC123?x=1", wantID: "ABC123", method: MethodUrlPattern},
		{name: "url with fragment", payload: "https://host/product/ABC123#top", wantID: "ABC123", method: MethodUrlPattern},
		{name: "url with trailing path", payload: "https://host/app/product/ABC123/history", wantID: "ABC123", method: MethodUrlPattern},
		{name: "url end of input", payload: "https://app/product/XYZ", wantID: "XYZ", method: MethodUrlPattern},
		{name: "relative path", payload: "/product/P-77", wantID: "P-77", method: MethodUrlPattern},
		{name: "first match wins", payload: "https://h/product/A/product/B", wantID: "A", method: MethodUrlPattern},
		{name: "bare identifier", payload: "ABC123", wantID: "ABC123", method: MethodDirect},
		{name: "empty segment falls back to direct", payload: "https://host/product/?x=1", wantID: "https://host/product/?x=1", method: MethodDirect},
		{name: "different keyword is direct", payload: "https://host/products/ABC", wantID: "https://host/products/ABC", method: MethodDirect},
		{name: "no leading slash is direct", payload: "product/ABC", wantID: "product/ABC", method: MethodDirect},
		{name: "whitespace kept verbatim", payload: "  ABC  ", wantID: "  ABC  ", method: MethodDirect},
	}

	r := New("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := r.Resolve(tt.payload)
			require.True(t, ok)
			assert.Equal(t, tt.wantID, ref.Identifier)
			assert.Equal(t, tt.method, ref.Method)
			assert.Equal(t, tt.payload, ref.SourcePayload)
		})
	}
}

func TestResolve_Empty(t *testing.T) {
	ref, ok := New("").Resolve("")
	assert.False(t, ok)
	assert.Equal(t, ProductReference{}, ref)
}

func TestResolve_CustomKeyword(t *testing.T) {
	r := New("item.v2")

	ref, ok := r.Resolve("https://shop/item.v2/SKU-9?ref=qr")
	require.True(t, ok)
	assert.Equal(t, "SKU-9", ref.Identifier)
	assert.Equal(t, MethodUrlPattern, ref.Method)

	// the dot is literal
	ref, ok = r.Resolve("https://shop/itemXv2/SKU-9")
	require.True(t, ok)
	assert.Equal(t, MethodDirect, ref.Method)
}

func TestExtractionMethod_String(t *testing.T) {
	assert.Equal(t, "url_pattern", MethodUrlPattern.String())
	assert.Equal(t, "direct", MethodDirect.String())
	assert.Equal(t, "unknown", ExtractionMethod(9).String())
}

func TestResolve_Properties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	r := New("")

	properties.Property("non-empty payload always resolves to a non-empty identifier", prop.ForAll(
		func(payload string) bool {
			ref, ok := r.Resolve(payload)
			return ok && ref.Identifier != "" && ref.SourcePayload == payload
		},
		gen.AnyString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.Property("url form round-trips the segment", prop.ForAll(
		func(host, id, suffix string) bool {
			ref, ok := r.Resolve("https://" + host + "/product/" + id + suffix)
			return ok && ref.Method == MethodUrlPattern && ref.Identifier == id
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.OneConstOf("", "/", "?a=1", "#frag", "/more/path"),
	))

	properties.Property("direct payloads without the keyword are returned verbatim", prop.ForAll(
		func(payload string) bool {
			if strings.Contains(payload, "/product/") {
				return true
			}
			ref, ok := r.Resolve(payload)
			return ok && ref.Method == MethodDirect && ref.Identifier == payload
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.TestingRun(t)
}
