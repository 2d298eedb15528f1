package views

import (
	"context"

	"github.com/a-h/templ"
)

type basePathKey struct{}

// WithBasePath stores the URL prefix used when rendering links.
func WithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathKey{}, basePath)
}

// URL prefixes path with the base path from ctx.
func URL(ctx context.Context, path string) templ.SafeURL {
	base, _ := ctx.Value(basePathKey{}).(string)
	return templ.SafeURL(base + path)
}
