package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/outputs>; rel="outputs"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/outputs>; rel="outputs"`,
	},
	"/api/v1/outputs": {
		`</api/v1/builds/all>; rel="build"`,
		`</api/v1/tiles>; rel="tiles"`,
	},
	"/api/v1/outputs/{name}": {
		`</api/v1/outputs>; rel="collection"`,
	},
	"/api/v1/outputs/{name}/filters": {
		`</api/v1/outputs>; rel="collection"`,
	},
	"/api/v1/builds/{kind}": {
		`</api/v1/outputs>; rel="outputs"`,
		`</api/v1/events>; rel="events"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
		`</api/v1/visits>; rel="visits"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		return v, nil
	}
}
