// Package client builds HTTP API clients from configuration documents.
//
// A document names an API, gives its base URI and describes its endpoints as
// a tree of (method, path template) pairs. Building a document yields an
// *API whose members are callable endpoints and nested groups, all sharing
// one Session per API name.
//
// # Building from a document
//
//	doc, err := apispec.LoadFile("registry/httpbin.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	api, err := client.NewBuilder().Build(doc)
//
// # Calling an endpoint
//
// Path placeholders are filled from urlParams; opts carries per-call
// request options (params, headers, json, data, cookies, auth, timeout):
//
//	ep, _ := api.Lookup("stream")
//	out, err := ep.Call(ctx, map[string]string{"n": "10"}, nil)
//
// A JSON response is returned decoded; anything else comes back as []byte.
// Non-2xx responses return *HTTPStatusError.
//
// # Resolving by name
//
// A Resolver finds documents by name when no client has been built yet:
//
//	r := client.NewResolver(client.WithRemoteSource(source.NewRemote(base, 0)))
//	r.RegisterLocalSource("project", "./apis")
//	api, err := r.Resolve(ctx, "github",
//	    client.WithSessionOptions(client.Options{"auth": []any{user, token}}))
//
// # Session options
//
// Session options persist across calls. Headers merge case-insensitively,
// mappings merge shallowly and everything else is replaced. Keys outside
// SessionFields are ignored.
package client
