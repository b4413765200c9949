// Package http provides the HTTP client used for artifact downloads and the
// content store REST API.
//
// This package handles:
//   - Connection pooling
//   - Bearer token authentication
//   - Retry of transport errors, 5xx, 429, rate-limited 403 and PUT 409
//     through the shared retry policy
//   - Mapping of status codes to sentinel errors
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Token: token,
//	    Retry: retry.Default(),
//	})
//
//	// Small JSON calls
//	resp, err := client.Do(ctx, "GET", url, nil, nil)
//	// resp.StatusCode, resp.Body
//
//	// Streaming download
//	err = client.Fetch(ctx, url, func(r io.Reader) error {
//	    return writeTo(f, r)
//	})
package http
