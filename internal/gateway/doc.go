// Package gateway serves certgate's browser-facing HTTP surface.
//
// # Routes
//
//   - GET / - landing page with login and logout links and the captcha widget
//   - GET /assets/ - embedded static files
//   - GET /health-check - liveness
//   - GET /protected - releases the protected resource URL to callers with a
//     session cookie the auth backend accepts
//   - POST /verify-captcha - checks a captcha response token
//
// # Failure mapping
//
// /protected answers 401 when the jwt cookie is absent (the backend is not
// contacted) or the backend says the token is invalid, and 500 when the
// backend cannot be reached or the connection cannot be built. It never
// grants access on an error.
//
// /verify-captcha always answers 200 with {"success", "message"}. A denial
// or a replayed token reads "Captcha verification failed"; provider outages,
// undecodable replies and malformed requests read "Captcha verification
// unavailable".
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is canceled and shutdown completes
//
// Run listens on server.http_addr, or joins the tailnet when tailscale is
// enabled. Shutdown gives in-flight requests five seconds and then closes
// the backend connection.
package gateway
