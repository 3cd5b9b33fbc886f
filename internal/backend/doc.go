// Package backend is a development stand-in for the authentication backend.
//
// It implements auth_service.AuthService/VerifyToken by checking HS256 JWTs
// against a shared secret. It never issues tokens; whatever system hands
// out the jwt cookie must sign them with the same secret.
//
//	checker, _ := backend.NewJWTChecker(secret)
//	server := backend.NewServer(backend.NewTokenService(checker, logger), logger)
//	server.Serve(listener)
package backend
