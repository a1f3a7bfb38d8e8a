// Package api exposes the liveness protocol over REST. Every mutating route
// acts as the authenticated caller; capability checks happen inside the
// protocol components, and their error categories map onto HTTP statuses.
package api
