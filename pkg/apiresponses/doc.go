// Package apiresponses provides the HTTP response helpers shared by the
// webhook controller, the rate limiter and the server routes.
package apiresponses
