// Package provider defines the reasoning-call contract consumed by the
// decision engine and its Anthropic and OpenAI implementations.
package provider
