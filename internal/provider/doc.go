// Package provider defines the neutral request and result shapes shared by
// all AI service adapters, plus the capability interfaces each adapter
// implements. It normalizes provider-specific request/response lifecycles so
// the gateway can treat OpenAI, Azure and local backends uniformly.
package provider
