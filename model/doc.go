// Package model defines the provider-agnostic completion contract used by
// conversational turns and flows.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal: an instruction string plus the
//     active {role, content} sequence in, text fragments out
//   - Facilitate lightweight mocking for tests (MockModel, MockBackend)
//
// Providers (OpenAI-compatible endpoints, Anthropic) implement Model in
// sub-packages so higher layers (chat, flow) remain decoupled from vendor SDKs.
package model
