// Package server exposes a flowmesh.App over HTTP using echo: flows with
// their graph edits and runs, chats, agents, tool listing, the client
// configuration endpoint and Prometheus metrics. MockBackend serves the
// scripted model as an OpenAI-compatible completion endpoint.
package server
