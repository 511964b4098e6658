// Package safety implements the navigation safety lists: the origin-pair
// pattern language, the compiled allow/block lists, and the manager that
// parses list payloads with per-entry fault tolerance. It also defines the
// shared types and interfaces the refresh pipeline is built from.
package safety
