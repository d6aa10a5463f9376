// Package domain defines the core types and interfaces of the market stream.
//
// Concept-oriented files (topic.go, market.go, news.go, scope.go, etc.) hold
// shared types and the collaborator interfaces the app layer depends on.
// No implementation code, just contracts.
package domain
