// Package connector implements the ingestion side of the orchestrator: each
// concrete connector pulls data from one external transport, wraps it as a
// Message, and hands it to the scheduler's on-message callback.
//
// A connector's transport body is intentionally thin: its job is routing and
// framing, not protocol completeness. Each connector runs its own goroutine
// and retries its underlying transport from an outer loop on transport
// error, matching the orchestrator/connectors/*.py originals' `while True`
// reconnect loops.
package connector

import (
	"context"
	"strings"

	"github.com/edgeinfer/orchestrator/internal/message"
)

// OnMessage is called once per inbound message a connector produces. It must
// not block for long; the scheduler's Enqueue is non-blocking by design.
type OnMessage func(msg *message.Message)

// Connector pulls data from one external source and feeds it to an
// OnMessage callback until Stop is called.
type Connector interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TopicRoute maps one subscribed topic filter to a sensor id, payload
// encoding, and destination pipeline. Ported from
// orchestrator/connectors/mqtt.py's per-route config plus its topic_matches
// wildcard semantics ('+' matches one level, '#' matches the remaining
// levels and must be the last segment).
type TopicRoute struct {
	Filter   string
	Pipeline string
	SensorID string
	Encoding message.Encoding
}

// TopicMatches reports whether topic satisfies pattern's MQTT wildcard
// syntax.
func TopicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, p := range patternParts {
		if p == "#" {
			if i != len(patternParts)-1 {
				return false
			}
			patternParts = patternParts[:i]
			if len(topicParts) > i {
				topicParts = topicParts[:i]
			}
			break
		}
	}

	if len(patternParts) != len(topicParts) {
		return false
	}
	for i, p := range patternParts {
		if p == "+" {
			continue
		}
		if p != topicParts[i] {
			return false
		}
	}
	return true
}

// MatchRoute returns the first route whose filter matches topic, or false if
// none does.
func MatchRoute(routes []TopicRoute, topic string) (TopicRoute, bool) {
	for _, r := range routes {
		if TopicMatches(r.Filter, topic) {
			return r, true
		}
	}
	return TopicRoute{}, false
}
