// Package action defines the side-effect request agents emit and dispatchers
// consume.
package action

// Action is the (dispatcher, target, payload, metadata) tuple an agent returns
// from handling a message. Target is optional routing detail within the
// dispatcher (an MQTT topic, a webhook URL suffix); Payload and Metadata are
// free-form key/value data the concrete dispatcher interprets.
type Action struct {
	Dispatcher string
	Target     string
	Payload    map[string]any
	Metadata   map[string]any
}
