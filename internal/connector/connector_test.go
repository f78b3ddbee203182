package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgeinfer/orchestrator/internal/message"
)

func TestTopicMatchesExact(t *testing.T) {
	assert.True(t, TopicMatches("sensors/temp", "sensors/temp"))
	assert.False(t, TopicMatches("sensors/temp", "sensors/humidity"))
}

func TestTopicMatchesSingleLevelWildcard(t *testing.T) {
	assert.True(t, TopicMatches("sensors/+/temp", "sensors/room1/temp"))
	assert.False(t, TopicMatches("sensors/+/temp", "sensors/room1/sub/temp"))
}

func TestTopicMatchesMultiLevelWildcard(t *testing.T) {
	assert.True(t, TopicMatches("sensors/#", "sensors/room1/temp"))
	assert.True(t, TopicMatches("sensors/#", "sensors"))
	assert.False(t, TopicMatches("sensors/#/extra", "sensors/room1/extra"))
}

func TestMatchRouteReturnsFirstMatch(t *testing.T) {
	routes := []TopicRoute{
		{Filter: "sensors/+/temp", Pipeline: "env-pipeline", SensorID: "", Encoding: message.EncodingJSON},
		{Filter: "cameras/#", Pipeline: "vision-pipeline", Encoding: message.EncodingJPEG},
	}

	route, ok := MatchRoute(routes, "sensors/room1/temp")
	assert.True(t, ok)
	assert.Equal(t, "env-pipeline", route.Pipeline)

	route, ok = MatchRoute(routes, "cameras/front/frame")
	assert.True(t, ok)
	assert.Equal(t, "vision-pipeline", route.Pipeline)

	_, ok = MatchRoute(routes, "unrelated/topic")
	assert.False(t, ok)
}

func TestMQTTConnectorHandleMessageRoutesAndDrops(t *testing.T) {
	var received []*message.Message
	c := NewMQTTConnector("mqtt-1", MQTTConfig{
		Routes: []TopicRoute{
			{Filter: "sensors/+/temp", Pipeline: "env-pipeline", Encoding: message.EncodingJSON},
		},
	}, func(m *message.Message) {
		received = append(received, m)
	})

	c.handleMessage(nil, fakeMQTTMessage{topic: "sensors/room1/temp", payload: []byte(`{"t":21.5}`)})
	c.handleMessage(nil, fakeMQTTMessage{topic: "unrelated/topic", payload: []byte(`ignored`)})

	assert.Len(t, received, 1)
	assert.Equal(t, "sensors/room1/temp", received[0].SensorID)
	assert.Equal(t, "env-pipeline", received[0].PipelineHint)
	assert.Equal(t, message.EncodingJSON, received[0].Encoding)
}

type fakeMQTTMessage struct {
	topic   string
	payload []byte
}

func (f fakeMQTTMessage) Duplicate() bool   { return false }
func (f fakeMQTTMessage) Qos() byte         { return 0 }
func (f fakeMQTTMessage) Retained() bool    { return false }
func (f fakeMQTTMessage) Topic() string     { return f.topic }
func (f fakeMQTTMessage) MessageID() uint16 { return 0 }
func (f fakeMQTTMessage) Payload() []byte   { return f.payload }
func (f fakeMQTTMessage) Ack()              {}
