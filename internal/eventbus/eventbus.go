package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// TopicLifecycleState carries gateway state transitions.
const TopicLifecycleState = "lifecycle.state"

var (
	instance evbus.Bus
	once     sync.Once
)

// Get returns the process-wide event bus.
func Get() evbus.Bus {
	once.Do(func() {
		instance = evbus.New()
	})
	return instance
}

// Publish emits an event on the process bus.
func Publish(topic string, args ...interface{}) {
	Get().Publish(topic, args...)
}

// Subscribe registers a handler for a topic.
func Subscribe(topic string, fn interface{}) error {
	return Get().Subscribe(topic, fn)
}

// Unsubscribe removes a previously registered handler.
func Unsubscribe(topic string, fn interface{}) error {
	return Get().Unsubscribe(topic, fn)
}
