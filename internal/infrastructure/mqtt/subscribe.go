package mqtt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// defaultSubscribeTimeout bounds the wait for a SUBACK.
const defaultSubscribeTimeout = 5 * time.Second

var errSubackTimeout = errors.New("no acknowledgement")

// Subscribe registers handler for topic, which must sit under the depot/
// namespace and may contain + and # wildcards. The broker is shared with
// other systems, so filters outside the namespace are refused. The
// subscription is remembered and replayed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateFilter(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := awaitSuback(c.client.Subscribe(topic, qos, c.wrapHandler(handler))); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Subscriptions returns the remembered topic filters in sorted order.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// restoreSubscriptions replays every remembered subscription after a
// reconnect. It runs inside paho's connect callback, so acknowledgements are
// awaited on separate goroutines. A failure is logged and the next reconnect
// tries again; until then peer invalidations on that topic are missed and the
// cache TTL bounds the staleness.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if err := awaitSuback(token); err != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Warn("MQTT resubscribe failed", "topic", topic, "error", err)
				}
			}
		}(sub.topic)
	}
}

func awaitSuback(token pahomqtt.Token) error {
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w after %v", errSubackTimeout, defaultSubscribeTimeout)
	}
	return token.Error()
}

// validateFilter checks a subscription filter: the usual topic and QoS
// rules, the depot/ namespace, and # only as the final level.
func validateFilter(topic string, qos byte) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if !strings.HasPrefix(topic, TopicPrefix+"/") {
		return fmt.Errorf("%w: %q is outside %s/", ErrInvalidTopic, topic, TopicPrefix)
	}
	if i := strings.Index(topic, "#"); i >= 0 && i != len(topic)-1 {
		return fmt.Errorf("%w: # must be the last level in %q", ErrInvalidTopic, topic)
	}
	return nil
}
