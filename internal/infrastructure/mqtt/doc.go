// Package mqtt provides the MQTT connection shared by depot-core instances.
//
// Instances use the broker for two things: fanning out permission cache
// invalidations so a role change applies everywhere at once, and publishing
// auth events for downstream consumers. Both are best effort; an instance
// without a broker still enforces permissions, bounded by the cache TTL.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AuthInvalidate(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
