package mqtt

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mhw-backend/internal/models"
)

// Subscriber receives raw temperatures from remote sensor nodes and writes them to a channel
type Subscriber struct {
	client mqtt.Client

	// Output channel (written by subscriber, read by the sensor cache)
	SampleChan chan *models.Sample

	// Topic pattern, e.g. "sensor/+/temperature"
	temperatureTopic string
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	TemperatureTopic string
}

// NewSubscriber creates a new MQTT subscriber with its output channel
func NewSubscriber(client mqtt.Client, config SubscriberConfig, sampleChan chan *models.Sample) *Subscriber {
	return &Subscriber{
		client:           client,
		SampleChan:       sampleChan,
		temperatureTopic: config.TemperatureTopic,
	}
}

// SubscribeAll subscribes to the configured sensor topics
func (s *Subscriber) SubscribeAll() error {
	if s.temperatureTopic == "" {
		return fmt.Errorf("no temperature topic configured")
	}

	token := s.client.Subscribe(s.temperatureTopic, 1, s.handleTemperature)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to temperature topic: %w", token.Error())
	}

	log.Printf("Subscribed to temperature topic: %s", s.temperatureTopic)
	return nil
}

// handleTemperature parses a raw temperature message and forwards it
func (s *Subscriber) handleTemperature(client mqtt.Client, msg mqtt.Message) {
	sample, err := parseSample(msg.Topic(), msg.Payload(), time.Now())
	if err != nil {
		log.Printf("Error parsing temperature message: %v", err)
		return
	}

	// Write to channel (non-blocking with timeout)
	select {
	case s.SampleChan <- sample:
	case <-time.After(1 * time.Second):
		log.Printf("Warning: Sample channel full, dropping message from %s", sample.ChannelID)
	}
}

// parseSample builds a sample from a sensor/{channel_id}/temperature message.
// Timestamps are assigned server-side.
func parseSample(topic string, payload []byte, now time.Time) (*models.Sample, error) {
	channelID := extractDeviceID(topic)
	if channelID == "" {
		return nil, fmt.Errorf("could not extract channel id from topic %s", topic)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid temperature from %s: %w", channelID, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("non-finite temperature from %s: %v", channelID, value)
	}

	return &models.Sample{ChannelID: channelID, Value: value, Timestamp: now}, nil
}

// extractDeviceID extracts the device id from an MQTT topic
// Example: "sensor/28-3c01f0954653/temperature" -> "28-3c01f0954653"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
