package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mhw-backend/internal/models"
)

const publishTimeout = 5 * time.Second

// Publisher sends heater commands, alerts and tick telemetry
type Publisher struct {
	client mqtt.Client

	// Input channel (read by publisher, written by the experiment service)
	TelemetryChan chan *models.TickRecord

	// Topic patterns
	heaterTopic    string // e.g., "heater/{device_id}/set"
	alertTopic     string // e.g., "mhw/alerts"
	telemetryTopic string // e.g., "mhw/{device_id}/tick", filled with the run id
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	HeaterTopic    string
	AlertTopic     string
	TelemetryTopic string
	ChannelSize    int
}

// alertPayload is the JSON body published on the alert topic
type alertPayload struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(client mqtt.Client, config PublisherConfig) *Publisher {
	size := config.ChannelSize
	if size <= 0 {
		size = 16
	}
	return &Publisher{
		client:         client,
		TelemetryChan:  make(chan *models.TickRecord, size),
		heaterTopic:    config.HeaterTopic,
		alertTopic:     config.AlertTopic,
		telemetryTopic: config.TelemetryTopic,
	}
}

// Start publishes tick records from the telemetry channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	log.Println("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT Publisher: Context cancelled, shutting down...")
			return

		case rec, ok := <-p.TelemetryChan:
			if !ok {
				log.Println("MQTT Publisher: Telemetry channel closed, shutting down...")
				return
			}

			if err := p.publishJSON(formatTopic(p.telemetryTopic, rec.RunID), false, rec); err != nil {
				log.Printf("Error publishing tick record: %v", err)
			}
		}
	}
}

// Set publishes a retained heater command so a reconnecting relay node picks up the latest state
func (p *Publisher) Set(ctx context.Context, actuatorID string, on bool) error {
	payload := "off"
	if on {
		payload = "on"
	}

	topic := formatTopic(p.heaterTopic, actuatorID)
	if err := p.publish(topic, true, []byte(payload)); err != nil {
		return fmt.Errorf("failed to publish heater command: %w", err)
	}

	log.Printf("Published heater command %s to topic: %s", payload, topic)
	return nil
}

// Notify publishes an alert
func (p *Publisher) Notify(ctx context.Context, subject, body string) error {
	if p.alertTopic == "" {
		return nil
	}
	return p.publishJSON(p.alertTopic, false, alertPayload{Subject: subject, Body: body, Timestamp: time.Now()})
}

// Append queues a tick record for publishing; a full queue drops the record
func (p *Publisher) Append(ctx context.Context, rec *models.TickRecord) error {
	if p.telemetryTopic == "" {
		return nil
	}

	select {
	case p.TelemetryChan <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(1 * time.Second):
		log.Printf("Warning: Telemetry channel full, dropping tick record %s", rec.Timestamp.Format(time.RFC3339))
		return nil
	}
}

// Close is a no-op; the connection belongs to Client
func (p *Publisher) Close() error {
	return nil
}

// publishJSON marshals v and publishes it
func (p *Publisher) publishJSON(topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return p.publish(topic, retained, payload)
}

// publish sends a payload with QoS 1 and waits for the broker
func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// formatTopic replaces {device_id} placeholder with actual device ID
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
