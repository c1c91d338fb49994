package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Payloads of the retained controller status topic
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Client owns the broker connection.
// Subscriptions are registered as connect hooks so they survive reconnects.
type Client struct {
	client mqtt.Client
	config ClientConfig

	mu       sync.Mutex
	hooks    []func()
	connects int
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// StatusTopic carries a retained "online"/"offline"; "offline" is also the will
	StatusTopic string
}

// NewClient connects to the broker
func NewClient(config ClientConfig) (*Client, error) {
	c := &Client{config: config}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if config.StatusTopic != "" {
		opts.SetWill(config.StatusTopic, statusOffline, 1, true)
	}

	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	log.Println("MQTT Client: Connected to broker:", config.Broker)
	return c, nil
}

// OnReconnect registers fn to run every time the connection is re-established
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// GetNativeClient returns the underlying paho MQTT client
func (c *Client) GetNativeClient() mqtt.Client {
	return c.client
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Reconnects returns how often the connection has been re-established
func (c *Client) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connects == 0 {
		return 0
	}
	return c.connects - 1
}

// Close marks the controller offline and disconnects
func (c *Client) Close() {
	if c.config.StatusTopic != "" {
		token := c.client.Publish(c.config.StatusTopic, 1, true, statusOffline)
		token.WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
	log.Println("MQTT Client: Disconnected")
}

func (c *Client) onConnect(client mqtt.Client) {
	c.mu.Lock()
	c.connects++
	var hooks []func()
	if c.connects > 1 {
		hooks = append(hooks, c.hooks...)
	}
	c.mu.Unlock()

	log.Println("MQTT: Connection established")
	if c.config.StatusTopic != "" {
		client.Publish(c.config.StatusTopic, 1, true, statusOnline)
	}

	// Runs on paho's callback goroutine; hooks must not block on the connection
	for _, fn := range hooks {
		go fn()
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT: Connection lost: %v", err)
}
