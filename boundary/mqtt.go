package boundary

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTClientID = "boundarymerge"
	defaultMQTTPrefix   = "boundarymerge"

	mqttConnectAttempts = 3
)

// ConnectMQTT connects to the broker named in cfg for run notifications.
// An empty broker disables MQTT and returns a nil client.
func ConnectMQTT(cfg MQTTConfig, logger *slog.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultMQTTClientID
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if err := connectWithRetry(client, mqttConnectAttempts, time.Second, logger); err != nil {
		return nil, err
	}
	return client, nil
}

// connectWithRetry connects with exponential backoff, giving up after the
// given number of attempts. A batch run must not hang on an absent broker.
func connectWithRetry(client mqtt.Client, attempts int, delay time.Duration, logger *slog.Logger) error {
	var lastErr error
	for attempt := range max(1, attempts) {
		if attempt > 0 {
			logger.Info("retrying mqtt connection", "delay", delay)
			time.Sleep(delay)
			delay *= 2
		}

		token := client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			lastErr = fmt.Errorf("mqtt connection timeout")
			continue
		}
		if err := token.Error(); err != nil {
			lastErr = fmt.Errorf("mqtt connect: %w", err)
			logger.Warn("mqtt connection failed", "error", err)
			continue
		}
		logger.Info("connected to mqtt broker")
		return nil
	}
	return lastErr
}
