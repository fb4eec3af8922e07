package boundary

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher announces finished runs over MQTT so downstream consumers can
// pick up the new catalog.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	timeout       time.Duration
}

// NewPublisher creates a run publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultMQTTPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        true,
		timeout:       5 * time.Second,
	}
}

// NewPublisherFromConfig creates a publisher with the prefix, QoS and retain
// flag from cfg.
func NewPublisherFromConfig(client mqtt.Client, cfg MQTTConfig) *Publisher {
	p := NewPublisher(client, cfg.PublishPrefix)
	p.SetQoS(cfg.QoS)
	p.SetRetain(cfg.Retain)
	return p
}

// RunSummary is the payload published on <prefix>/summary.
type RunSummary struct {
	RunID          string              `json:"run_id"`
	FinishedAt     int64               `json:"finished_at"`
	CatalogSize    int                 `json:"catalog_size"`
	MergedLayers   int                 `json:"merged_layers"`
	NearDuplicates int                 `json:"near_duplicates"`
	Rejected       int                 `json:"rejected"`
	TierCounts     map[QualityTier]int `json:"tier_counts"`
	OutputDir      string              `json:"output_dir,omitempty"`
}

// Enabled reports whether a connected client is attached.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil && p.client.IsConnected()
}

// PublishSummary publishes the retained run summary.
func (p *Publisher) PublishSummary(stats RunStats, outputDir string) error {
	summary := RunSummary{
		RunID:          stats.RunID,
		FinishedAt:     time.Now().Unix(),
		CatalogSize:    stats.CatalogSize,
		MergedLayers:   stats.MergedLayers,
		NearDuplicates: stats.NearDuplicates,
		Rejected:       stats.Rejected,
		TierCounts:     stats.TierCounts,
		OutputDir:      outputDir,
	}
	return p.publish(p.publishPrefix+"/summary", p.retain, summary)
}

// PublishReviewItems publishes each near-duplicate pair to <prefix>/review.
// Items are not retained; the summary carries the count.
func (p *Publisher) PublishReviewItems(runID string, items []ReviewItem) error {
	for _, item := range items {
		message := struct {
			RunID string `json:"run_id"`
			ReviewItem
		}{runID, item}
		if err := p.publish(p.publishPrefix+"/review", false, message); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	if !p.Enabled() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publishing to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// Disconnect closes the underlying connection.
func (p *Publisher) Disconnect() {
	if p.Enabled() {
		p.client.Disconnect(250)
	}
}
