package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/model"
	coremon "github.com/kilianp07/depotsched/core/monitoring"
	"github.com/kilianp07/depotsched/infra/logger"
)

// ArrivalHandler is invoked for every arrival reported by a vehicle.
type ArrivalHandler func(ctx context.Context, v model.Vehicle) error

// StatusMessage is published, retained, on <prefix>/vehicle/<id>/status.
type StatusMessage struct {
	MessageID string              `json:"message_id"`
	VehicleID string              `json:"vehicle_id"`
	Status    model.VehicleStatus `json:"status"`
	Timestamp int64               `json:"timestamp"`
}

// ArrivalMessage is received on <prefix>/vehicle/<id>/arrival.
type ArrivalMessage struct {
	VehicleID string  `json:"vehicle_id"`
	DepotID   string  `json:"depot_id"`
	SoC       float64 `json:"soc"`
	IsMember  bool    `json:"is_member"`
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// PahoClient publishes vehicle status and scheduling events over MQTT and
// listens for vehicle arrivals.
type PahoClient struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger

	mu        sync.RWMutex
	onArrival ArrivalHandler
	backoff   time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewPahoClient connects to the MQTT broker and subscribes to arrival reports.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_client")
	pc := &PahoClient{
		cfg:     cfg,
		logger:  log,
		backoff: time.Duration(cfg.BackoffMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(pc.ArrivalTopic(), cfg.qos("arrival"), pc.onArrivalMessage); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// StatusTopic is where a vehicle's status is published.
func (p *PahoClient) StatusTopic(vehicleID string) string {
	return fmt.Sprintf("%s/vehicle/%s/status", p.cfg.TopicPrefix, vehicleID)
}

// ArrivalTopic is the wildcard subscription for arrival reports.
func (p *PahoClient) ArrivalTopic() string {
	return p.cfg.TopicPrefix + "/vehicle/+/arrival"
}

// EventTopic maps a bus event to its topic; ok is false for unpublished events.
func (p *PahoClient) EventTopic(ev any) (string, bool) {
	var family string
	switch ev.(type) {
	case events.AllocationEvent:
		family = "allocation"
	case events.StallEvent:
		family = "stall"
	case events.JobEvent:
		family = "job"
	case events.PipelineEvent:
		family = "pipeline"
	case events.PipelineArchived:
		family = "deployed"
	default:
		return "", false
	}
	return fmt.Sprintf("%s/events/%s", p.cfg.TopicPrefix, family), true
}

// OnArrival registers the handler for arrival reports.
func (p *PahoClient) OnArrival(h ArrivalHandler) {
	p.mu.Lock()
	p.onArrival = h
	p.mu.Unlock()
}

func (p *PahoClient) onArrivalMessage(_ paho.Client, msg paho.Message) {
	var m ArrivalMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		p.logger.Errorf("failed to decode arrival: %v", err)
		return
	}
	if m.VehicleID == "" {
		m.VehicleID = vehicleFromTopic(msg.Topic())
	}
	p.mu.RLock()
	h := p.onArrival
	p.mu.RUnlock()
	if h == nil {
		p.logger.Warnf("arrival for %s dropped: no handler", m.VehicleID)
		return
	}
	v := model.Vehicle{ID: m.VehicleID, DepotID: m.DepotID, SoC: m.SoC, IsMember: m.IsMember, Status: model.VehicleEnRoute}
	if err := v.Validate(); err != nil {
		p.logger.Errorf("invalid arrival: %v", err)
		return
	}
	if err := h(context.Background(), v); err != nil {
		p.logger.Errorf("arrival %s: %v", v.ID, err)
		coremon.CaptureException(err, map[string]string{"vehicle_id": v.ID, "module": "mqtt"})
	}
}

// vehicleFromTopic extracts <id> from <prefix>/vehicle/<id>/arrival.
func vehicleFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "vehicle" {
			return parts[i+1]
		}
	}
	return ""
}

// NotifyVehicleStatus publishes the retained status of a vehicle.
func (p *PahoClient) NotifyVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) error {
	payload, err := json.Marshal(StatusMessage{
		MessageID: uuid.NewString(),
		VehicleID: vehicleID,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := p.publish(ctx, p.StatusTopic(vehicleID), p.cfg.qos("status"), true, payload); err != nil {
		coremon.CaptureException(err, map[string]string{"vehicle_id": vehicleID, "module": "mqtt"})
		return err
	}
	return nil
}

// PublishEvent publishes a scheduling event on its family topic.
// Events without a topic are ignored.
func (p *PahoClient) PublishEvent(ctx context.Context, ev any) error {
	topic, ok := p.EventTopic(ev)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.publish(ctx, topic, p.cfg.qos("event"), false, payload)
}

// publish retries with exponential backoff until ctx is done.
func (p *PahoClient) publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published to %s", topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == p.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
