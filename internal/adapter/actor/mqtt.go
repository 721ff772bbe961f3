package actor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/config"
	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/mqtt"
	"github.com/berfenger/solarwatt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// BrokerFactory builds the broker connection. onLost is called when an established connection drops.
type BrokerFactory func(cfg *config.Config, onLost func(error)) mqtt.Broker

type MQTTActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	factory  BrokerFactory
	broker   mqtt.Broker
	topics   mqtt.Topics
	logger   *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	Topic string
	Error error
}

type messagePublished struct {
	ReplyTo *actor.PID
	Topic   string
	Error   error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

func PahoBrokerFactory(cfg *config.Config, onLost func(error)) mqtt.Broker {
	return mqtt.CreateMQTTClient(mqtt.OptsFromConfig(cfg), nil, func(_ pahomqtt.Client, err error) {
		onLost(err)
	})
}

func NewMQTTActor(cfg *config.Config, logger *zap.Logger) *MQTTActor {
	return newMQTTActor(cfg, PahoBrokerFactory, logger)
}

// NewTestMQTTActor publishes to an in-memory broker.
func NewTestMQTTActor(cfg *config.Config, broker *mqtt.TestBroker, logger *zap.Logger) *MQTTActor {
	return newMQTTActor(cfg, func(*config.Config, func(error)) mqtt.Broker { return broker }, logger)
}

func newMQTTActor(cfg *config.Config, factory BrokerFactory, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   cfg,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		factory:  factory,
		topics:   mqtt.NewTopics(cfg.MQTT),
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")
		root, self := ctx.ActorSystem().Root, ctx.Self()

		// create MQTT client
		state.broker = state.factory(state.config, func(err error) {
			root.Send(self, MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.broker.Connect(func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")
		root, self := ctx.ActorSystem().Root, ctx.Self()

		state.broker.Publish(state.topics.BridgeState(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, nil, 500*time.Millisecond)

		// subscribe to MQTT command topics
		state.broker.Subscribe(state.topics.Commands(), 1, func(topic string, payload []byte) {
			cmd, err := state.topics.ParseMQTTCommand(topic, payload)
			if err == nil && cmd != nil {
				root.Send(self, ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				root.Send(self, MQTTConnectionLost{Error: err})
			} else {
				root.Send(self, MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
			State:   "connecting",
		})
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		if ctx.Parent() != nil {
			ctx.Send(ctx.Parent(), msg)
		}
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishEntityStateRequest:
		state.logger.Debug("mqtt@default PublishEntityStateRequest", zap.String("item", msg.Entity.ItemName))
		if err := state.publishEntityState(ctx, msg.Entity); err != nil {
			state.logger.Error("mqtt@default PublishEntityStateRequest error", zap.Error(err))
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishEntityStateResponse{})
	case domain.PublishBridgeStateRequest:
		state.logger.Debug("mqtt@default PublishBridgeStateRequest", zap.Bool("online", msg.Online))
		state.broker.Publish(state.topics.BridgeState(), onlinePayload(msg.Online), 0, true, state.logPublishError(ctx, state.topics.BridgeState()), 500*time.Millisecond)
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery", zap.Int("sensors", len(msg.Sensors)), zap.Int("buttons", len(msg.Buttons)))
		err := state.PublishHomeAssistantDiscovery(ctx, msg.Sensors, msg.Buttons)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishDiscoveryResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@default could not publish a message", zap.String("topic", msg.Topic), zap.Error(msg.Error))
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, payload)
	root, self := ctx.ActorSystem().Root, ctx.Self()
	state.broker.Publish(topic, payload, 1, retain, func(err error) {
		root.Send(self, messagePublished{ReplyTo: replyTo, Topic: topic, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *MQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case messagePublished:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.String("topic", msg.Topic), zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ErrorResponse(msg.Error),
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.String("topic", msg.Topic), zap.Error(msg.Error))
		}
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// publishEntityState writes state, attributes and availability of one entity.
func (state *MQTTActor) publishEntityState(ctx actor.Context, entity domain.SensorEntity) error {
	id := domain.EntityId(entity.ItemName)

	attributes, err := json.Marshal(entity.ExtraAttributes)
	if err != nil {
		return err
	}

	stateTopic := state.topics.SensorState(id)
	attributesTopic := state.topics.SensorAttributes(id)
	availabilityTopic := state.topics.SensorAvailability(id)

	state.logger.Sugar().Debugf("mqtt@publish: sensor publish %s => %s", stateTopic, formatNativeValue(entity.NativeValue))
	state.broker.Publish(stateTopic, formatNativeValue(entity.NativeValue), 1, false, state.logPublishError(ctx, stateTopic), 5*time.Second)
	state.broker.Publish(attributesTopic, attributes, 1, false, state.logPublishError(ctx, attributesTopic), 5*time.Second)
	state.broker.Publish(availabilityTopic, onlinePayload(entity.Available), 1, true, state.logPublishError(ctx, availabilityTopic), 5*time.Second)
	return nil
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(ctx actor.Context, sensors []domain.GenericSensor, buttons []domain.GenericButton) error {
	for i := range sensors {
		msg := mqtt.GenericSensorToHADiscoveryMessage(state.topics, sensors[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := state.topics.HADiscoverySensorTopic(sensors[i])
		state.broker.Publish(topic, payload, 0, true, state.logPublishError(ctx, topic), 1*time.Second)
	}
	for i := range buttons {
		msg := mqtt.GenericButtonToHADiscoveryMessage(state.topics, buttons[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := state.topics.HADiscoveryButtonTopic(buttons[i])
		state.broker.Publish(topic, payload, 0, true, state.logPublishError(ctx, topic), 1*time.Second)
	}
	return nil
}

func (state *MQTTActor) logPublishError(ctx actor.Context, topic string) func(error) {
	root, self := ctx.ActorSystem().Root, ctx.Self()
	return func(err error) {
		if err != nil {
			root.Send(self, publishResult{Topic: topic, Error: err})
		}
	}
}

func (state *MQTTActor) stop() {
	if state.broker == nil {
		return
	}
	state.logger.Debug("mqtt: disconnect")
	state.broker.Publish(state.topics.BridgeState(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, nil, 500*time.Millisecond)
	state.broker.Disconnect(500 * time.Millisecond)
	state.broker = nil
}

func formatNativeValue(value *float64) string {
	if value == nil {
		return mqtt.MQTT_PAYLOAD_NONE
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}

func onlinePayload(online bool) string {
	if online {
		return mqtt.MQTT_PAYLOAD_ONLINE
	}
	return mqtt.MQTT_PAYLOAD_OFFLINE
}
