// README: NATS connection with reconnect handlers feeding the connected gauge.
package infra

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type ConnState interface {
	NATSSetConnected(connected bool)
}

func NewNATS(url string, state ConnState, log *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("vigil"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if state != nil {
				state.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if state != nil {
				state.NATSSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if state != nil {
				state.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if state != nil {
		state.NATSSetConnected(true)
	}
	return nc, nil
}
