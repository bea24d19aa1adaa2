package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/permitapi/internal/core/domain"
)

// LogPublisher is the default sink when no webhook is configured: events
// are only written to the application log.
type LogPublisher struct {
	log *logrus.Logger
}

func NewLogPublisher(log *logrus.Logger) *LogPublisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.log.WithFields(logrus.Fields{
		"topic":         topic,
		"event_id":      event.EventID,
		"event_type":    event.EventType,
		"permit_id":     event.PermitID,
		"permit_number": event.PermitNumber,
	}).Info("outbox publish")
	return nil
}
