package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
)

func TestPublisherSend(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "economy.ledger" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			return errors.New("wrong key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "event" {
			return errors.New("missing event header")
		}
		return nil
	})

	p := NewPublisher(producer)
	assert.NoError(t, p.Send("economy.ledger", "42", `{"amount":5}`, map[string]string{"event": "credits.earned"}))
	assert.NoError(t, p.Close())
}

func TestPublisherSendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisher(producer)
	err := p.Send("economy.trade", "t-1", "{}", nil)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.NoError(t, p.Close())
}
