//go:build integration

package integration_test

import (
	"encoding/json"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

const (
	testStream = "CRM_EVENTS"
	testPrefix = "crm"
)

// NotifierSuite publishes domain events through a real JetStream server.
type NotifierSuite struct {
	BaseIntegrationSuite
	client *jetstream.Client
}

func (s *NotifierSuite) SetupSuite() {
	s.BaseIntegrationSuite.SetupSuite()

	var err error
	s.client, err = jetstream.NewClient(s.NATSURL)
	s.Require().NoError(err)
	s.Require().NoError(s.client.SetupStream(s.Ctx, jetstream.DomainStreamConfig(testStream, testPrefix)))
}

func (s *NotifierSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	s.BaseIntegrationSuite.TearDownSuite()
}

func (s *NotifierSuite) TestSetupStreamIsIdempotent() {
	s.NoError(s.client.SetupStream(s.Ctx, jetstream.DomainStreamConfig(testStream, testPrefix)))
}

func (s *NotifierSuite) TestDomainEventReachesStream() {
	nc, err := natsgo.Connect(s.NATSURL)
	s.Require().NoError(err)
	defer nc.Close()
	js, err := nc.JetStream()
	s.Require().NoError(err)

	subject := testPrefix + "." + s.CompanyID + "." + usecase.TopicOpportunityOpened
	sub, err := js.SubscribeSync(subject, natsgo.DeliverNew())
	s.Require().NoError(err)
	defer sub.Unsubscribe()

	notifier, err := usecase.NewJetStreamNotifier(
		config.WorkerPoolConfig{PoolSize: 2, QueueSize: 10, ExpiryTime: time.Minute},
		s.client, testPrefix, logger.Log,
	)
	s.Require().NoError(err)
	notifier.Notify(s.TenantCtx(), usecase.TopicOpportunityOpened, map[string]string{"id": "opp-1"})

	msg, err := sub.NextMsg(10 * time.Second)
	s.Require().NoError(err)
	notifier.Stop()

	var event usecase.DomainEvent
	s.Require().NoError(json.Unmarshal(msg.Data, &event))
	s.Equal(usecase.TopicOpportunityOpened, event.Topic)
	s.Equal(s.CompanyID, event.CompanyID)
	s.Equal(event.ID, msg.Header.Get(natsgo.MsgIdHdr))
}
