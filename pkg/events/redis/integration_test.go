//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/Walrus94/DevCycle-sub001/internal/testutil/containers"
	"github.com/Walrus94/DevCycle-sub001/internal/testutil/fixtures"
	"github.com/Walrus94/DevCycle-sub001/pkg/events/redis"
	"github.com/Walrus94/DevCycle-sub001/pkg/lifecycle"
)

type PublisherSuite struct {
	suite.Suite
	ctx       context.Context
	container *containers.RedisResult
	pub       *redis.Publisher
	rdb       *goredis.Client
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartRedis(s.ctx)
	s.Require().NoError(err)
	s.container = result

	pub, err := redis.New(s.ctx, redis.Config{URI: result.ConnString, KeyPrefix: fixtures.KeyPrefix}, nil)
	s.Require().NoError(err)
	s.pub = pub

	opts, err := goredis.ParseURL(result.ConnString)
	s.Require().NoError(err)
	s.rdb = goredis.NewClient(opts)
}

func (s *PublisherSuite) TearDownSuite() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.pub != nil {
		_ = s.pub.Close()
	}
	if s.container != nil {
		_ = s.container.Container.Terminate(s.ctx)
	}
}

func (s *PublisherSuite) TestServiceEventsReachSubscribers() {
	sub := s.rdb.Subscribe(s.ctx, s.pub.Channel(lifecycle.EventPostTransition))
	defer sub.Close()
	_, err := sub.Receive(s.ctx)
	s.Require().NoError(err)

	svc := lifecycle.NewService(lifecycle.WithPublisher(s.pub))
	s.Require().True(svc.DeployAgent(s.ctx, fixtures.AgentID, nil))

	var got []redis.Envelope
	ch := sub.Channel()
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-ch:
			var env redis.Envelope
			s.Require().NoError(json.Unmarshal([]byte(msg.Payload), &env))
			got = append(got, env)
		case <-timeout:
			s.FailNow("timed out waiting for events", "received %d", len(got))
		}
	}

	s.Equal("deploying", got[0].Data["to_state"])
	s.Equal("deployed", got[1].Data["to_state"])
	s.Equal(fixtures.AgentID, got[1].AgentID)

	key := s.pub.StateKey(fixtures.AgentID)
	fields, err := s.rdb.HGetAll(s.ctx, key).Result()
	s.Require().NoError(err)
	s.Equal("deployed", fields["state"])
	s.Equal("offline", fields["status"])

	ttl, err := s.rdb.TTL(s.ctx, key).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *PublisherSuite) TestHealth() {
	s.NoError(s.pub.Health(s.ctx))
}
