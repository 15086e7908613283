package testutil

import (
	"context"
	"sync"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
	"github.com/marketloop/funneld/pkg/protocol"
)

// FakeSubscriberService is an in-memory contact store keyed by email.
type FakeSubscriberService struct {
	mu          sync.Mutex
	subscribers map[string]*models.Subscriber
}

func NewFakeSubscriberService(subscribers ...*models.Subscriber) *FakeSubscriberService {
	service := &FakeSubscriberService{subscribers: make(map[string]*models.Subscriber)}
	for _, subscriber := range subscribers {
		service.subscribers[subscriber.Email] = subscriber
	}

	return service
}

// Add registers a subscriber after construction; tests use it to model a
// contact store that becomes reachable later.
func (s *FakeSubscriberService) Add(subscriber *models.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[subscriber.Email] = subscriber
}

func (s *FakeSubscriberService) FindByEmail(_ context.Context, email string) (*models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[email]
	if !ok {
		return nil, persistence.ErrSubscriberNotFound
	}

	return subscriber, nil
}

func (s *FakeSubscriberService) FindByID(_ context.Context, id string) (*models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subscriber := range s.subscribers {
		if subscriber.ID == id {
			return subscriber, nil
		}
	}

	return nil, persistence.ErrSubscriberNotFound
}

// FakeTagService records tag mutations against the backing subscribers.
type FakeTagService struct {
	mu          sync.Mutex
	subscribers *FakeSubscriberService

	// Err, when set, is returned by every call; tests use it to exercise
	// failure classification.
	Err error
}

func NewFakeTagService(subscribers *FakeSubscriberService) *FakeTagService {
	return &FakeTagService{subscribers: subscribers}
}

func (s *FakeTagService) AddTag(ctx context.Context, subscriberID, tag string) error {
	if s.Err != nil {
		return s.Err
	}

	subscriber, err := s.subscribers.FindByID(ctx, subscriberID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !subscriber.HasTag(tag) {
		subscriber.Tags = append(subscriber.Tags, tag)
	}

	return nil
}

func (s *FakeTagService) RemoveTag(ctx context.Context, subscriberID, tag string) error {
	if s.Err != nil {
		return s.Err
	}

	subscriber, err := s.subscribers.FindByID(ctx, subscriberID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tags := subscriber.Tags[:0]

	for _, t := range subscriber.Tags {
		if t != tag {
			tags = append(tags, t)
		}
	}

	subscriber.Tags = tags

	return nil
}

// FakeMessageService records dispatched message IDs per subscriber.
type FakeMessageService struct {
	mu   sync.Mutex
	Sent map[string][]string

	Err error
}

func NewFakeMessageService() *FakeMessageService {
	return &FakeMessageService{Sent: make(map[string][]string)}
}

func (s *FakeMessageService) Send(_ context.Context, subscriberID, messageID string) error {
	if s.Err != nil {
		return s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Sent[subscriberID] = append(s.Sent[subscriberID], messageID)

	return nil
}

var (
	_ protocol.SubscriberService = (*FakeSubscriberService)(nil)
	_ protocol.TagService        = (*FakeTagService)(nil)
	_ protocol.MessageService    = (*FakeMessageService)(nil)
)
