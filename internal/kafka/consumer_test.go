package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/cleanquest/progression/internal/config"
	"github.com/cleanquest/progression/internal/domain"
)

type fakeAwarder struct {
	mu         sync.Mutex
	known      map[string]bool
	calls      []string
	failures   int
	registered []string
}

func newFakeAwarder(known ...string) *fakeAwarder {
	f := &fakeAwarder{known: make(map[string]bool)}
	for _, id := range known {
		f.known[id] = true
	}
	return f
}

func (f *fakeAwarder) RegisterUser(_ context.Context, userID, _ string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[userID] = true
	f.registered = append(f.registered, userID)
	return &domain.User{ID: userID}, nil
}

func (f *fakeAwarder) award(kind, userID string) (*domain.AwardResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[userID] {
		return nil, fmt.Errorf("loading user: %w", domain.ErrUserNotFound)
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("store unavailable")
	}
	f.calls = append(f.calls, kind+":"+userID)
	return &domain.AwardResult{}, nil
}

func (f *fakeAwarder) AwardReportPoints(_ context.Context, userID string, _ domain.ReportContext) (*domain.AwardResult, error) {
	return f.award("report", userID)
}

func (f *fakeAwarder) AwardCleanupPoints(_ context.Context, userID string, _ domain.CleanupContext) (*domain.AwardResult, error) {
	return f.award("cleanup", userID)
}

func TestActionEventValidate(t *testing.T) {
	tests := []struct {
		name string
		ev   ActionEvent
		want error
	}{
		{"register", ActionEvent{Type: EventUserRegistered, UserID: "u1"}, nil},
		{"report", ActionEvent{Type: EventReportSubmitted, UserID: "u1", Report: &domain.ReportContext{}}, nil},
		{"missing user", ActionEvent{Type: EventUserRegistered}, domain.ErrInvalidRequest},
		{"report without body", ActionEvent{Type: EventReportSubmitted, UserID: "u1"}, domain.ErrInvalidRequest},
		{"cleanup without body", ActionEvent{Type: EventCleanupVerified, UserID: "u1"}, domain.ErrInvalidRequest},
		{"unknown type", ActionEvent{Type: "comment_posted", UserID: "u1"}, domain.ErrInvalidAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDispatchRegistersUnknownUserWithUsername(t *testing.T) {
	a := newFakeAwarder()
	ctx := context.Background()

	ev := ActionEvent{Type: EventCleanupVerified, UserID: "u9", Username: "nina", Cleanup: &domain.CleanupContext{Verified: true}}
	if err := Dispatch(ctx, a, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(a.registered) != 1 || len(a.calls) != 1 || a.calls[0] != "cleanup:u9" {
		t.Fatalf("expected register then award, got registered=%v calls=%v", a.registered, a.calls)
	}

	anon := ActionEvent{Type: EventReportSubmitted, UserID: "u10", Report: &domain.ReportContext{}}
	if err := Dispatch(ctx, a, anon); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound without username, got %v", err)
	}
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "cleanup-actions" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 3 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func encode(t *testing.T, ev ActionEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestConsumeClaimAppliesEventsAndMarksOffsets(t *testing.T) {
	a := newFakeAwarder("u1")
	a.failures = 1

	cfg := &config.KafkaConfig{BatchSize: 10, BatchTimeout: time.Hour, RetryAttempts: 3, RetryDelay: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &Consumer{
		config:  cfg,
		awarder: a,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		ctx:     ctx,
		cancel:  cancel,
	}
	h := &consumerGroupHandler{consumer: c, ready: make(chan bool)}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 0, Value: encode(t, ActionEvent{Type: EventReportSubmitted, UserID: "u1", Report: &domain.ReportContext{Size: "small"}})}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: encode(t, ActionEvent{Type: "comment_posted", UserID: "u1"})}
	claim.messages <- &sarama.ConsumerMessage{Offset: 3, Value: encode(t, ActionEvent{Type: EventCleanupVerified, UserID: "u1", Cleanup: &domain.CleanupContext{Verified: true}})}
	close(claim.messages)

	session := &fakeSession{ctx: ctx}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(a.calls) != 2 || a.calls[0] != "report:u1" || a.calls[1] != "cleanup:u1" {
		t.Fatalf("expected report then cleanup after one retry, got %v", a.calls)
	}
	if len(session.marked) != 1 || session.marked[0] != 3 {
		t.Fatalf("expected offset 3 marked once after the batch, got %v", session.marked)
	}
}
