// Package gmailapi implements the mailbox label store on the Gmail REST API.
package gmailapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"mailfred-go/internal/mailbox"
)

const me = "me"

// NewBreaker returns the circuit breaker guarding Gmail calls. Not-found,
// malformed and unauthorized answers are ordinary outcomes and do not count
// as failures: the breaker is shared by all owners and one revoked grant
// must not open it for everybody else.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, mailbox.ErrNotFound) ||
				errors.Is(err, mailbox.ErrMalformed) ||
				errors.Is(err, mailbox.ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

// Store is the mailbox of one Gmail user.
type Store struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
}

var _ mailbox.LabelStore = (*Store)(nil)

// New wraps an authenticated Gmail service.
func New(svc *gmail.Service, cb *gobreaker.CircuitBreaker) *Store {
	return &Store{svc: svc, cb: cb}
}

func (s *Store) execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		res, err := fn()
		if err != nil {
			return nil, translate(err)
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", mailbox.ErrUnavailable, err)
	}
	return res, err
}

// translate maps Gmail API errors onto the mailbox sentinel errors.
func translate(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", mailbox.ErrNotFound, apiErr.Message)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", mailbox.ErrMalformed, apiErr.Message)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", mailbox.ErrUnauthorized, apiErr.Message)
		}
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", mailbox.ErrUnauthorized, err)
	}
	return err
}

func (s *Store) ListLabels(ctx context.Context) ([]mailbox.Label, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.svc.Users.Labels.List(me).Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	resp := res.(*gmail.ListLabelsResponse)
	labels := make([]mailbox.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, mailbox.Label{ID: l.Id, Name: l.Name})
	}
	return labels, nil
}

// CreateLabel creates a label hidden from the label list but shown on
// messages.
func (s *Store) CreateLabel(ctx context.Context, name string) (mailbox.Label, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.svc.Users.Labels.Create(me, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelHide",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
	})
	if err != nil {
		return mailbox.Label{}, err
	}

	l := res.(*gmail.Label)
	return mailbox.Label{ID: l.Id, Name: l.Name}, nil
}

func (s *Store) GetMessage(ctx context.Context, ref string) (*mailbox.Message, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.svc.Users.Messages.Get(me, ref).
			Format("metadata").
			MetadataHeaders("Subject").
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}

	m := res.(*gmail.Message)
	msg := &mailbox.Message{
		Ref:      m.Id,
		ThreadID: m.ThreadId,
		LabelIDs: m.LabelIds,
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			if h.Name == "Subject" {
				msg.Subject = h.Value
			}
		}
	}
	return msg, nil
}

func (s *Store) GetThread(ctx context.Context, threadID string) ([]string, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.svc.Users.Threads.Get(me, threadID).Format("minimal").Context(ctx).Do()
	})
	if err != nil {
		return nil, err
	}

	thread := res.(*gmail.Thread)
	refs := make([]string, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		refs = append(refs, m.Id)
	}
	return refs, nil
}

func (s *Store) ModifyMessage(ctx context.Context, ref string, add, remove []string) error {
	_, err := s.execute(func() (interface{}, error) {
		return s.svc.Users.Messages.Modify(me, ref, &gmail.ModifyMessageRequest{
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
	})
	return err
}

func (s *Store) ListMessages(ctx context.Context, labelID string) ([]string, error) {
	var refs []string
	pageToken := ""
	for {
		res, err := s.execute(func() (interface{}, error) {
			call := s.svc.Users.Messages.List(me).LabelIds(labelID).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			return call.Do()
		})
		if err != nil {
			return nil, err
		}

		resp := res.(*gmail.ListMessagesResponse)
		for _, m := range resp.Messages {
			refs = append(refs, m.Id)
		}
		if resp.NextPageToken == "" {
			return refs, nil
		}
		pageToken = resp.NextPageToken
	}
}

// TokenSourcer provides the OAuth2 token source of an owner.
type TokenSourcer interface {
	TokenSource(ctx context.Context, owner string) (oauth2.TokenSource, error)
}

// Factory opens per-owner Gmail mailboxes sharing one circuit breaker.
type Factory struct {
	tokens TokenSourcer
	cb     *gobreaker.CircuitBreaker
	opts   []option.ClientOption
}

var _ mailbox.Factory = (*Factory)(nil)

// NewFactory creates a factory. Extra client options are appended after the
// owner's token source.
func NewFactory(tokens TokenSourcer, opts ...option.ClientOption) *Factory {
	return &Factory{tokens: tokens, cb: NewBreaker("gmail-api"), opts: opts}
}

func (f *Factory) ForOwner(ctx context.Context, owner string) (mailbox.LabelStore, error) {
	ts, err := f.tokens.TokenSource(ctx, owner)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, f.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return New(svc, f.cb), nil
}
