// Package mailboxtest provides an in-memory mailbox for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"mailfred-go/internal/mailbox"
)

// Op names a LabelStore operation for failure injection.
type Op string

const (
	OpListLabels   Op = "list-labels"
	OpCreateLabel  Op = "create-label"
	OpGetMessage   Op = "get-message"
	OpGetThread    Op = "get-thread"
	OpModify       Op = "modify"
	OpListMessages Op = "list-messages"
)

type failure struct {
	err   error
	panic bool
}

type message struct {
	threadID string
	labels   map[string]struct{}
}

// ModifyCall records one ModifyMessage request.
type ModifyCall struct {
	Ref    string
	Add    []string
	Remove []string
}

// Store is an in-memory mailbox.LabelStore with set semantics for labels.
type Store struct {
	mu        sync.Mutex
	labels    []mailbox.Label
	messages  map[string]*message
	threads   map[string][]string
	failures  map[string]failure
	nextLabel int

	CreateLabelCalls int
	ListLabelsCalls  int
	ModifyCalls      []ModifyCall
}

var _ mailbox.LabelStore = (*Store)(nil)

func New() *Store {
	return &Store{
		messages: make(map[string]*message),
		threads:  make(map[string][]string),
		failures: make(map[string]failure),
	}
}

func key(op Op, ref string) string {
	return string(op) + ":" + ref
}

// FailOn makes op fail with err for ref. Label operations use an empty ref.
func (s *Store) FailOn(op Op, ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key(op, ref)] = failure{err: err}
}

// PanicOn makes op panic for ref.
func (s *Store) PanicOn(op Op, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key(op, ref)] = failure{panic: true}
}

// ClearFailures removes every injected failure.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]failure)
}

func (s *Store) check(op Op, ref string) error {
	f, ok := s.failures[key(op, ref)]
	if !ok {
		return nil
	}
	if f.panic {
		panic(fmt.Sprintf("injected panic in %s for %q", op, ref))
	}
	return f.err
}

// AddLabel creates a user label directly.
func (s *Store) AddLabel(name string) mailbox.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLabel(name)
}

func (s *Store) addLabel(name string) mailbox.Label {
	s.nextLabel++
	l := mailbox.Label{ID: "Label_" + strconv.Itoa(s.nextLabel), Name: name}
	s.labels = append(s.labels, l)
	return l
}

// LabelByName returns the user label called name.
func (s *Store) LabelByName(name string) (mailbox.Label, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.labels {
		if l.Name == name {
			return l, true
		}
	}
	return mailbox.Label{}, false
}

// AddMessage stores a message as the newest member of threadID.
func (s *Store) AddMessage(ref, threadID string, labelIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &message{threadID: threadID, labels: make(map[string]struct{})}
	for _, id := range labelIDs {
		m.labels[id] = struct{}{}
	}
	s.messages[ref] = m
	s.threads[threadID] = append(s.threads[threadID], ref)
}

// DeleteMessage removes a message from the mailbox.
func (s *Store) DeleteMessage(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[ref]
	if !ok {
		return
	}
	delete(s.messages, ref)
	refs := s.threads[m.threadID]
	for i, r := range refs {
		if r == ref {
			s.threads[m.threadID] = append(refs[:i:i], refs[i+1:]...)
			break
		}
	}
}

// Labels returns the sorted label ids of ref.
func (s *Store) Labels(ref string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[ref]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(m.labels))
	for id := range m.labels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasLabel reports whether ref currently carries labelID.
func (s *Store) HasLabel(ref, labelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[ref]
	if !ok {
		return false
	}
	_, has := m.labels[labelID]
	return has
}

func (s *Store) ListLabels(_ context.Context) ([]mailbox.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListLabelsCalls++
	if err := s.check(OpListLabels, ""); err != nil {
		return nil, err
	}
	out := make([]mailbox.Label, len(s.labels))
	copy(out, s.labels)
	return out, nil
}

func (s *Store) CreateLabel(_ context.Context, name string) (mailbox.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateLabelCalls++
	if err := s.check(OpCreateLabel, ""); err != nil {
		return mailbox.Label{}, err
	}
	for _, l := range s.labels {
		if l.Name == name {
			return mailbox.Label{}, fmt.Errorf("label %q exists: %w", name, mailbox.ErrMalformed)
		}
	}
	return s.addLabel(name), nil
}

func (s *Store) GetMessage(_ context.Context, ref string) (*mailbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpGetMessage, ref); err != nil {
		return nil, err
	}
	if !mailbox.IsValidMessageRef(ref) {
		return nil, fmt.Errorf("invalid id %q: %w", ref, mailbox.ErrMalformed)
	}
	m, ok := s.messages[ref]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", ref, mailbox.ErrNotFound)
	}

	msg := &mailbox.Message{Ref: ref, ThreadID: m.threadID}
	for id := range m.labels {
		msg.LabelIDs = append(msg.LabelIDs, id)
	}
	sort.Strings(msg.LabelIDs)
	return msg, nil
}

func (s *Store) GetThread(_ context.Context, threadID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpGetThread, threadID); err != nil {
		return nil, err
	}
	refs, ok := s.threads[threadID]
	if !ok || len(refs) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, mailbox.ErrNotFound)
	}
	out := make([]string, len(refs))
	copy(out, refs)
	return out, nil
}

func (s *Store) ModifyMessage(_ context.Context, ref string, add, remove []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ModifyCalls = append(s.ModifyCalls, ModifyCall{Ref: ref, Add: add, Remove: remove})
	if err := s.check(OpModify, ref); err != nil {
		return err
	}
	m, ok := s.messages[ref]
	if !ok {
		return fmt.Errorf("message %s: %w", ref, mailbox.ErrNotFound)
	}
	for _, id := range append(append([]string{}, add...), remove...) {
		if !s.knownLabel(id) {
			return fmt.Errorf("unknown label %q: %w", id, mailbox.ErrMalformed)
		}
	}
	for _, id := range add {
		m.labels[id] = struct{}{}
	}
	for _, id := range remove {
		delete(m.labels, id)
	}
	return nil
}

func (s *Store) knownLabel(id string) bool {
	switch id {
	case mailbox.LabelInbox, mailbox.LabelUnread, mailbox.LabelStarred:
		return true
	}
	for _, l := range s.labels {
		if l.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) ListMessages(_ context.Context, labelID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpListMessages, labelID); err != nil {
		return nil, err
	}
	var refs []string
	for ref, m := range s.messages {
		if _, ok := m.labels[labelID]; ok {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// Factory hands out one Store per owner.
type Factory struct {
	mu     sync.Mutex
	stores map[string]*Store
	errs   map[string]error
}

var _ mailbox.Factory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{stores: make(map[string]*Store), errs: make(map[string]error)}
}

// Store returns the mailbox of owner, creating an empty one on first use.
func (f *Factory) Store(owner string) *Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[owner]
	if !ok {
		s = New()
		f.stores[owner] = s
	}
	return s
}

// FailFor makes ForOwner fail for owner.
func (f *Factory) FailFor(owner string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[owner] = err
}

func (f *Factory) ForOwner(_ context.Context, owner string) (mailbox.LabelStore, error) {
	f.mu.Lock()
	err := f.errs[owner]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store(owner), nil
}
