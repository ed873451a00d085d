// Package gmailimap implements the mailbox label store on Gmail's IMAP
// extensions (X-GM-EXT-1). Labels are addressed by name, messages by the
// hexadecimal form of their X-GM-MSGID.
package gmailimap

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"mailfred-go/internal/config"
	"mailfred-go/internal/mailbox"
)

const (
	gmailExtension = "X-GM-EXT-1"

	fetchMsgID    imap.FetchItem = "X-GM-MSGID"
	fetchThreadID imap.FetchItem = "X-GM-THRID"
	fetchLabels   imap.FetchItem = "X-GM-LABELS"

	addLabelsItem    imap.StoreItem = "+X-GM-LABELS"
	removeLabelsItem imap.StoreItem = "-X-GM-LABELS"

	gmailInbox   = `\Inbox`
	gmailStarred = `\Starred`
)

// Store is a single Gmail account reached over IMAP. Calls are serialized
// on one connection, which is dialed lazily and redialed after a logout.
type Store struct {
	mu       sync.Mutex
	cfg      config.GmailConfig
	c        *client.Client
	selected string
}

var _ mailbox.LabelStore = (*Store)(nil)

// New creates a store for the configured IMAP account.
func New(cfg config.GmailConfig) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) conn() (*client.Client, error) {
	if s.c != nil && s.c.State() != imap.LogoutState {
		return s.c, nil
	}

	c, err := client.DialTLS(fmt.Sprintf("%s:%d", s.cfg.IMAPHost, s.cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := c.Login(s.cfg.IMAPUser, s.cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: failed to login to IMAP server: %v", mailbox.ErrUnauthorized, err)
	}

	ok, err := c.Support(gmailExtension)
	if err != nil || !ok {
		c.Logout()
		return nil, fmt.Errorf("IMAP server does not support %s", gmailExtension)
	}

	logrus.WithField("host", s.cfg.IMAPHost).Info("Connected to Gmail IMAP")
	s.c = c
	s.selected = ""
	return c, nil
}

// Close logs out of the server.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	err := s.c.Logout()
	s.c = nil
	return err
}

// withAllMail runs fn with "All Mail" selected read-write.
func (s *Store) withAllMail(ctx context.Context, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn()
	if err != nil {
		return err
	}
	if s.selected != s.cfg.IMAPAllMailPath {
		if _, err := c.Select(s.cfg.IMAPAllMailPath, false); err != nil {
			return fmt.Errorf("failed to select %s: %w", s.cfg.IMAPAllMailPath, err)
		}
		s.selected = s.cfg.IMAPAllMailPath
	}
	return fn(c)
}

func (s *Store) ListLabels(ctx context.Context) ([]mailbox.Label, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn()
	if err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var labels []mailbox.Label
	for info := range mailboxes {
		if hasString(info.Attributes, imap.NoSelectAttr) {
			continue
		}
		labels = append(labels, mailbox.Label{ID: info.Name, Name: info.Name})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return labels, nil
}

func (s *Store) CreateLabel(ctx context.Context, name string) (mailbox.Label, error) {
	if err := ctx.Err(); err != nil {
		return mailbox.Label{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.conn()
	if err != nil {
		return mailbox.Label{}, err
	}
	if err := c.Create(name); err != nil {
		return mailbox.Label{}, fmt.Errorf("failed to create mailbox %q: %w", name, err)
	}
	return mailbox.Label{ID: name, Name: name}, nil
}

func (s *Store) GetMessage(ctx context.Context, ref string) (*mailbox.Message, error) {
	id, err := refToID(ref)
	if err != nil {
		return nil, err
	}

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"Subject"},
		},
		Peek: true,
	}

	var msg *mailbox.Message
	err = s.withAllMail(ctx, func(c *client.Client) error {
		uid, err := findUID(c, id)
		if err != nil {
			return err
		}

		items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, fetchThreadID, fetchLabels, section.FetchItem()}
		fetched, err := fetch(c, []uint32{uid}, items)
		if err != nil {
			return err
		}
		if len(fetched) == 0 {
			return fmt.Errorf("message %s: %w", ref, mailbox.ErrNotFound)
		}

		m := fetched[0]
		msg = &mailbox.Message{
			Ref:      ref,
			ThreadID: itemString(m.Items[fetchThreadID]),
			LabelIDs: labelIDs(m),
			Subject:  subject(m),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) GetThread(ctx context.Context, threadID string) ([]string, error) {
	if _, err := strconv.ParseUint(threadID, 10, 64); err != nil {
		return nil, fmt.Errorf("thread id %q: %w", threadID, mailbox.ErrMalformed)
	}

	var refs []string
	err := s.withAllMail(ctx, func(c *client.Client) error {
		uids, err := rawSearch(c, string(fetchThreadID), imap.RawString(threadID))
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return fmt.Errorf("thread %s: %w", threadID, mailbox.ErrNotFound)
		}

		fetched, err := fetch(c, uids, []imap.FetchItem{imap.FetchUid, fetchMsgID})
		if err != nil {
			return err
		}
		// UIDs in All Mail grow with arrival, so they order the thread.
		sort.Slice(fetched, func(i, j int) bool { return fetched[i].Uid < fetched[j].Uid })
		for _, m := range fetched {
			ref, err := idToRef(itemString(m.Items[fetchMsgID]))
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *Store) ModifyMessage(ctx context.Context, ref string, add, remove []string) error {
	id, err := refToID(ref)
	if err != nil {
		return err
	}
	plan := planModify(add, remove)

	return s.withAllMail(ctx, func(c *client.Client) error {
		uid, err := findUID(c, id)
		if err != nil {
			return err
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		for _, op := range plan.ops() {
			if err := c.UidStore(seqset, op.item, op.values, nil); err != nil {
				return fmt.Errorf("failed to store %s on %s: %w", op.item, ref, err)
			}
		}
		return nil
	})
}

func (s *Store) ListMessages(ctx context.Context, labelID string) ([]string, error) {
	var refs []string
	err := s.withAllMail(ctx, func(c *client.Client) error {
		uids, err := rawSearch(c, string(fetchLabels), toGmailLabel(labelID))
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return nil
		}

		fetched, err := fetch(c, uids, []imap.FetchItem{imap.FetchUid, fetchMsgID})
		if err != nil {
			return err
		}
		for _, m := range fetched {
			ref, err := idToRef(itemString(m.Items[fetchMsgID]))
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(refs)
	return refs, nil
}

// rawUIDSearch is a UID SEARCH with criteria the generic search builder
// cannot express.
type rawUIDSearch struct {
	args []interface{}
}

func (cmd *rawUIDSearch) Command() *imap.Command {
	args := append([]interface{}{imap.RawString("SEARCH")}, cmd.args...)
	return &imap.Command{Name: "UID", Arguments: args}
}

func rawSearch(c *client.Client, key string, value interface{}) ([]uint32, error) {
	res := &responses.Search{}
	status, err := c.Execute(&rawUIDSearch{args: []interface{}{imap.RawString(key), value}}, res)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", key, err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", key, err)
	}
	return res.Ids, nil
}

func findUID(c *client.Client, id uint64) (uint32, error) {
	uids, err := rawSearch(c, string(fetchMsgID), imap.RawString(strconv.FormatUint(id, 10)))
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("message %016x: %w", id, mailbox.ErrNotFound)
	}
	return uids[0], nil
}

func fetch(c *client.Client, uids []uint32, items []imap.FetchItem) ([]*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []*imap.Message
	for m := range messages {
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return out, nil
}

func refToID(ref string) (uint64, error) {
	if !mailbox.IsValidMessageRef(ref) {
		return 0, fmt.Errorf("message ref %q: %w", ref, mailbox.ErrMalformed)
	}
	id, err := strconv.ParseUint(ref, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("message ref %q: %w", ref, mailbox.ErrMalformed)
	}
	return id, nil
}

func idToRef(raw string) (string, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("unexpected X-GM-MSGID %q: %w", raw, err)
	}
	return fmt.Sprintf("%016x", id), nil
}

func itemString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case imap.RawString:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func hasString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// labelIDs maps Gmail labels and IMAP flags onto mailbox label ids.
func labelIDs(m *imap.Message) []string {
	var ids []string
	if raw, ok := m.Items[fetchLabels].([]interface{}); ok {
		for _, v := range raw {
			switch name := itemString(v); name {
			case gmailInbox:
				ids = append(ids, mailbox.LabelInbox)
			case gmailStarred:
				// reported through \Flagged
			default:
				ids = append(ids, name)
			}
		}
	}
	if !hasString(m.Flags, imap.SeenFlag) {
		ids = append(ids, mailbox.LabelUnread)
	}
	if hasString(m.Flags, imap.FlaggedFlag) {
		ids = append(ids, mailbox.LabelStarred)
	}
	return ids
}

func subject(m *imap.Message) string {
	for _, lit := range m.Body {
		if lit == nil {
			continue
		}
		entity, err := message.Read(lit)
		if err != nil && !message.IsUnknownCharset(err) {
			logrus.WithError(err).Debug("Failed to parse message header")
			return ""
		}
		h := mail.Header{Header: entity.Header}
		s, err := h.Subject()
		if err != nil && !message.IsUnknownCharset(err) {
			return ""
		}
		return s
	}
	return ""
}

func toGmailLabel(id string) interface{} {
	if id == mailbox.LabelInbox {
		return imap.RawString(gmailInbox)
	}
	return id
}

type storeOp struct {
	item   imap.StoreItem
	values []interface{}
}

type modifyPlan struct {
	addLabels    []interface{}
	removeLabels []interface{}
	addFlags     []interface{}
	removeFlags  []interface{}
}

// planModify translates label changes into X-GM-LABELS and flag stores.
// UNREAD is the absence of \Seen and STARRED is \Flagged.
func planModify(add, remove []string) modifyPlan {
	var p modifyPlan
	for _, id := range add {
		switch id {
		case mailbox.LabelUnread:
			p.removeFlags = append(p.removeFlags, imap.SeenFlag)
		case mailbox.LabelStarred:
			p.addFlags = append(p.addFlags, imap.FlaggedFlag)
		default:
			p.addLabels = append(p.addLabels, toGmailLabel(id))
		}
	}
	for _, id := range remove {
		switch id {
		case mailbox.LabelUnread:
			p.addFlags = append(p.addFlags, imap.SeenFlag)
		case mailbox.LabelStarred:
			p.removeFlags = append(p.removeFlags, imap.FlaggedFlag)
		default:
			p.removeLabels = append(p.removeLabels, toGmailLabel(id))
		}
	}
	return p
}

func (p modifyPlan) ops() []storeOp {
	var ops []storeOp
	if len(p.addLabels) > 0 {
		ops = append(ops, storeOp{item: addLabelsItem, values: p.addLabels})
	}
	if len(p.removeLabels) > 0 {
		ops = append(ops, storeOp{item: removeLabelsItem, values: p.removeLabels})
	}
	if len(p.addFlags) > 0 {
		ops = append(ops, storeOp{item: imap.FormatFlagsOp(imap.AddFlags, true), values: p.addFlags})
	}
	if len(p.removeFlags) > 0 {
		ops = append(ops, storeOp{item: imap.FormatFlagsOp(imap.RemoveFlags, true), values: p.removeFlags})
	}
	return ops
}

// Factory serves the single configured IMAP account.
type Factory struct {
	store *Store
	owner string
}

var _ mailbox.Factory = (*Factory)(nil)

// NewFactory creates a factory for the account in cfg. The owner id of the
// account is its IMAP user name.
func NewFactory(cfg config.GmailConfig) *Factory {
	return &Factory{store: New(cfg), owner: cfg.IMAPUser}
}

func (f *Factory) ForOwner(_ context.Context, owner string) (mailbox.LabelStore, error) {
	if owner != f.owner {
		return nil, fmt.Errorf("owner %q has no IMAP account: %w", owner, mailbox.ErrUnauthorized)
	}
	return f.store, nil
}

// Close releases the IMAP connection.
func (f *Factory) Close() error {
	return f.store.Close()
}
