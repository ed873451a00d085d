package model

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

// Option is a processing option attached to a schedule record.
type Option string

const (
	OptionStar                   Option = "star"
	OptionArchiveAfterScheduling Option = "archive-after-scheduling"
	OptionMarkUnread             Option = "mark-unread"
	OptionMoveToInbox            Option = "move-to-inbox"
	OptionOnlyIfNoReply          Option = "only-if-no-reply"
)

// AllOptions lists every valid option in canonical order.
var AllOptions = []Option{
	OptionStar,
	OptionArchiveAfterScheduling,
	OptionMarkUnread,
	OptionMoveToInbox,
	OptionOnlyIfNoReply,
}

// ParseOption validates a string-keyed option.
func ParseOption(s string) (Option, error) {
	for _, o := range AllOptions {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown processing option %q", s)
}

// IsAction reports whether the option changes what happens to the message.
// Conditions such as only-if-no-reply do not count.
func (o Option) IsAction() bool {
	switch o {
	case OptionStar, OptionArchiveAfterScheduling, OptionMarkUnread, OptionMoveToInbox:
		return true
	}
	return false
}

// OptionSet is a deduplicated set of options kept in canonical order. It is
// stored as a comma separated list of keys.
type OptionSet []Option

// NewOptionSet builds a normalized set from the given options.
func NewOptionSet(opts ...Option) OptionSet {
	seen := make(map[Option]bool, len(opts))
	set := make(OptionSet, 0, len(opts))
	for _, o := range opts {
		if seen[o] {
			continue
		}
		seen[o] = true
		set = append(set, o)
	}
	sort.Slice(set, func(i, j int) bool { return optionRank(set[i]) < optionRank(set[j]) })
	return set
}

// ParseOptionSet parses a comma separated list of option keys.
func ParseOptionSet(s string) (OptionSet, error) {
	if strings.TrimSpace(s) == "" {
		return OptionSet{}, nil
	}
	var opts []Option
	for _, part := range strings.Split(s, ",") {
		o, err := ParseOption(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return NewOptionSet(opts...), nil
}

func optionRank(o Option) int {
	for i, known := range AllOptions {
		if known == o {
			return i
		}
	}
	return len(AllOptions)
}

// Has reports whether o is in the set.
func (s OptionSet) Has(o Option) bool {
	for _, v := range s {
		if v == o {
			return true
		}
	}
	return false
}

// HasAction reports whether at least one option in the set is an action.
func (s OptionSet) HasAction() bool {
	for _, v := range s {
		if v.IsAction() {
			return true
		}
	}
	return false
}

// Strings returns the option keys.
func (s OptionSet) Strings() []string {
	out := make([]string, len(s))
	for i, o := range s {
		out[i] = string(o)
	}
	return out
}

func (s OptionSet) String() string {
	return strings.Join(s.Strings(), ",")
}

// Value implements driver.Valuer.
func (s OptionSet) Value() (driver.Value, error) {
	return NewOptionSet(s...).String(), nil
}

// Scan implements sql.Scanner.
func (s *OptionSet) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case nil:
		*s = OptionSet{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into OptionSet", value)
	}

	parsed, err := ParseOptionSet(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
