package models

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
)

// MaxFieldLength is the column width of keys, namespaces, categories, tool ids,
// formats and suggestion source texts.
const MaxFieldLength = 255

// MessageFields are the structural, non-value fields of a message. They come
// from the manifest and are copied onto history and active rows.
type MessageFields struct {
	Position  int    `json:"position"`
	Category  string `json:"category,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	ToolID    string `json:"tool_id,omitempty"`
	SameTool  bool   `json:"same_tool"`
	Format    string `json:"format,omitempty"`
}

// OriginalMessage is one source-language entry of an application manifest.
type OriginalMessage struct {
	Text string `json:"text"`
	MessageFields
}

// IsPlaceholder reports whether value is a copy of the source text, or an
// empty value standing in for a non-empty source text.
func (m OriginalMessage) IsPlaceholder(value string) bool {
	if value == m.Text {
		return true
	}
	return strings.TrimSpace(m.Text) != "" && strings.TrimSpace(value) == ""
}

// SuggestionText is the source text truncated to the width of the value
// suggestion index.
func (m OriginalMessage) SuggestionText() string {
	return TruncateRunes(m.Text, MaxFieldLength)
}

// Manifest maps message keys to their source-language entries.
type Manifest map[string]OriginalMessage

// Keys returns the manifest keys in sorted order.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate splits the manifest into the entries that can be stored and the
// rejected ones. A rejected entry never aborts the rest of the manifest.
func (m Manifest) Validate() (Manifest, []*apperrors.ValidationError) {
	valid := make(Manifest, len(m))
	var rejected []*apperrors.ValidationError
	for _, key := range m.Keys() {
		msg := m[key]
		if verr := validateMessage(key, msg); verr != nil {
			rejected = append(rejected, verr)
			continue
		}
		valid[key] = msg
	}
	return valid, rejected
}

func validateMessage(key string, msg OriginalMessage) *apperrors.ValidationError {
	if strings.TrimSpace(key) == "" {
		return &apperrors.ValidationError{Key: key, Field: "key", Reason: "is empty"}
	}
	if msg.Position < 0 {
		return &apperrors.ValidationError{Key: key, Field: "position", Reason: "is negative"}
	}
	fields := []struct {
		name  string
		value string
	}{
		{"key", key},
		{"category", msg.Category},
		{"namespace", msg.Namespace},
		{"tool_id", msg.ToolID},
		{"format", msg.Format},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > MaxFieldLength {
			return &apperrors.ValidationError{Key: key, Field: f.name, Reason: "exceeds 255 characters"}
		}
	}
	return nil
}

// HistoryEntry is an immutable record of a value assigned to a key. ParentID
// points at the entry it superseded; root entries have no parent.
type HistoryEntry struct {
	ID               uuid.UUID  `json:"id"`
	BundleID         uuid.UUID  `json:"bundle_id"`
	Key              string     `json:"key"`
	Value            string     `json:"value"`
	AuthorID         uuid.UUID  `json:"author_id"`
	CreatedAt        time.Time  `json:"created_at"`
	ParentID         *uuid.UUID `json:"parent_id,omitempty"`
	TakenFromDefault bool       `json:"taken_from_default"`
	FromDeveloper    bool       `json:"from_developer"`
	MessageFields
}

// ActiveEntry is the current value of a key in a bundle. HistoryID references
// the HistoryEntry it materializes, always in the same bundle and key.
type ActiveEntry struct {
	ID               uuid.UUID `json:"id"`
	BundleID         uuid.UUID `json:"bundle_id"`
	Key              string    `json:"key"`
	Value            string    `json:"value"`
	HistoryID        uuid.UUID `json:"history_id"`
	UpdatedAt        time.Time `json:"updated_at"`
	TakenFromDefault bool      `json:"taken_from_default"`
	FromDeveloper    bool      `json:"from_developer"`
	MessageFields

	// AuthorID is resolved from the referenced history entry on reads.
	AuthorID uuid.UUID `json:"author_id"`
}

// ActiveValue is the read model of an active entry exposed to consumers.
type ActiveValue struct {
	Value         string `json:"value"`
	FromDefault   bool   `json:"from_default"`
	FromDeveloper bool   `json:"from_developer"`
	SameTool      bool   `json:"same_tool"`
	ToolID        string `json:"tool_id,omitempty"`
}

// ActiveSnapshot is the current content of one bundle.
type ActiveSnapshot struct {
	Messages      map[string]ActiveValue `json:"messages"`
	FromDeveloper bool                   `json:"from_developer"`
	Automatic     bool                   `json:"automatic"`
}

// NamespaceDonor is a real (not default-derived) value of a namespaced key in
// some other bundle with the same language and target.
type NamespaceDonor struct {
	Key           string    `json:"key"`
	Namespace     string    `json:"namespace"`
	Value         string    `json:"value"`
	FromDeveloper bool      `json:"from_developer"`
	AuthorID      uuid.UUID `json:"author_id"`
	BundleID      uuid.UUID `json:"bundle_id"`
}

// NamespaceKey identifies a (key, namespace) pair.
type NamespaceKey struct {
	Key       string `json:"key"`
	Namespace string `json:"namespace"`
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
