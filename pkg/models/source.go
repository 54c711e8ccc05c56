package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionMechanismSource marks subscriptions managed from application
// metadata (the e-mail list the developer declares for a source).
const SubscriptionMechanismSource = "source"

// Source is a translation source: the canonical manifest URL that one or more
// applications draw their strings from. Bundles hang off a source.
type Source struct {
	ID                uuid.UUID `json:"id"`
	URL               string    `json:"url"`
	IsAutomaticUpdate bool      `json:"is_automatic_update"`
	Attributes        string    `json:"attributes"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Application is a public application URL pointing at exactly one source.
type Application struct {
	ID        uuid.UUID `json:"id"`
	AppURL    string    `json:"app_url"`
	SourceID  uuid.UUID `json:"source_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppMetadata carries the registration flags an application declares for its
// source.
type AppMetadata struct {
	// Automatic reports whether the source follows developer updates
	// automatically. Nil means the default (true).
	Automatic  *bool    `json:"automatic,omitempty"`
	Attributes string   `json:"attributes"`
	Emails     []string `json:"emails"`
}

// IsAutomatic resolves the Automatic flag with its default.
func (m AppMetadata) IsAutomatic() bool {
	if m.Automatic == nil {
		return true
	}
	return *m.Automatic
}

// NotificationRecipient is an e-mail address that receives change digests.
type NotificationRecipient struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription links a recipient to a source. LastCheck is the time of the
// last digest that covered this subscription.
type Subscription struct {
	ID             uuid.UUID `json:"id"`
	SourceID       uuid.UUID `json:"source_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	RecipientEmail string    `json:"recipient_email"`
	Mechanism      string    `json:"mechanism"`
	LastCheck      time.Time `json:"last_check"`
}
