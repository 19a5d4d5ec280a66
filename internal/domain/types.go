// Package domain holds the records shared by the onboarding flow, its stores
// and the bot surface.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepKind names the input a flow expects next.
type StepKind string

const (
	// StepLoginCode waits for the verification code sent by the provider.
	StepLoginCode StepKind = "login_code"
	// StepPassword2FA waits for the account's secondary password.
	StepPassword2FA StepKind = "password_2fa"
	// StepAdminInput waits for an admin to type a user id.
	StepAdminInput StepKind = "admin_input"
)

// StepRecord is the durable marker of an in-progress flow. At most one exists per user.
type StepRecord struct {
	UserID    int64     `db:"user_id"`
	Kind      StepKind  `db:"step"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Expired reports whether the record is due for eviction at now.
func (s StepRecord) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// AccountStatus is the lifecycle state of a provisioned account.
type AccountStatus string

const (
	// AccountProvisioned marks an account that is available for download.
	AccountProvisioned AccountStatus = "provisioned"
	// AccountClaimed marks an account whose credentials were handed out.
	AccountClaimed AccountStatus = "claimed"
)

// DeviceFingerprint is the client identity presented to the provider.
type DeviceFingerprint struct {
	Model         string `yaml:"device_model" json:"device_model" db:"device_model"`
	SystemVersion string `yaml:"system_version" json:"system_version" db:"system_version"`
	AppVersion    string `yaml:"app_version" json:"app_version" db:"app_version"`
	LangCode      string `yaml:"lang_code" json:"lang_code" db:"lang_code"`
}

// AccountRecord is a committed, provisioned account.
type AccountRecord struct {
	ID             uuid.UUID     `db:"id"`
	CountryCode    string        `db:"country_code"`
	National       string        `db:"national_number"`
	Status         AccountStatus `db:"status"`
	RegisteredOn   time.Time     `db:"registered_on"`
	OwnerID        int64         `db:"owner_id"`
	CredentialsRef string        `db:"credentials_ref"`
	DeviceFingerprint
}

// Phone returns the E.164 form of the account number.
func (a AccountRecord) Phone() string {
	return a.CountryCode + a.National
}

// ProxyDescriptor is a SOCKS5 endpoint usable for provider connections.
type ProxyDescriptor struct {
	Host     string `yaml:"ip" json:"ip"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ChatUser is a bot user known to the access layer.
type ChatUser struct {
	UserID    int64     `db:"user_id"`
	Allowed   bool      `db:"allowed"`
	CreatedAt time.Time `db:"created_at"`
}

// Policy is the set of runtime toggles that shape a flow.
type Policy struct {
	UseProxy       bool
	UseChangeBio   bool
	UseCheckReport bool
	UseLogCLI      bool
}

// AccountCounts summarizes a user's accounts by status.
type AccountCounts struct {
	Provisioned int
	Claimed     int
}
