package database

import "time"

// Provider is a registered external HTTP API with one base address and a set
// of callable endpoints.
type Provider struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
	// BaseURL is the upstream base address, e.g. "https://api.example.com".
	BaseURL string `gorm:"not null" json:"base_url"`
	// AuthHeaderName/AuthHeaderValue describe the single auth header injected
	// into every forwarded call. An empty name means no injection. The value
	// is stored fernet-encrypted.
	AuthHeaderName  string `json:"auth_header_name"`
	AuthHeaderValue string `json:"-"`
	// TimeoutSeconds is the hard per-call deadline for upstream forwarding.
	TimeoutSeconds     int `gorm:"not null;default:30" json:"timeout_seconds"`
	RateLimitPerMinute int `gorm:"not null;default:0" json:"rate_limit_per_minute"` // 0 = unlimited
	// Active carries no column default: GORM skips zero-value fields that
	// have one, which would turn an explicit false into true on insert. The
	// same applies to every other enabled-flag column below.
	Active    bool       `gorm:"not null" json:"active"`
	Endpoints []Endpoint `gorm:"constraint:OnDelete:CASCADE" json:"endpoints,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Endpoint is a (verb, path template) pair registered under a provider.
// Path templates contain literal segments plus {name} placeholders.
type Endpoint struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID  uint   `gorm:"not null;index;uniqueIndex:idx_provider_method_path" json:"provider_id"`
	Method      string `gorm:"not null;uniqueIndex:idx_provider_method_path" json:"method"`
	Path        string `gorm:"not null;uniqueIndex:idx_provider_method_path" json:"path"`
	Description string `json:"description"`
	Active      bool   `gorm:"not null" json:"active"`
	// SortOrder is the registration-order tie-break when several templates
	// match the same inbound path.
	SortOrder int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DatabaseConnection is a stored configuration for reaching a relational
// database, directly or through an SSH tunnel. Credentials are stored
// fernet-encrypted.
type DatabaseConnection struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"uniqueIndex;not null" json:"name"`
	Driver   string `gorm:"not null;default:mysql" json:"driver"` // mysql, postgres or sqlite
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Username string `json:"username"`
	Password string `json:"-"`
	UseTLS   bool   `gorm:"not null;default:false" json:"use_tls"`

	// Tunnel settings. When UseTunnel is set the SSH fields must be present
	// and LocalPort must not collide with a port the service itself uses.
	UseTunnel     bool   `gorm:"not null;default:false" json:"use_tunnel"`
	SSHHost       string `json:"ssh_host"`
	SSHPort       int    `json:"ssh_port"`
	SSHUser       string `json:"ssh_user"`
	SSHPassword   string `json:"-"`
	SSHPrivateKey string `json:"-"`
	LocalPort     int    `json:"local_port"` // 0 = auto-assign

	Active    bool      `gorm:"not null" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DynamicQuery is an administrator-defined parameterized query exposed as its
// own REST endpoint, bound to exactly one DatabaseConnection.
type DynamicQuery struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID uint   `gorm:"not null;index;uniqueIndex:idx_connection_method_path" json:"connection_id"`
	Name         string `gorm:"not null" json:"name"`
	SQLText      string `gorm:"not null" json:"sql_text"`
	Method       string `gorm:"not null;default:GET;uniqueIndex:idx_connection_method_path" json:"method"`
	Path         string `gorm:"not null;uniqueIndex:idx_connection_method_path" json:"path"`
	// ParamNames is the JSON-encoded ordered list of declared parameters.
	ParamNames string `gorm:"not null;default:'[]'" json:"param_names"`
	// ResponseShape controls how rows are rendered: "rows" (list of
	// objects), "single" (first row object) or "scalar" (first column of the
	// first row).
	ResponseShape      string    `gorm:"not null;default:rows" json:"response_shape"`
	CacheEnabled       bool      `gorm:"not null;default:false" json:"cache_enabled"`
	CacheTTLSeconds    int       `gorm:"not null;default:60" json:"cache_ttl_seconds"`
	RateLimitPerMinute int       `gorm:"not null;default:0" json:"rate_limit_per_minute"`
	Active             bool      `gorm:"not null" json:"active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// APIKey authorizes a gateway client. The administrative layer issues and
// revokes keys; the auth middleware only reads them.
type APIKey struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Key       string    `gorm:"uniqueIndex;not null" json:"-"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CallLog is the generic append-only record of one forwarded or executed
// call. Rows are never mutated after creation.
type CallLog struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID  string `gorm:"index" json:"request_id"`
	TargetType string `gorm:"not null;index" json:"target_type"` // provider, connection or query
	TargetID   uint   `gorm:"not null;index" json:"target_id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Success    bool   `gorm:"not null;default:false" json:"success"`
	DurationMs int64  `gorm:"not null;default:0" json:"duration_ms"`
	// ResponseBytes is the payload size of the response that was returned.
	ResponseBytes int64     `gorm:"not null;default:0" json:"response_bytes"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// ProviderLog is the provider-specific companion to CallLog.
type ProviderLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID uint      `gorm:"not null;index" json:"provider_id"`
	EndpointID uint      `gorm:"index" json:"endpoint_id"`
	RequestID  string    `gorm:"index" json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	DurationMs int64     `gorm:"not null;default:0" json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// ConnectionLog records one connect or query action against a managed
// database connection.
type ConnectionLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConnectionID uint      `gorm:"not null;index" json:"connection_id"`
	RequestID    string    `gorm:"index" json:"request_id"`
	Action       string    `gorm:"not null" json:"action"` // connect or query
	Status       string    `gorm:"not null" json:"status"` // success or error
	DurationMs   int64     `gorm:"not null;default:0" json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// QueryLog records one dynamic query execution.
type QueryLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	QueryID    uint      `gorm:"not null;index" json:"query_id"`
	RequestID  string    `gorm:"index" json:"request_id"`
	Cached     bool      `gorm:"not null;default:false" json:"cached"`
	Success    bool      `gorm:"not null;default:false" json:"success"`
	DurationMs int64     `gorm:"not null;default:0" json:"duration_ms"`
	ResultRows int       `gorm:"not null;default:0" json:"result_rows"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// Setting is a key/value row used for runtime configuration such as the
// fernet encryption key.
type Setting struct {
	ID    uint   `gorm:"primaryKey;autoIncrement"`
	Key   string `gorm:"uniqueIndex;not null"`
	Value string `gorm:"not null"`
}
