package db

import (
	"encoding/json"
	"time"
)

// LawUpdate maps lawmon.law_updates. One row per distinct legal change;
// duplicates across feeds collapse onto it via content_hash.
type LawUpdate struct {
	LawID       string          `gorm:"column:law_id;type:text;primaryKey"`
	ContentHash []byte          `gorm:"column:content_hash;type:bytea;not null;unique"`
	Title       string          `gorm:"column:title;type:text;not null"`
	Summary     string          `gorm:"column:summary;type:text;not null;default:''"`
	Area        string          `gorm:"column:area;type:text;not null;default:''"`
	Language    string          `gorm:"column:language;type:text;not null;default:und"`
	SourceURL   *string         `gorm:"column:source_url;type:text"`
	Keywords    json.RawMessage `gorm:"column:keywords;type:jsonb"`
	PublishedAt *time.Time      `gorm:"column:published_at;type:timestamptz"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (LawUpdate) TableName() string { return "lawmon.law_updates" }

// LawSourceRef maps lawmon.law_source_refs. Tracks which upstream item in
// which feed produced or merged into a law update.
type LawSourceRef struct {
	LawID        string    `gorm:"column:law_id;type:text;primaryKey"`
	Source       string    `gorm:"column:source;type:text;primaryKey"`
	SourceItemID string    `gorm:"column:source_item_id;type:text;not null;default:''"`
	AddedAt      time.Time `gorm:"column:added_at;type:timestamptz;not null;default:now()"`
}

func (LawSourceRef) TableName() string { return "lawmon.law_source_refs" }

// Contract maps lawmon.contracts. Text columns mirror the upstream
// document store, which populates whichever of the three it has.
type Contract struct {
	ContractID    string     `gorm:"column:contract_id;type:text;primaryKey"`
	UserID        string     `gorm:"column:user_id;type:text;not null"`
	Name          string     `gorm:"column:name;type:text;not null;default:''"`
	FullText      *string    `gorm:"column:full_text;type:text"`
	Content       *string    `gorm:"column:content;type:text"`
	ParsedText    *string    `gorm:"column:parsed_text;type:text"`
	Area          string     `gorm:"column:area;type:text;not null;default:''"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
	LastIndexedAt *time.Time `gorm:"column:last_indexed_at;type:timestamptz"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Contract) TableName() string { return "lawmon.contracts" }

// Text returns the first populated text column.
func (c Contract) Text() string {
	for _, candidate := range []*string{c.FullText, c.Content, c.ParsedText} {
		if candidate != nil && *candidate != "" {
			return *candidate
		}
	}
	return ""
}

// User maps lawmon.users.
type User struct {
	UserID     string    `gorm:"column:user_id;type:text;primaryKey"`
	Email      string    `gorm:"column:email;type:text;not null;default:''"`
	DigestMode string    `gorm:"column:digest_mode;type:text;not null;default:instant"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (User) TableName() string { return "lawmon.users" }

// VectorRecord maps lawmon.vector_records, the durable side of the vector
// index. The embedding is stored as a pgvector literal.
type VectorRecord struct {
	ID        string    `gorm:"column:id;type:text;primaryKey"`
	Partition string    `gorm:"column:partition;type:text;not null"`
	Embedding string    `gorm:"column:embedding;type:vector(1536);not null"`
	Text      string    `gorm:"column:text;type:text;not null;default:''"`
	OwnerID   string    `gorm:"column:owner_id;type:text;not null"`
	Area      string    `gorm:"column:area;type:text;not null;default:''"`
	Source    string    `gorm:"column:source;type:text;not null;default:''"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (VectorRecord) TableName() string { return "lawmon.vector_records" }

// Notification maps lawmon.notifications. One row per alert decision, kept
// as the suppression-window ledger.
type Notification struct {
	NotificationID   int64     `gorm:"column:notification_id;primaryKey;autoIncrement"`
	NotificationUUID string    `gorm:"column:notification_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ContractID       string    `gorm:"column:contract_id;type:text;not null"`
	LawID            string    `gorm:"column:law_id;type:text;not null"`
	UserID           string    `gorm:"column:user_id;type:text;not null"`
	Score            float64   `gorm:"column:score;type:double precision;not null"`
	Area             string    `gorm:"column:area;type:text;not null;default:''"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Notification) TableName() string { return "lawmon.notifications" }

// DigestQueueEntry maps lawmon.digest_queue. Notifications for non-instant
// users wait here until their digest run picks them up.
type DigestQueueEntry struct {
	EntryID        int64      `gorm:"column:entry_id;primaryKey;autoIncrement"`
	UserID         string     `gorm:"column:user_id;type:text;not null"`
	DigestMode     string     `gorm:"column:digest_mode;type:text;not null"`
	NotificationID int64      `gorm:"column:notification_id;type:bigint;not null;unique"`
	Queued         bool       `gorm:"column:queued;type:boolean;not null;default:true"`
	Sent           bool       `gorm:"column:sent;type:boolean;not null;default:false"`
	QueuedAt       time.Time  `gorm:"column:queued_at;type:timestamptz;not null;default:now()"`
	SentAt         *time.Time `gorm:"column:sent_at;type:timestamptz"`
}

func (DigestQueueEntry) TableName() string { return "lawmon.digest_queue" }

// Feedback maps lawmon.feedback. One row per user per alert; repeated
// submissions overwrite the rating.
type Feedback struct {
	AlertID   string    `gorm:"column:alert_id;type:uuid;primaryKey"`
	UserID    string    `gorm:"column:user_id;type:text;primaryKey"`
	Rating    string    `gorm:"column:rating;type:text;not null"`
	Score     float64   `gorm:"column:score;type:double precision;not null"`
	Area      string    `gorm:"column:area;type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Feedback) TableName() string { return "lawmon.feedback" }

// JobLock maps lawmon.job_locks. Coordinates singleton jobs across
// processes; an expired lock may be taken over.
type JobLock struct {
	JobName    string    `gorm:"column:job_name;type:text;primaryKey"`
	Holder     string    `gorm:"column:holder;type:uuid;not null"`
	AcquiredAt time.Time `gorm:"column:acquired_at;type:timestamptz;not null;default:now()"`
	ExpiresAt  time.Time `gorm:"column:expires_at;type:timestamptz;not null"`
}

func (JobLock) TableName() string { return "lawmon.job_locks" }

func autoMigrateModels() []any {
	return []any{
		&LawUpdate{},
		&LawSourceRef{},
		&Contract{},
		&User{},
		&VectorRecord{},
		&Notification{},
		&DigestQueueEntry{},
		&Feedback{},
		&JobLock{},
	}
}
