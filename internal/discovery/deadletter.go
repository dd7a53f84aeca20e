package discovery

import "time"

// DeadLetter is the durable record of a queue message that exhausted its
// retry budget. It exists for alerting and manual replay; nothing in the
// engine retries it automatically.
type DeadLetter struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	MessageID  string    `gorm:"type:varchar(64);index;not null"`
	JobID      string    `gorm:"size:26;index"`
	RetryCount int       `gorm:"not null;default:0"`
	SourceURL  string    `gorm:"type:varchar(512)"`
	Body       string    `gorm:"type:text"`
	ReceivedAt time.Time `gorm:"index"`
}

func (DeadLetter) TableName() string { return "job_dead_letters" }
