package store

import "time"

// Message is one recorded voice message.
type Message struct {
	ID              int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	FamilyMember    string    `json:"family_member" gorm:"column:family_member;type:varchar(64);not null;index:idx_family_member"`
	Filename        string    `json:"filename" gorm:"column:filename;type:text;not null"`
	FilePath        string    `json:"file_path" gorm:"column:file_path;type:text;not null"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty" gorm:"column:duration_seconds"`
	RecordedAt      time.Time `json:"recorded_at" gorm:"column:recorded_at;not null;index:idx_recorded_at"`
	Transcription   *string   `json:"transcription,omitempty" gorm:"column:transcription;type:text"`
	Tags            *string   `json:"tags,omitempty" gorm:"column:tags;type:text"`
	IsArchived      bool      `json:"is_archived" gorm:"column:is_archived;not null;default:false"`
}

func (Message) TableName() string {
	return "messages"
}

// Setting is one persisted key/value preference.
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey;type:varchar(128)"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (Setting) TableName() string {
	return "settings"
}

// MemberCount is the number of unarchived messages for one member.
type MemberCount struct {
	Member string `json:"member" gorm:"column:family_member"`
	Count  int64  `json:"count" gorm:"column:count"`
}
