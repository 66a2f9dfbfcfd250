package models

import (
	"github.com/classcomm/classcomm/internal/sync"
)

// Relationship represents how a contact relates to a student
type Relationship string

const (
	RelationshipParent    Relationship = "parent"
	RelationshipGuardian  Relationship = "guardian"
	RelationshipEmergency Relationship = "emergency"
	RelationshipOther     Relationship = "other"
)

// ContactMethod represents a contact's preferred communication channel
type ContactMethod string

const (
	MethodEmail  ContactMethod = "email"
	MethodPhone  ContactMethod = "phone"
	MethodEither ContactMethod = "either"
)

// CommStatus represents the lifecycle state of a communication
type CommStatus string

const (
	CommStatusDraft     CommStatus = "draft"
	CommStatusSent      CommStatus = "sent"
	CommStatusScheduled CommStatus = "scheduled"
)

// Tone represents the writing tone of a communication or template
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneEmpathetic   Tone = "empathetic"
	ToneFirm         Tone = "firm"
	ToneCelebratory  Tone = "celebratory"
)

// TemplateCategory represents a template's subject area
type TemplateCategory string

const (
	CategoryAcademic    TemplateCategory = "academic"
	CategoryBehavior    TemplateCategory = "behavior"
	CategoryAttendance  TemplateCategory = "attendance"
	CategoryCelebration TemplateCategory = "celebration"
	CategoryConcern     TemplateCategory = "concern"
	CategoryGeneral     TemplateCategory = "general"
)

// Student represents a student in a teacher's roster
type Student struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Grade     string `json:"grade"`
	Class     string `json:"class,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	sync.Meta
}

// Contact represents a parent or guardian linked to a student
type Contact struct {
	ID                string        `json:"id"`
	UserID            string        `json:"userId"`
	StudentID         string        `json:"studentId"`
	Name              string        `json:"name"`
	Relationship      Relationship  `json:"relationship"`
	Email             string        `json:"email,omitempty"`
	Phone             string        `json:"phone,omitempty"`
	PreferredMethod   ContactMethod `json:"preferredMethod,omitempty"`
	PreferredLanguage string        `json:"preferredLanguage,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	CreatedAt         int64         `json:"createdAt"`
	sync.Meta
}

// Communication represents a message to a student's contact
type Communication struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	StudentID         string     `json:"studentId"`
	ContactID         string     `json:"contactId,omitempty"`
	Subject           string     `json:"subject"`
	Message           string     `json:"message"`
	TranslatedMessage string     `json:"translatedMessage,omitempty"`
	TargetLanguage    string     `json:"targetLanguage,omitempty"`
	Tone              Tone       `json:"tone,omitempty"`
	Status            CommStatus `json:"status"`
	Method            string     `json:"method,omitempty"`
	ScheduledFor      int64      `json:"scheduledFor,omitempty"`
	SentAt            int64      `json:"sentAt,omitempty"`
	TemplateID        string     `json:"templateId,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	FollowUpDate      int64      `json:"followUpDate,omitempty"`
	FollowUpCompleted bool       `json:"followUpCompleted,omitempty"`
	CreatedAt         int64      `json:"createdAt"`
	sync.Meta
}

// Template represents a reusable message template. Templates with
// IsDefault set are system templates visible to every user.
type Template struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId"`
	Name       string           `json:"name"`
	Category   TemplateCategory `json:"category"`
	Subject    string           `json:"subject"`
	Body       string           `json:"body"`
	Tone       Tone             `json:"tone,omitempty"`
	UsageCount int              `json:"usageCount,omitempty"`
	IsDefault  bool             `json:"isDefault,omitempty"`
	CreatedAt  int64            `json:"createdAt"`
	sync.Meta
}

// Reminder represents a follow-up reminder tied to a communication
type Reminder struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	CommunicationID string `json:"communicationId"`
	DueDate         int64  `json:"dueDate"`
	Description     string `json:"description"`
	Completed       bool   `json:"completed,omitempty"`
	CompletedAt     int64  `json:"completedAt,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	sync.Meta
}

// Settings represents a user's preferences. Its record ID is the
// user ID, one row per user.
type Settings struct {
	ID              string `json:"id"`
	TeacherName     string `json:"teacherName"`
	SchoolName      string `json:"schoolName,omitempty"`
	DefaultLanguage string `json:"defaultLanguage,omitempty"`
	Theme           string `json:"theme,omitempty"`
	sync.Meta
}
