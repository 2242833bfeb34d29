package model

import "time"

// ReportInput is what a user submits from the field
type ReportInput struct {
	Latitude    float64  `json:"latitude" validate:"latitude"`
	Longitude   float64  `json:"longitude" validate:"longitude"`
	WaterLevel  string   `json:"waterLevel" validate:"required,oneof=ankle knee waist chest above"`
	Description string   `json:"description" validate:"max=2000"`
	Reporter    string   `json:"reporter,omitempty" validate:"omitempty,max=120"`
	PhotoURLs   []string `json:"photos,omitempty" validate:"omitempty,max=5,dive,url"`
}

// FloodReport is a persisted report; Synced flips once the backend accepted it
type FloodReport struct {
	ID string `json:"id"`
	ReportInput

	Synced    bool       `json:"synced"`
	CreatedAt time.Time  `json:"createdAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Alert is a cached hazard zone with its per-device read state
type Alert struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Severity  Severity   `json:"severity"`
	Read      bool       `json:"read"`
	Timestamp time.Time  `json:"timestamp"`
	Zone      HazardZone `json:"zone"`
}

type ContactType string

const (
	ContactRescue   ContactType = "rescue"
	ContactMedical  ContactType = "medical"
	ContactShelter  ContactType = "shelter"
	ContactPersonal ContactType = "personal"
)

type EmergencyContact struct {
	ID    string      `json:"id"`
	Name  string      `json:"name" validate:"required,max=120"`
	Phone string      `json:"phone" validate:"required,max=32"`
	Type  ContactType `json:"type" validate:"required,oneof=rescue medical shelter personal"`
}

// Notification is emitted once per entered zone until the zone is left
type Notification struct {
	ID        string            `json:"id"`
	ZoneID    string            `json:"zoneId"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Severity  Severity          `json:"severity"`
	Routes    []EvacuationRoute `json:"routes,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
