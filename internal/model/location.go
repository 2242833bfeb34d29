package model

import "time"

// LocationFix is a single device position report
type LocationFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskLevel as reported by the backend risk assessment
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type RiskAssessment struct {
	Level            RiskLevel `json:"riskLevel"`
	Score            float64   `json:"score,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	WaterLevelMeters float64   `json:"waterLevel,omitempty"`
}

// High reports whether the assessment warrants an evacuation route lookup
func (r RiskAssessment) High() bool {
	return r.Level == RiskHigh || r.Level == RiskCritical
}

type EvacuationRoute struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Polyline        string  `json:"polyline,omitempty"`
	DistanceMeters  float64 `json:"distance,omitempty"`
	DurationSeconds float64 `json:"duration,omitempty"`
	ShelterName     string  `json:"shelter,omitempty"`
}
