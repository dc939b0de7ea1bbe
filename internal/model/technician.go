package model

import (
	"time"

	"gorm.io/datatypes"
)

type TechnicianStatus string

const (
	TechnicianStatusAvailable   TechnicianStatus = "available"
	TechnicianStatusUnavailable TechnicianStatus = "unavailable"
	TechnicianStatusOnLeave     TechnicianStatus = "on_leave"
)

type SkillLevel string

const (
	SkillLevelJunior     SkillLevel = "junior"
	SkillLevelSenior     SkillLevel = "senior"
	SkillLevelExpert     SkillLevel = "expert"
	SkillLevelSpecialist SkillLevel = "specialist"
)

// Technician is the directory read model consumed by scoring. The directory
// service owns these rows; this service only reads them.
type Technician struct {
	ID                uint                        `gorm:"primaryKey" json:"id"`
	Name              string                      `gorm:"type:varchar(128);not null" json:"name"`
	Phone             *string                     `gorm:"type:varchar(32)" json:"phone"`
	Status            TechnicianStatus            `gorm:"type:varchar(16);not null;index" json:"status"`
	MaxDailyTickets   int                         `gorm:"not null" json:"max_daily_tickets"`
	Skills            datatypes.JSONSlice[string] `json:"skills"`
	SkillLevel        SkillLevel                  `gorm:"type:varchar(16)" json:"skill_level"`
	ServiceZones      datatypes.JSONSlice[string] `json:"service_zones"`
	AverageRating     float64                     `json:"average_rating"`
	SLAComplianceRate float64                     `json:"sla_compliance_rate"`
	Latitude          *float64                    `json:"latitude"`
	Longitude         *float64                    `json:"longitude"`
	LocationUpdatedAt *time.Time                  `json:"location_updated_at"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

func (Technician) TableName() string {
	return "technicians"
}

func (t *Technician) IsAvailable() bool {
	return t.Status == TechnicianStatusAvailable
}
