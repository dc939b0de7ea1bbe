// Package scoring ranks candidate technicians for a ticket.
//
// Unavailable and over-capacity candidates are filtered out, never merely
// down-ranked. Among the rest the score grows with skill and zone match,
// rating, SLA compliance and proximity, and shrinks with current load.
package scoring

import (
	"sort"

	"fieldops-service/internal/model"
	"fieldops-service/internal/utils"
)

type Proximity string

const (
	ProximityNear    Proximity = "near"
	ProximityMedium  Proximity = "medium"
	ProximityFar     Proximity = "far"
	ProximityUnknown Proximity = "unknown"
)

// Distance bands for proximity classification, in meters.
const (
	NearRadiusMeters   = 5000.0
	MediumRadiusMeters = 15000.0
)

// Weights. Only their signs matter for the ranking contract; the magnitudes
// decide how signals trade off against each other.
const (
	weightSkill      = 30.0
	weightZone       = 15.0
	weightRating     = 15.0
	weightCompliance = 15.0
	weightProximity  = 15.0
	weightLoad       = 20.0
)

var proximityFactor = map[Proximity]float64{
	ProximityNear:    1.0,
	ProximityMedium:  0.66,
	ProximityFar:     0.33,
	ProximityUnknown: 0,
}

var skillLevelBonus = map[model.SkillLevel]float64{
	model.SkillLevelJunior:     0,
	model.SkillLevelSenior:     2,
	model.SkillLevelExpert:     4,
	model.SkillLevelSpecialist: 5,
}

// Job is the part of a ticket the scorer looks at.
type Job struct {
	RequiredSkills []string
	Zone           string
	Latitude       *float64
	Longitude      *float64
}

func JobFromTicket(t *model.Ticket) Job {
	job := Job{
		RequiredSkills: utils.NormalizeTags(t.RequiredSkills),
		Latitude:       t.Latitude,
		Longitude:      t.Longitude,
	}
	if t.ServiceZone != nil {
		job.Zone = utils.NormalizeTag(*t.ServiceZone)
	}
	return job
}

type Candidate struct {
	Technician  model.Technician
	OpenTickets int
}

// Options narrows the eligible set. Zone and Skills are hard constraints.
type Options struct {
	AllowOverCapacity bool
	Zone              string
	Skills            []string
}

type Recommendation struct {
	TechnicianID uint             `json:"technician_id"`
	Name         string           `json:"name"`
	Score        float64          `json:"score"`
	LoadRatio    float64          `json:"load_ratio"`
	OpenTickets  int              `json:"open_tickets"`
	MaxTickets   int              `json:"max_daily_tickets"`
	SkillMatch   float64          `json:"skill_match"`
	ZoneMatch    bool             `json:"zone_match"`
	SkillLevel   model.SkillLevel `json:"skill_level"`
	Rating       float64          `json:"rating"`
	Proximity    Proximity        `json:"proximity"`
	DistanceKm   *float64         `json:"distance_km,omitempty"`
	Badges       []string         `json:"badges"`
}

// Rank returns eligible candidates ordered best first.
func Rank(job Job, candidates []Candidate, opts Options) []Recommendation {
	requiredZone := utils.NormalizeTag(opts.Zone)
	requiredSkills := utils.NormalizeTags(opts.Skills)

	out := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		tech := c.Technician
		if !tech.IsAvailable() {
			continue
		}
		load := LoadRatio(c.OpenTickets, tech.MaxDailyTickets)
		if load >= 1.0 && !opts.AllowOverCapacity {
			continue
		}

		skills := toSet(utils.NormalizeTags(tech.Skills))
		zones := toSet(utils.NormalizeTags(tech.ServiceZones))
		if requiredZone != "" {
			if _, ok := zones[requiredZone]; !ok {
				continue
			}
		}
		if !containsAll(skills, requiredSkills) {
			continue
		}

		rec := Recommendation{
			TechnicianID: tech.ID,
			Name:         tech.Name,
			LoadRatio:    load,
			OpenTickets:  c.OpenTickets,
			MaxTickets:   tech.MaxDailyTickets,
			SkillMatch:   skillOverlap(skills, job.RequiredSkills),
			SkillLevel:   tech.SkillLevel,
			Rating:       tech.AverageRating,
		}
		if job.Zone != "" {
			_, rec.ZoneMatch = zones[job.Zone]
		}
		rec.Proximity, rec.DistanceKm = classify(job, tech)
		rec.Score = score(rec, tech)
		rec.Badges = badges(rec)
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LoadRatio != b.LoadRatio {
			return a.LoadRatio < b.LoadRatio
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.TechnicianID < b.TechnicianID
	})
	return out
}

// LoadRatio is open/max. A technician without a declared capacity counts as full.
func LoadRatio(open, max int) float64 {
	if max <= 0 {
		return 1.0
	}
	return float64(open) / float64(max)
}

func score(rec Recommendation, tech model.Technician) float64 {
	s := weightSkill * rec.SkillMatch
	if rec.ZoneMatch {
		s += weightZone
	}
	s += weightRating * clamp(tech.AverageRating/5.0)
	s += weightCompliance * clamp(tech.SLAComplianceRate/100.0)
	s += weightProximity * proximityFactor[rec.Proximity]
	s += skillLevelBonus[tech.SkillLevel]
	s -= weightLoad * rec.LoadRatio
	return s
}

func classify(job Job, tech model.Technician) (Proximity, *float64) {
	if job.Latitude == nil || job.Longitude == nil || tech.Latitude == nil || tech.Longitude == nil {
		return ProximityUnknown, nil
	}
	meters := utils.HaversineMeters(*job.Latitude, *job.Longitude, *tech.Latitude, *tech.Longitude)
	km := meters / 1000
	switch {
	case meters <= NearRadiusMeters:
		return ProximityNear, &km
	case meters <= MediumRadiusMeters:
		return ProximityMedium, &km
	default:
		return ProximityFar, &km
	}
}

func badges(rec Recommendation) []string {
	out := []string{"available"}
	if rec.LoadRatio >= 1.0 {
		out = append(out, "over_capacity")
	} else if rec.LoadRatio >= 0.75 {
		out = append(out, "near_capacity")
	}
	if rec.SkillMatch >= 1.0 {
		out = append(out, "skill_match")
	}
	if rec.ZoneMatch {
		out = append(out, "zone_match")
	}
	if rec.Proximity != ProximityUnknown {
		out = append(out, string(rec.Proximity))
	}
	return out
}

// skillOverlap is the share of required skills the technician has. A job
// without requirements matches everyone fully.
func skillOverlap(have map[string]struct{}, required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	hit := 0
	for _, s := range required {
		if _, ok := have[s]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(required))
}

func containsAll(have map[string]struct{}, want []string) bool {
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
