package model

import "strings"

// Profile holds enriched professional-profile data for a candidate. Every
// field is optional; absence is the zero value and is never an error.
// Derived scores consider only present fields.
type Profile struct {
	FullName    string        `json:"full_name,omitempty"`
	GivenName   string        `json:"given_name,omitempty"`
	FamilyName  string        `json:"family_name,omitempty"`
	Headline    string        `json:"headline,omitempty"`
	Title       string        `json:"title,omitempty"`
	Employer    string        `json:"employer,omitempty"`
	City        string        `json:"city,omitempty"`
	Region      string        `json:"region,omitempty"`
	Country     string        `json:"country,omitempty"`
	Connections int           `json:"connections,omitempty"`
	Followers   int           `json:"followers,omitempty"`
	Summary     string        `json:"summary,omitempty"`
	Experience  []Experience  `json:"experience,omitempty"`
	Education   []Education   `json:"education,omitempty"`
	Skills      []string      `json:"skills,omitempty"`
	Scores      ProfileScores `json:"scores"`
}

// Experience is one entry in a profile's work history, most recent first.
type Experience struct {
	Title     string `json:"title,omitempty"`
	Employer  string `json:"employer,omitempty"`
	Location  string `json:"location,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Current reports whether the entry describes an ongoing position.
func (e Experience) Current() bool {
	end := strings.ToLower(strings.TrimSpace(e.EndDate))
	return end == "" || end == "present"
}

// Education is one entry in a profile's education history.
type Education struct {
	School    string `json:"school,omitempty"`
	Degree    string `json:"degree,omitempty"`
	Field     string `json:"field,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// ProfileScores are deterministic 0-100 quality dimensions computed from the
// raw fields.
type ProfileScores struct {
	Completeness int `json:"completeness"`
	Authority    int `json:"authority"`
	Engagement   int `json:"engagement"`
}

// Location joins the present location parts into a single display string.
func (p *Profile) Location() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.City, p.Region, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// CurrentPosition returns the most recent open-ended experience entry, or
// nil if none exists. When Title or Employer are set on the profile they
// must agree with this entry; FillCurrent enforces that.
func (p *Profile) CurrentPosition() *Experience {
	for i := range p.Experience {
		if p.Experience[i].Current() {
			return &p.Experience[i]
		}
	}
	return nil
}

// FillCurrent populates Title and Employer from the current experience
// entry when they are absent, keeping the invariant that the top-level
// fields derive from the work history.
func (p *Profile) FillCurrent() {
	cur := p.CurrentPosition()
	if cur == nil {
		return
	}
	if p.Title == "" {
		p.Title = cur.Title
	}
	if p.Employer == "" {
		p.Employer = cur.Employer
	}
}

// ComputeScores fills in the derived quality dimensions. Each dimension is
// clamped to 0-100 and depends only on the raw fields, so recomputation is
// stable across replays.
func (p *Profile) ComputeScores() {
	p.Scores = ProfileScores{
		Completeness: scoreCompleteness(p),
		Authority:    scoreAuthority(p),
		Engagement:   scoreEngagement(p),
	}
}

// scoreCompleteness counts which profile sections are populated. Identity
// fields weigh more than auxiliary ones.
func scoreCompleteness(p *Profile) int {
	score := 0
	if p.FullName != "" || (p.GivenName != "" && p.FamilyName != "") {
		score += 20
	}
	if p.Title != "" {
		score += 20
	}
	if p.Employer != "" {
		score += 20
	}
	if p.Location() != "" {
		score += 10
	}
	if p.Summary != "" || p.Headline != "" {
		score += 10
	}
	if len(p.Experience) > 0 {
		score += 10
	}
	if len(p.Education) > 0 {
		score += 5
	}
	if len(p.Skills) > 0 {
		score += 5
	}
	return clampScore(score)
}

// scoreAuthority estimates seniority from title keywords and tenure depth.
func scoreAuthority(p *Profile) int {
	score := 0
	title := strings.ToLower(p.Title + " " + p.Headline)
	switch {
	case containsAny(title, "chief", "ceo", "cfo", "coo", "president", "owner"):
		score += 50
	case containsAny(title, "vice president", "vp ", " vp", "executive director"):
		score += 40
	case containsAny(title, "director", "head of"):
		score += 30
	case containsAny(title, "manager", "supervisor", "lead"):
		score += 20
	}
	if n := len(p.Experience); n >= 5 {
		score += 30
	} else {
		score += n * 6
	}
	if len(p.Education) > 0 {
		score += 10
	}
	if containsAny(title, "facilities", "plant operations", "engineering", "finance", "financial", "operations") {
		score += 10
	}
	return clampScore(score)
}

// scoreEngagement estimates network reach from connection and follower
// counts. The scale saturates at 500 connections, mirroring how the
// profile host reports "500+".
func scoreEngagement(p *Profile) int {
	score := 0
	switch {
	case p.Connections >= 500:
		score += 60
	case p.Connections > 0:
		score += p.Connections * 60 / 500
	}
	switch {
	case p.Followers >= 1000:
		score += 40
	case p.Followers > 0:
		score += p.Followers * 40 / 1000
	}
	return clampScore(score)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
