package sportsgameodds

// API response structures matching the SportsGameOdds v2 events payload

type eventsResponse struct {
	Success    bool    `json:"success"`
	Data       []event `json:"data"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

type event struct {
	EventID  string            `json:"eventID"`
	LeagueID string            `json:"leagueID"`
	Teams    teams             `json:"teams"`
	Status   status            `json:"status"`
	Players  map[string]player `json:"players,omitempty"`
	Odds     map[string]odd    `json:"odds"`
}

type teams struct {
	Home team `json:"home"`
	Away team `json:"away"`
}

type team struct {
	TeamID string    `json:"teamID"`
	Names  teamNames `json:"names"`
}

type teamNames struct {
	Long   string `json:"long"`
	Medium string `json:"medium"`
	Short  string `json:"short"`
}

type status struct {
	StartsAt  string `json:"startsAt"`
	Started   bool   `json:"started"`
	Completed bool   `json:"completed"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

type player struct {
	PlayerID string `json:"playerID"`
	Name     string `json:"name"`
	TeamID   string `json:"teamID"`
}

// odd is one side of a market; oddID is {statID}-{statEntityID}-{periodID}-{betTypeID}-{sideID}
type odd struct {
	OddID        string             `json:"oddID"`
	StatID       string             `json:"statID"`
	StatEntityID string             `json:"statEntityID"`
	PlayerID     string             `json:"playerID,omitempty"`
	PeriodID     string             `json:"periodID"`
	BetTypeID    string             `json:"betTypeID"`
	SideID       string             `json:"sideID"`
	ByBookmaker  map[string]bookOdd `json:"byBookmaker"`
}

type bookOdd struct {
	Odds          string `json:"odds"`
	OverUnder     string `json:"overUnder"`
	Available     bool   `json:"available"`
	LastUpdatedAt string `json:"lastUpdatedAt,omitempty"`
}
