package sink

import (
	"time"

	"github.com/ethpandaops/medianage/internal/export"
)

// BirthdayJSON is the NDJSON schema for HTTP export of recorded birthdays.
type BirthdayJSON struct {
	AddedAt    string `json:"added_at"`
	BirthDate  string `json:"birth_date"`
	BirthYear  int    `json:"birth_year"`
	BirthMonth int    `json:"birth_month"`
	BirthDay   int    `json:"birth_day"`
	Instance   string `json:"instance,omitempty"`
}

func toBirthdayJSON(row export.BirthdayRow) BirthdayJSON {
	return BirthdayJSON{
		AddedAt:    row.AddedAt.Format(time.RFC3339Nano),
		BirthDate:  row.BirthDate.String(),
		BirthYear:  row.BirthDate.Year,
		BirthMonth: int(row.BirthDate.Month),
		BirthDay:   row.BirthDate.Day,
		Instance:   row.Instance,
	}
}
