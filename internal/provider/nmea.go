// ABOUTME: NMEA sentence decoding for the GPS adapter
// ABOUTME: Turns GGA and RMC sentences into positions and thins them by time and distance

package provider

import (
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/harper/geotrack/internal/models"
)

// decodeSentence parses one NMEA line into a fix. Sentences without a
// valid fix, and sentence types other than GGA and RMC, report false.
func decodeSentence(line string, at time.Time) (models.Position, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return models.Position{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return models.Position{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			return models.Position{}, false
		}
		return models.Position{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Accuracy:  s.HDOP,
			Provider:  "gps",
			Timestamp: at,
		}, true
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return models.Position{}, false
		}
		return models.Position{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Provider:  "gps",
			Timestamp: at,
		}, true
	default:
		return models.Position{}, false
	}
}

// updateFilter drops fixes closer than minInterval in time or minDistance in
// space to the last accepted one.
type updateFilter struct {
	minInterval time.Duration
	minDistance float64
	last        *models.Position
}

func (f *updateFilter) accept(pos models.Position) bool {
	if f.last != nil {
		if pos.Timestamp.Sub(f.last.Timestamp) < f.minInterval {
			return false
		}
		if Distance(f.last.Latitude, f.last.Longitude, pos.Latitude, pos.Longitude) < f.minDistance {
			return false
		}
	}
	f.last = &pos
	return true
}
