package fitproc

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tormoder/fit"
)

// Point is one track sample taken from a FIT record message.
type Point struct {
	Lat       float64
	Lng       float64
	Alt       int
	Speed     float64 // m/s
	HeartRate int
	Cadence   int
	Power     int
	Timestamp time.Time
}

// Processor turns one FIT activity file into the proprietary upload XML
// document. Pace, calories and score are not computed and stay zero.
type Processor struct {
	accountID int64

	points        []Point
	startTime     time.Time
	totalDistance float64 // m
	totalDuration float64 // s
	maxSpeed      float64 // m/s
	avgSpeed      float64 // m/s
	score         int
}

// New creates a processor for the given account. The account id feeds the
// record fingerprint.
func New(accountID int64) *Processor {
	return &Processor{accountID: accountID}
}

// ParseFile decodes the FIT file at path.
func (p *Processor) ParseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open fit file: %w", err)
	}
	defer f.Close()
	return p.Parse(f)
}

// Parse decodes a FIT activity and extracts track points and session
// aggregates.
func (p *Processor) Parse(r io.Reader) error {
	file, err := fit.Decode(r)
	if err != nil {
		return fmt.Errorf("failed to decode fit file: %w", err)
	}
	activity, err := file.Activity()
	if err != nil {
		return fmt.Errorf("fit file is not an activity: %w", err)
	}

	for _, rec := range activity.Records {
		p.addRecord(rec)
	}
	for _, sess := range activity.Sessions {
		p.addSession(sess)
	}

	log.Infof("Parsed FIT activity: %d points, %.0f m, %.0f s",
		len(p.points), p.totalDistance, p.totalDuration)
	return nil
}

func (p *Processor) addRecord(rec *fit.RecordMsg) {
	var pt Point

	if lat := rec.PositionLat.Degrees(); !math.IsNaN(lat) {
		pt.Lat = lat
	}
	if lng := rec.PositionLong.Degrees(); !math.IsNaN(lng) {
		pt.Lng = lng
	}
	if alt := rec.GetAltitudeScaled(); !math.IsNaN(alt) {
		pt.Alt = int(alt)
	}
	if speed := rec.GetEnhancedSpeedScaled(); !math.IsNaN(speed) {
		pt.Speed = speed
	} else if speed := rec.GetSpeedScaled(); !math.IsNaN(speed) {
		pt.Speed = speed
	}
	if rec.HeartRate != 0xFF {
		pt.HeartRate = int(rec.HeartRate)
	}
	if rec.Cadence != 0xFF {
		pt.Cadence = int(rec.Cadence)
	}
	if rec.Power != 0xFFFF {
		pt.Power = int(rec.Power)
	}
	pt.Timestamp = rec.Timestamp

	p.points = append(p.points, pt)
}

func (p *Processor) addSession(sess *fit.SessionMsg) {
	if v := sess.GetTotalElapsedTimeScaled(); !math.IsNaN(v) {
		p.totalDuration = v
	}
	if v := sess.GetTotalDistanceScaled(); !math.IsNaN(v) {
		p.totalDistance = v
	}
	if !sess.StartTime.IsZero() {
		p.startTime = sess.StartTime
	}
	if v := sess.GetMaxSpeedScaled(); !math.IsNaN(v) {
		p.maxSpeed = v
	}
	if v := sess.GetAvgSpeedScaled(); !math.IsNaN(v) {
		p.avgSpeed = v
	}
}

// StartTimeMillis returns the record start time in Unix milliseconds: the
// session start when present, else the first track point, else zero.
func (p *Processor) StartTimeMillis() int64 {
	if !p.startTime.IsZero() {
		return p.startTime.UnixMilli()
	}
	if len(p.points) > 0 && !p.points[0].Timestamp.IsZero() {
		return p.points[0].Timestamp.UnixMilli()
	}
	return 0
}
