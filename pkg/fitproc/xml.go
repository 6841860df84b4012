package fitproc

import (
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults used for records without position data.
const (
	defaultLat = 39.0
	defaultLng = 116.0
)

type positionXML struct {
	Lat    string `xml:"lat"`
	Lng    string `xml:"lng"`
	Height string `xml:"height"`
	Time   string `xml:"time"`
}

// recordXML mirrors the server's record document, version 5. Element order
// is fixed.
type recordXML struct {
	XMLName           xml.Name    `xml:"record"`
	Version           string      `xml:"version"`
	Track             string      `xml:"track"`
	TrackTimeFrame    string      `xml:"trackTimeFrame"`
	Pace              string      `xml:"pace"`
	Segments          string      `xml:"segments"`
	Start             positionXML `xml:"start"`
	End               positionXML `xml:"end"`
	Duration          string      `xml:"duration"`
	Distance          string      `xml:"distance"`
	MaxPace           string      `xml:"maxPace"`
	AvgPace           string      `xml:"avgPace"`
	MaxSpeed          string      `xml:"maxSpeed"`
	AvgSpeed          string      `xml:"avgSpeed"`
	SumHeight         string      `xml:"sumHeight"`
	SumHeightDistance string      `xml:"sumHeightDistance"`
	SumHeightTime     string      `xml:"sumHeightTime"`
	Calories          string      `xml:"calories"`
	Score             string      `xml:"score"`
	MaxTemperature    string      `xml:"maxTemperature"`
	MinTemperature    string      `xml:"minTemperature"`
	AvgTemperature    string      `xml:"avgTemperature"`
	Source            string      `xml:"source"`
	Close             string      `xml:"close"`
	FingerPrint       string      `xml:"fingerPrint"`
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// GenerateXML renders the parsed activity as the upload document.
func (p *Processor) GenerateXML() (string, error) {
	var startMs, endMs int64
	if len(p.points) == 0 {
		startMs = time.Now().UnixMilli()
		endMs = startMs
	} else {
		startMs = p.points[0].Timestamp.UnixMilli()
		endMs = p.points[len(p.points)-1].Timestamp.UnixMilli()
	}

	startLat, startLng, startAlt := defaultLat, defaultLng, 0
	endLat, endLng, endAlt := defaultLat, defaultLng, 0
	var startTs time.Time
	if len(p.points) > 0 {
		first, last := p.points[0], p.points[len(p.points)-1]
		startLat, startLng, startAlt = first.Lat, first.Lng, first.Alt
		endLat, endLng, endAlt = last.Lat, last.Lng, last.Alt
		startTs = first.Timestamp
	}

	var track strings.Builder
	for _, pt := range p.points {
		elapsed := int(pt.Timestamp.Sub(startTs).Seconds())
		speedMh := int(pt.Speed * 3600)
		fmt.Fprintf(&track, "%s,%s,%d,%d,%d,%d,%d,%d,%d;",
			coord(pt.Lat), coord(pt.Lng), pt.Alt, speedMh,
			pt.HeartRate, pt.Cadence, pt.Power, elapsed, elapsed)
	}

	checksum := startMs + int64(p.totalDistance) + int64(p.score)
	fingerprint := fmt.Sprintf("%d,%d,%d,%d", p.accountID, startMs, int64(p.totalDistance), p.score)

	doc := recordXML{
		Version:        "5",
		Track:          track.String(),
		TrackTimeFrame: "10",
		Start: positionXML{
			Lat:    coord(startLat),
			Lng:    coord(startLng),
			Height: strconv.Itoa(startAlt),
			Time:   strconv.FormatInt(startMs, 10),
		},
		End: positionXML{
			Lat:    coord(endLat),
			Lng:    coord(endLng),
			Height: strconv.Itoa(endAlt),
			Time:   strconv.FormatInt(endMs, 10),
		},
		Duration:          strconv.Itoa(int(p.totalDuration)),
		Distance:          strconv.Itoa(int(p.totalDistance)),
		MaxPace:           "0",
		AvgPace:           "0",
		MaxSpeed:          strconv.Itoa(int(p.maxSpeed * 3600)),
		AvgSpeed:          strconv.Itoa(int(p.avgSpeed * 3600)),
		SumHeight:         "0",
		SumHeightDistance: "0",
		SumHeightTime:     "0",
		Calories:          "0",
		Score:             strconv.Itoa(p.score),
		Source:            "android",
		Close:             strconv.FormatInt(checksum, 10),
		FingerPrint:       fmt.Sprintf("%x", md5.Sum([]byte(fingerprint))),
	}

	out, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal record xml: %w", err)
	}
	return xml.Header + string(out) + "\n", nil
}
