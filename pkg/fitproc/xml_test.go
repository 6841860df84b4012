package fitproc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProcessor() *Processor {
	start := time.UnixMilli(1700000000000).UTC()
	return &Processor{
		accountID: 42,
		points: []Point{
			{Lat: 39.9066, Lng: 116.3971, Alt: 50, Speed: 2.5, HeartRate: 150, Cadence: 90, Power: 200, Timestamp: start},
			{Lat: 39.9070, Lng: 116.3980, Alt: 52, Speed: 3.0, HeartRate: 155, Cadence: 92, Power: 210, Timestamp: start.Add(10 * time.Second)},
			{Lat: 39.9075, Lng: 116.3991, Alt: 55, Speed: 3.5, HeartRate: 160, Cadence: 95, Power: 220, Timestamp: start.Add(20 * time.Second)},
		},
		startTime:     start,
		totalDistance: 1234.5,
		totalDuration: 600,
		maxSpeed:      3.5,
		avgSpeed:      2.8,
	}
}

func TestGenerateXML(t *testing.T) {
	p := testProcessor()
	out, err := p.GenerateXML()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, "<version>5</version>")
	assert.Contains(t, out,
		"<track>39.906600,116.397100,50,9000,150,90,200,0,0;"+
			"39.907000,116.398000,52,10800,155,92,210,10,10;"+
			"39.907500,116.399100,55,12600,160,95,220,20,20;</track>")
	assert.Contains(t, out, "<trackTimeFrame>10</trackTimeFrame>")
	assert.Contains(t, out, "<duration>600</duration>")
	assert.Contains(t, out, "<distance>1234</distance>")
	assert.Contains(t, out, "<maxSpeed>12600</maxSpeed>")
	assert.Contains(t, out, "<avgSpeed>10080</avgSpeed>")
	assert.Contains(t, out, "<calories>0</calories>")
	assert.Contains(t, out, "<score>0</score>")
	assert.Contains(t, out, "<source>android</source>")
	assert.Contains(t, out, "<close>1700000001234</close>")
	assert.Contains(t, out, "<fingerPrint>27befa42c53f0047a69e048896b99bf3</fingerPrint>")
}

func TestGenerateXMLStartEndBlocks(t *testing.T) {
	p := testProcessor()
	out, err := p.GenerateXML()
	require.NoError(t, err)

	assert.Contains(t, out, "<lat>39.906600</lat>")
	assert.Contains(t, out, "<time>1700000000000</time>")
	assert.Contains(t, out, "<lat>39.907500</lat>")
	assert.Contains(t, out, "<time>1700000020000</time>")
	assert.Contains(t, out, "<height>50</height>")
	assert.Contains(t, out, "<height>55</height>")
}

func TestGenerateXMLWithoutPoints(t *testing.T) {
	p := &Processor{accountID: 42}
	out, err := p.GenerateXML()
	require.NoError(t, err)

	// falls back to the default position and an empty track
	assert.Contains(t, out, "<track></track>")
	assert.Contains(t, out, "<lat>39.000000</lat>")
	assert.Contains(t, out, "<lng>116.000000</lng>")
}

func TestStartTimeMillis(t *testing.T) {
	p := testProcessor()
	assert.Equal(t, int64(1700000000000), p.StartTimeMillis())

	// falls back to the first point when the session carries no start time
	p.startTime = time.Time{}
	assert.Equal(t, int64(1700000000000), p.StartTimeMillis())

	assert.Equal(t, int64(0), New(1).StartTimeMillis())
}
