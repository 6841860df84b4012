package uploader

import (
	"strconv"
	"time"
)

// The server's record ids are rendered in Beijing time, and fittime counts
// seconds since the FIT epoch (1989-12-31 UTC) shifted to UTC+8.
var beijingTZ = time.FixedZone("CST", 8*3600)

const (
	beijingOffsetMillis = 28800000
	fitEpochMillis      = 631065600000
)

// RecordParams derives the server's localRecordId and fittime from a
// record start time in Unix milliseconds.
func RecordParams(startMillis int64) (recordID, fittime string) {
	recordID = time.UnixMilli(startMillis).In(beijingTZ).Format("20060102150405")
	fittime = strconv.FormatInt((startMillis+beijingOffsetMillis-fitEpochMillis)/1000, 10)
	return recordID, fittime
}
