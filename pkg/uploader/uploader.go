package uploader

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

// CompressXML packs the record XML into a zip archive named after the
// record id, the only layout the server accepts.
func CompressXML(xmlContent, recordID string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(fmt.Sprintf("sportRecord_%s.xml", recordID))
	if err != nil {
		return nil, fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := w.Write([]byte(xmlContent)); err != nil {
		return nil, fmt.Errorf("failed to write zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Uploader posts compressed records to the server.
type Uploader struct {
	BaseURL   string
	UserAgent string

	HTTP *http.Client
}

// New builds an uploader with the default upload timeout.
func New(baseURL, userAgent string) *Uploader {
	return &Uploader{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

// UploadRecord sends one compressed record. The server answers with a
// status document; anything but "ok" is a failure.
func (u *Uploader) UploadRecord(zipData []byte, ton, recordID, fittime, deviceType, sn string) error {
	log.Infof("Uploading record %s (fittime=%s)", recordID, fittime)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="RecordFile"; filename="sportRecord_%s.zip"`, recordID))
	header.Set("Content-Type", "application/zip")
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(zipData); err != nil {
		return fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build upload body: %w", err)
	}

	params := url.Values{
		"ton":           {ton},
		"deviceType":    {deviceType},
		"sn":            {sn},
		"fittime":       {fittime},
		"localRecordId": {recordID},
	}

	req, err := http.NewRequest(http.MethodPost, u.BaseURL+"/bk_uploadRecord?"+params.Encode(), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", u.UserAgent)

	resp, err := u.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("network error during upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload failed: status %s", resp.Status)
	}

	var result struct {
		Status string `json:"status"`
		Msg    string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("bad upload response: %w", err)
	}
	if result.Status != "ok" {
		return fmt.Errorf("upload failed: %s", result.Msg)
	}

	log.Infof("Upload successful for record %s", recordID)
	return nil
}
