package bb16

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// auxiliaryFiles are fetched best-effort after the record sync. Partial
// devices may lack any of them.
var auxiliaryFiles = []string{
	"Setting.json",
	"debug_info.txt",
	"SensorDevice.txt",
	"SensorSearch.txt",
}

// Client drives a BB16 session over the three common-service
// characteristics: GET for control, POST for commands, PUSH for streamed
// data.
type Client struct {
	transport Transport

	get  *PacketStream
	post *PacketStream
	push *PacketStream

	// session parameters from the device-info handshake
	FileTransSize FileTransSize
	BleMTU        int32
}

// NewClient wraps an established transport.
func NewClient(t Transport) *Client {
	return &Client{transport: t}
}

// Open subscribes the three packet streams. On failure, streams opened so
// far are closed again in reverse order.
func (c *Client) Open() error {
	var err error
	if c.get, err = OpenStream(c.transport, UUIDCommonGet); err != nil {
		return err
	}
	if c.push, err = OpenStream(c.transport, UUIDCommonPush); err != nil {
		c.get.Close()
		c.get = nil
		return err
	}
	if c.post, err = OpenStream(c.transport, UUIDCommonPost); err != nil {
		c.push.Close()
		c.get.Close()
		c.push, c.get = nil, nil
		return err
	}
	return nil
}

// Close tears the streams down in reverse open order, then disconnects the
// transport. Safe to call after a partial Open.
func (c *Client) Close() error {
	var firstErr error
	for _, s := range []*PacketStream{c.post, c.push, c.get} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.post, c.push, c.get = nil, nil, nil
	if err := c.transport.Disconnect(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Handshake runs the fixed session setup: device info, then file status.
func (c *Client) Handshake() error {
	if err := c.get.Write(&GetDeviceInfoRequest{}); err != nil {
		return err
	}
	msg, err := c.get.Read(DefaultReadTimeout)
	if err != nil {
		return err
	}
	info, ok := msg.(*GetDeviceInfoResponse)
	if !ok {
		return &ProtocolError{
			Kind:   ViolationUnknownMessage,
			Detail: fmt.Sprintf("expected device info response, got %T", msg),
		}
	}
	c.FileTransSize = info.FileTransSize
	c.BleMTU = info.BleMTU
	log.Infof("Device info: type=%d hw=%s sw=%s sn=%s proto=%s mtu=%d chunk=%d",
		info.DevType, info.HardwareVersion, info.SoftwareVersion,
		info.SerialNumber, info.ProtocolVersion, info.BleMTU, info.FileTransSize.Bytes())

	if err := c.get.Write(&GetFileStatus{}); err != nil {
		return err
	}
	msg, err = c.get.Read(DefaultReadTimeout)
	if err != nil {
		return err
	}
	if _, ok := msg.(*GetFileStatusResponse); !ok {
		return &ProtocolError{
			Kind:   ViolationUnknownMessage,
			Detail: fmt.Sprintf("expected file status response, got %T", msg),
		}
	}
	return nil
}

// DownloadFile pulls one file off the device. ErrAbsent when the device
// does not have it.
func (c *Client) DownloadFile(filename string) ([]byte, error) {
	log.Infof("Downloading %s...", filename)
	if err := c.get.Write(&GetFile{Filename: filename}); err != nil {
		return nil, err
	}

	msg, err := c.get.Read(DefaultReadTimeout)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*GetFileResponse)
	if !ok {
		return nil, &ProtocolError{
			Kind:   ViolationUnknownMessage,
			Detail: fmt.Sprintf("expected get file response, got %T", msg),
		}
	}
	if !resp.Exist {
		return nil, ErrAbsent
	}

	msg, err = c.push.Read(DefaultReadTimeout)
	if err != nil {
		return nil, err
	}
	info, ok := msg.(*FileInfo)
	if !ok {
		return nil, &ProtocolError{
			Kind:   ViolationUnknownMessage,
			Detail: fmt.Sprintf("expected file info, got %T", msg),
		}
	}
	if info.Filename != filename {
		return nil, &ProtocolError{
			Kind:   ViolationFileNameSkew,
			Detail: fmt.Sprintf("requested %q, device announced %q", filename, info.Filename),
		}
	}

	var data []byte
	var fragSeq byte
	for {
		msg, err = c.push.Read(DefaultReadTimeout)
		if err != nil {
			return nil, err
		}
		frag, ok := msg.(*ReceiveFile)
		if !ok {
			return nil, &ProtocolError{
				Kind:   ViolationUnknownMessage,
				Detail: fmt.Sprintf("expected file fragment, got %T", msg),
			}
		}
		// The embedded fragment counter is advisory; the stream sid is
		// the authoritative ordering.
		if frag.Seq != fragSeq {
			log.Warnf("Fragment counter skew on %s: expected %d, got %d", filename, fragSeq, frag.Seq)
		}
		fragSeq++

		data = append(data, frag.Data...)
		if len(data) > int(info.Size) {
			return nil, &ProtocolError{
				Kind:   ViolationOverrun,
				Detail: fmt.Sprintf("%s: received %d bytes, announced %d", filename, len(data), info.Size),
			}
		}
		log.Debugf("Downloaded %s... %d / %d", filename, len(data), info.Size)

		if frag.Flag == FlagLast || frag.Flag == FlagSingle {
			break
		}
	}

	if len(data) != int(info.Size) {
		return nil, &ProtocolError{
			Kind:   ViolationSizeMismatch,
			Detail: fmt.Sprintf("%s: received %d bytes, announced %d", filename, len(data), info.Size),
		}
	}
	return data, nil
}

// DownloadRecords fetches filelist.txt and every listed record that is not
// already on disk with the listed size. Returns the names downloaded.
func (c *Client) DownloadRecords(saveDir string) ([]string, error) {
	data, err := c.DownloadFile("filelist.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to download file listing: %w", err)
	}
	if err := saveFile(saveDir, "filelist.txt", data); err != nil {
		return nil, err
	}

	var downloaded []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, sizeStr, ok := strings.Cut(line, " ")
		if !ok {
			return downloaded, fmt.Errorf("malformed file listing line %q", line)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return downloaded, fmt.Errorf("malformed size in file listing line %q: %w", line, err)
		}

		if st, err := os.Stat(filepath.Join(saveDir, name)); err == nil && st.Size() == size {
			log.Warnf("File %s (%d bytes) already exists, skipping...", name, size)
			continue
		}

		fileData, err := c.DownloadFile(name)
		if err != nil {
			return downloaded, err
		}
		if err := saveFile(saveDir, name, fileData); err != nil {
			return downloaded, err
		}
		downloaded = append(downloaded, name)
	}
	return downloaded, nil
}

// Sync runs the handshake, downloads all new records into saveDir, then
// fetches the auxiliary files best-effort. Returns the new record names.
func (c *Client) Sync(saveDir string) ([]string, error) {
	if err := c.Handshake(); err != nil {
		return nil, err
	}

	records, err := c.DownloadRecords(saveDir)
	if err != nil {
		return nil, err
	}

	for _, name := range auxiliaryFiles {
		data, err := c.DownloadFile(name)
		if err != nil {
			log.Warnf("Auxiliary file %s: %v", name, err)
			continue
		}
		if err := saveFile(saveDir, name, data); err != nil {
			log.Warnf("Saving auxiliary file %s: %v", name, err)
		}
	}
	return records, nil
}

// saveFile writes atomically: tempfile in the target directory, then
// rename. Partial files never land under their final name.
func saveFile(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename %s into place: %w", name, err)
	}
	return nil
}
