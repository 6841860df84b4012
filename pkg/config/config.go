package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Settings holds every tunable of the uploader. Values come from built-in
// defaults, an optional .env file in the working directory, and the
// environment, in that order of precedence (lowest first).
type Settings struct {
	DataDir               string
	SessionFilename       string
	UploadHistoryFilename string

	BLEAddress string

	Username     string
	Password     string
	SyncInterval time.Duration

	BaseURL      string
	AppVersion   string
	ClientType   string
	ClientDetail string
	IMEI         string
	ChannelID    string
	UserAgent    string
	DeviceSN     string
	DeviceType   string

	LogLevel    string
	LogFileName string
}

// Load reads the settings and makes sure the data directory exists.
func Load() (*Settings, error) {
	v := viper.New()

	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("SESSION_FILENAME", ".session.json")
	v.SetDefault("UPLOAD_HISTORY_FILENAME", "uploaded_records.json")
	v.SetDefault("BLE_ADDRESS", "")
	v.SetDefault("BB_USERNAME", "")
	v.SetDefault("BB_PASSWORD", "")
	v.SetDefault("SYNC_INTERVAL", 300)
	v.SetDefault("BASE_URL", "https://client.blackbirdsport.com")
	v.SetDefault("APP_VERSION", "1.0.13")
	v.SetDefault("CLIENT_TYPE", "android")
	v.SetDefault("CLIENT_DETAIL", "Android 7.1.2; SM-G965N Build/N2G48H")
	v.SetDefault("IMEI", "123456789012345")
	v.SetDefault("CHANNEL_ID", "111")
	v.SetDefault("USER_AGENT", "Dalvik/2.1.0 (Linux; U; Android 7.1.2; SM-G965N Build/N2G48H)")
	v.SetDefault("DEVICE_SN", "BB16_2_00000000")
	v.SetDefault("DEVICE_TYPE", "BB16")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE_NAME", "app.log")

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read .env: %w", err)
			}
		}
	}
	v.AutomaticEnv()

	s := &Settings{
		DataDir:               v.GetString("DATA_DIR"),
		SessionFilename:       v.GetString("SESSION_FILENAME"),
		UploadHistoryFilename: v.GetString("UPLOAD_HISTORY_FILENAME"),
		BLEAddress:            v.GetString("BLE_ADDRESS"),
		Username:              v.GetString("BB_USERNAME"),
		Password:              v.GetString("BB_PASSWORD"),
		SyncInterval:          time.Duration(v.GetInt("SYNC_INTERVAL")) * time.Second,
		BaseURL:               v.GetString("BASE_URL"),
		AppVersion:            v.GetString("APP_VERSION"),
		ClientType:            v.GetString("CLIENT_TYPE"),
		ClientDetail:          v.GetString("CLIENT_DETAIL"),
		IMEI:                  v.GetString("IMEI"),
		ChannelID:             v.GetString("CHANNEL_ID"),
		UserAgent:             v.GetString("USER_AGENT"),
		DeviceSN:              v.GetString("DEVICE_SN"),
		DeviceType:            v.GetString("DEVICE_TYPE"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFileName:           v.GetString("LOG_FILE_NAME"),
	}

	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return s, nil
}

// SessionFile is the full path of the cached session.
func (s *Settings) SessionFile() string {
	return filepath.Join(s.DataDir, s.SessionFilename)
}

// UploadHistoryFile is the full path of the upload history.
func (s *Settings) UploadHistoryFile() string {
	return filepath.Join(s.DataDir, s.UploadHistoryFilename)
}

// LogFile is the full path of the log file, empty when file logging is
// disabled.
func (s *Settings) LogFile() string {
	if s.LogFileName == "" {
		return ""
	}
	return filepath.Join(s.DataDir, s.LogFileName)
}
