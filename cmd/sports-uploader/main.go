package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blackbird-tools/sports-uploader/pkg/auth"
	"github.com/blackbird-tools/sports-uploader/pkg/bb16"
	"github.com/blackbird-tools/sports-uploader/pkg/config"
	"github.com/blackbird-tools/sports-uploader/pkg/fitproc"
	"github.com/blackbird-tools/sports-uploader/pkg/uploader"
)

var settings *config.Settings

func setupLogging(s *config.Settings) error {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if path := s.LogFile(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return nil
}

func newAuthClient() *auth.Client {
	return auth.NewClient(settings.BaseURL, settings.UserAgent, settings.AppVersion,
		settings.ClientType, settings.ClientDetail, settings.IMEI, settings.ChannelID)
}

func main() {
	root := &cobra.Command{
		Use:           "sports-uploader",
		Short:         "Sync activity records from a BB16 device and upload them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if settings, err = config.Load(); err != nil {
				return err
			}
			return setupLogging(settings)
		},
	}

	root.AddCommand(newLoginCmd(), newInfoCmd(), newConvertCmd(), newUploadCmd(), newSyncCmd())

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newLoginCmd() *cobra.Command {
	var userID, password, ton string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login and cache the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAuthClient()
			cookies, accountID, usedTon, err := client.Authenticate(ton, userID, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			session := &auth.Session{
				Ton:       usedTon,
				UserID:    userID,
				Cookies:   cookies,
				AccountID: accountID,
			}
			if err := auth.SaveSession(settings.SessionFile(), session); err != nil {
				return err
			}
			fmt.Printf("Login successful! Session cached. Account ID: %s\n", accountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "Account user id (email)")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().StringVar(&ton, "ton", "", "Session token; retrieved automatically when empty")
	cmd.MarkFlagRequired("user-id")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show user info for the cached session",
		RunE: func(cmd *cobra.Command, args []string) error {
			session := auth.LoadSession(settings.SessionFile())
			if session == nil {
				return fmt.Errorf("no session found, please login first")
			}
			info, err := newAuthClient().GetUserInfo(session.Ton, session.AccountID, session.Cookies)
			if err != nil {
				return fmt.Errorf("failed to get info: %w", err)
			}
			fmt.Printf("User info: %v\n", info)
			return nil
		},
	}
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <file.fit>",
		Short: "Convert a FIT file to the upload XML and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// dummy account id, conversion only
			processor := fitproc.New(123456)
			if err := processor.ParseFile(args[0]); err != nil {
				return err
			}
			xmlContent, err := processor.GenerateXML()
			if err != nil {
				return err
			}
			fmt.Print(xmlContent)
			return nil
		},
	}
}

func newUploadCmd() *cobra.Command {
	var deviceType, sn string

	cmd := &cobra.Command{
		Use:   "upload <file.fit>",
		Short: "Convert and upload a single FIT file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session := auth.LoadSession(settings.SessionFile())
			if session == nil {
				return fmt.Errorf("no session found, please login first")
			}
			return processAndUpload(args[0], session, deviceType, sn)
		},
	}

	cmd.Flags().StringVar(&deviceType, "device-type", "", "Device type (defaults to settings)")
	cmd.Flags().StringVar(&sn, "sn", "", "Device serial number (defaults to settings)")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var deviceType, sn string
	var once bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download new records from the device and upload them",
		Long:  "Runs continuously unless --once is given: download via BLE, upload every record not yet in the history, sleep, repeat.",
		RunE: func(cmd *cobra.Command, args []string) error {
			for {
				if err := syncOnce(deviceType, sn); err != nil {
					log.Errorf("Sync failed: %v", err)
					if once {
						return err
					}
				} else if once {
					fmt.Println("Sync completed.")
					return nil
				}
				log.Infof("Sleeping for %s...", settings.SyncInterval)
				time.Sleep(settings.SyncInterval)
			}
		},
	}

	cmd.Flags().StringVar(&deviceType, "device-type", "", "Device type (defaults to settings)")
	cmd.Flags().StringVar(&sn, "sn", "", "Device serial number (defaults to settings)")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single sync iteration and exit")
	return cmd
}

// downloadFromDevice runs one full BLE session against the configured
// device and returns the newly downloaded record names.
func downloadFromDevice() ([]string, error) {
	if settings.BLEAddress == "" {
		return nil, fmt.Errorf("BLE_ADDRESS is not configured")
	}

	log.Infof("Connecting to device %s...", settings.BLEAddress)
	transport, err := bb16.Dial(settings.BLEAddress)
	if err != nil {
		return nil, err
	}

	client := bb16.NewClient(transport)
	if err := client.Open(); err != nil {
		transport.Disconnect()
		return nil, err
	}
	defer client.Close()

	return client.Sync(settings.DataDir)
}

func syncOnce(deviceType, sn string) error {
	if _, err := downloadFromDevice(); err != nil {
		return err
	}

	history := uploader.LoadHistory(settings.UploadHistoryFile())
	matches, err := filepath.Glob(filepath.Join(settings.DataDir, "*.fit"))
	if err != nil {
		return err
	}
	var newFiles []string
	for _, path := range matches {
		if !history.Contains(filepath.Base(path)) {
			newFiles = append(newFiles, path)
		}
	}
	log.Infof("Found %d new records.", len(newFiles))

	session, err := ensureSession()
	if err != nil {
		return err
	}

	for _, path := range newFiles {
		name := filepath.Base(path)
		log.Infof("Processing %s...", name)
		if err := processAndUpload(path, session, deviceType, sn); err != nil {
			log.Errorf("Error processing %s: %v", name, err)
			continue
		}
		history.Add(name)
		if err := history.Save(); err != nil {
			return err
		}
	}

	log.Info("Sync cycle completed.")
	return nil
}

// ensureSession loads the cached session, attempting an auto-login with
// the configured credentials when none exists.
func ensureSession() (*auth.Session, error) {
	if session := auth.LoadSession(settings.SessionFile()); session != nil {
		return session, nil
	}
	if settings.Username == "" || settings.Password == "" {
		return nil, errors.New("no session found, please login first")
	}

	log.Info("No active session found. Attempting auto-login...")
	cookies, accountID, ton, err := newAuthClient().Authenticate("", settings.Username, settings.Password)
	if err != nil {
		return nil, fmt.Errorf("auto-login failed: %w", err)
	}
	session := &auth.Session{
		Ton:       ton,
		UserID:    settings.Username,
		Cookies:   cookies,
		AccountID: accountID,
	}
	if err := auth.SaveSession(settings.SessionFile(), session); err != nil {
		return nil, err
	}
	log.Info("Auto-login successful.")
	return session, nil
}

func processAndUpload(path string, session *auth.Session, deviceType, sn string) error {
	accountID, err := strconv.ParseInt(session.AccountID, 10, 64)
	if err != nil {
		log.Warn("accountId is not an integer, using 0 for the fingerprint")
		accountID = 0
	}

	processor := fitproc.New(accountID)
	if err := processor.ParseFile(path); err != nil {
		return err
	}
	xmlContent, err := processor.GenerateXML()
	if err != nil {
		return err
	}

	recordID, fittime := uploader.RecordParams(processor.StartTimeMillis())
	zipData, err := uploader.CompressXML(xmlContent, recordID)
	if err != nil {
		return err
	}

	if deviceType == "" {
		deviceType = settings.DeviceType
	}
	if sn == "" {
		sn = settings.DeviceSN
	}

	up := uploader.New(settings.BaseURL, settings.UserAgent)
	return up.UploadRecord(zipData, session.Ton, recordID, fittime, deviceType, sn)
}
