package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"wadispatch/internal/security"
	"wadispatch/pkg/constants"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"

	_ "github.com/mattn/go-sqlite3"
)

// Factory creates whatsmeow clients that keep each session's credentials in
// <sessionsDir>/<sessionID>.db.
type Factory struct {
	sessionsDir string
	logger      *logrus.Logger
}

var _ types.ClientFactory = (*Factory)(nil)

func NewFactory(sessionsDir string, logger *logrus.Logger) (*Factory, error) {
	if err := security.ValidateFilePath(sessionsDir); err != nil {
		return nil, fmt.Errorf("invalid sessions directory: %w", err)
	}
	if err := os.MkdirAll(sessionsDir, constants.DefaultDirectoryPermissions); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &Factory{sessionsDir: sessionsDir, logger: logger}, nil
}

func (f *Factory) credentialPath(sessionID string) (string, error) {
	return security.JoinWithinBase(f.sessionsDir, sessionID+constants.CredentialFileSuffix)
}

// NewClient opens (or creates) the session's credential store and wraps a
// whatsmeow client around its device. Auto-reconnect is off: a dropped
// connection is reported as a disconnect and left to the caller.
func (f *Factory) NewClient(ctx context.Context, sessionID string, onEvent types.EventHandler) (types.Client, error) {
	path, err := f.credentialPath(sessionID)
	if err != nil {
		return nil, err
	}

	waLogger := newLogrusLogger(f.logger, sessionID)
	address := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	container, err := sqlstore.New(ctx, constants.SQLiteDialect, address, waLogger.Sub("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to load device from credential store: %w", err)
	}

	wa := whatsmeow.NewClient(device, waLogger.Sub("client"))
	wa.EnableAutoReconnect = false

	clientCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		sessionID: sessionID,
		wa:        wa,
		container: container,
		onEvent:   onEvent,
		logger:    f.logger,
		ctx:       clientCtx,
		cancel:    cancel,
	}, nil
}

// RemoveCredentials deletes the session's credential database and its
// SQLite companion files. Missing files are not an error.
func (f *Factory) RemoveCredentials(sessionID string) error {
	path, err := f.credentialPath(sessionID)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range append([]string{path}, sidecars(path)...) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasCredentials reports whether a credential database exists for the session.
func (f *Factory) HasCredentials(sessionID string) bool {
	path, err := f.credentialPath(sessionID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func sidecars(path string) []string {
	out := make([]string, 0, len(constants.CredentialSidecarSuffixes))
	for _, suffix := range constants.CredentialSidecarSuffixes {
		out = append(out, path+suffix)
	}
	return out
}
