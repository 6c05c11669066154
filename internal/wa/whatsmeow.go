package wa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

// eventBuffer is the per-session event channel capacity. The manager's
// event loop drains continuously; the buffer only absorbs short bursts.
const eventBuffer = 256

// MeowTransport implements Transport on top of whatsmeow. Each instance
// owns one sqlite credential container under the sessions directory.
type MeowTransport struct {
	sessionsDir string
	deviceName  string
}

// NewMeowTransport creates a transport persisting credentials under dir.
func NewMeowTransport(dir string) (*MeowTransport, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &MeowTransport{sessionsDir: dir, deviceName: "wagate"}, nil
}

func (t *MeowTransport) dbPath(instanceID string) string {
	return filepath.Join(t.sessionsDir, instanceID+".db")
}

// Wipe deletes the persisted credential database for an instance.
func (t *MeowTransport) Wipe(instanceID string) error {
	base := t.dbPath(instanceID)
	var firstErr error
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("wipe auth state for %s: %w", instanceID, firstErr)
	}
	slog.Info("auth state wiped", "instance", instanceID)
	return nil
}

// Open loads the instance's credential container and dials a session.
func (t *MeowTransport) Open(ctx context.Context, instanceID string, fresh bool) (Session, error) {
	if fresh {
		if err := t.Wipe(instanceID); err != nil {
			return nil, err
		}
	}

	dbLog := waLog.Stdout("wa/db/"+instanceID, "WARN", true)
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", t.dbPath(instanceID))
	container, err := sqlstore.New(ctx, "sqlite", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("open credential store for %s: %w", instanceID, err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device for %s: %w", instanceID, err)
	}

	cli := whatsmeow.NewClient(device, waLog.Stdout("wa/"+instanceID, "WARN", true))
	// Reconnection policy belongs to the connection manager.
	cli.EnableAutoReconnect = false

	s := &meowSession{
		instanceID: instanceID,
		cli:        cli,
		container:  container,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
	}
	cli.AddEventHandler(s.handleEvent)

	if device.ID == nil {
		// Unauthenticated: pump pairing codes before connecting. The QR
		// channel must outlive the caller's context; it runs until the
		// session closes.
		qrCtx, qrCancel := context.WithCancel(context.Background())
		s.qrCancel = qrCancel
		qrChan, qrErr := cli.GetQRChannel(qrCtx)
		if qrErr != nil {
			slog.Warn("qr channel unavailable", "instance", instanceID, "error", qrErr)
			qrCancel()
			s.qrCancel = nil
		} else {
			go s.pumpQR(qrChan)
		}
	}

	if err := cli.Connect(); err != nil {
		container.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", core.ErrTransportUnavailable, instanceID, err)
	}
	return s, nil
}

type meowSession struct {
	instanceID string
	cli        *whatsmeow.Client
	container  *sqlstore.Container
	events     chan Event
	done       chan struct{}
	qrCancel   context.CancelFunc
	closeOnce  sync.Once
}

func (s *meowSession) Events() <-chan Event { return s.events }

func (s *meowSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *meowSession) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if item.Event == whatsmeow.QRChannelEventCode {
			s.emit(Event{Kind: EventPairingCode, PairingCode: item.Code})
		}
	}
}

func (s *meowSession) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		s.emit(Event{Kind: EventOpened})
	case *events.LoggedOut:
		s.emit(Event{Kind: EventClosed, LoggedOut: true, StatusCode: int(v.Reason)})
	case *events.StreamReplaced:
		s.emit(Event{Kind: EventClosed})
	case *events.ConnectFailure:
		s.emit(Event{Kind: EventClosed, StatusCode: int(v.Reason)})
	case *events.Disconnected:
		s.emit(Event{Kind: EventClosed})
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		text := v.Message.GetConversation()
		if text == "" {
			text = v.Message.GetExtendedTextMessage().GetText()
		}
		s.emit(Event{
			Kind:      EventMessage,
			SenderJID: v.Info.Sender.ToNonAD().String(),
			Text:      text,
		})
	}
}

func (s *meowSession) Send(ctx context.Context, jid string, msg Outbound) error {
	target, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("parse jid %q: %w", jid, err)
	}

	var content *waE2E.Message
	switch msg.Kind {
	case core.KindImage:
		uploaded, err := s.cli.Upload(ctx, msg.ImageData, whatsmeow.MediaImage)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		content = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(msg.Caption),
			Mimetype:      proto.String(msg.MimeType),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}}
	default:
		content = &waE2E.Message{Conversation: proto.String(msg.Text)}
	}

	if _, err := s.cli.SendMessage(ctx, target, content); err != nil {
		return err
	}
	return nil
}

func (s *meowSession) Lookup(ctx context.Context, digits string) (Lookup, error) {
	resp, err := s.cli.IsOnWhatsApp(ctx, []string{"+" + digits})
	if err != nil {
		return Lookup{}, fmt.Errorf("lookup %s: %w", digits, err)
	}
	if len(resp) == 0 || !resp[0].IsIn || resp[0].JID.IsEmpty() {
		return Lookup{Exists: false}, nil
	}
	return Lookup{Exists: true, JID: resp[0].JID.ToNonAD().String()}, nil
}

func (s *meowSession) SignOut(ctx context.Context) error {
	return s.cli.Logout(ctx)
}

func (s *meowSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.qrCancel != nil {
			s.qrCancel()
		}
		if s.cli != nil {
			s.cli.Disconnect()
		}
		if s.container != nil {
			err = s.container.Close()
		}
	})
	return err
}

func (s *meowSession) ConnectedUser() (string, bool) {
	id := s.cli.Store.ID
	if id == nil {
		return "", false
	}
	return id.ToNonAD().String(), true
}
