package wa

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/status"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// ErrAlreadyPaired is returned when pairing is requested for a session
// that already holds device credentials.
var ErrAlreadyPaired = errors.New("session already paired")

// Adapter owns the whatsmeow client of one session. Device credentials live
// in their own sqlite database, separate from the chat store; the adapter
// never writes chats or messages.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewAdapter opens the device store at devicePath and builds a client for
// its first device. b receives pairing events and may be nil.
func NewAdapter(ctx context.Context, devicePath string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Name shown in the phone's linked devices list.
	wastore.SetOSInfo("wppsync", [3]uint32{0, 1, 0})

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", devicePath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, nil)
	client.EnableAutoReconnect = true
	return &Adapter{client: client, container: container, bus: b, logger: logger}, nil
}

// Paired reports whether the device store holds credentials.
func (a *Adapter) Paired() bool {
	return a.client.Store.ID != nil
}

// PhoneNumber returns the paired account's number, or "".
func (a *Adapter) PhoneNumber() string {
	if id := a.client.Store.ID; id != nil {
		return id.User
	}
	return ""
}

func (a *Adapter) connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Attach registers h and connects when the session is paired. An unpaired
// session moves the machine to AuthRequired and waits for wppsyncctl pair.
func (a *Adapter) Attach(h *EventHandler) error {
	a.client.AddEventHandler(h.Handle)
	if !a.Paired() {
		a.logger.Warn("whatsapp session not paired")
		return h.machine.Transition(status.AuthRequired)
	}
	if err := h.machine.Transition(status.Connecting); err != nil {
		return err
	}
	return a.connect()
}

// Disconnect closes the connection and the device store.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
	if err := a.container.Close(); err != nil {
		a.logger.Warn("close device store", zap.Error(err))
	}
}

// ResolveLID maps a hidden-user address to its phone-number address using
// the device store's mapping table. Other addresses, and LIDs without a
// known mapping, are returned unchanged.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
